package domain

import "time"

// SessionStatus is whether a session still accepts new turns.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is an append-only conversation. Turns are owned by the session
// store and referenced by sequence, never mutated in place.
type Session struct {
	SessionID   string         `json:"session_id"`
	Status      SessionStatus  `json:"status"`
	Title       string         `json:"title,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUsedAt  time.Time      `json:"last_used_at"`
	StateTokens map[string]any `json:"state_tokens,omitempty"`
}

// Turn is one append-only message pair within a session. Sequence is
// strictly increasing and dense starting at 1 within its session.
type Turn struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"-"`
	Sequence    int            `json:"sequence"`
	Modality    Modality       `json:"modality"`
	Input       GenerateInput  `json:"input"`
	Output      GenerateOutput `json:"output"`
	StateTokens map[string]any `json:"state_tokens,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
