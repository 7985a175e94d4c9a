// Package sessions implements the append-only conversation store: turn
// sequencing, auto-titling, reset, close, and the delete-then-replay
// shape regenerate needs. Persistence itself lives in sqlstore; this
// package owns the business rules.
package sessions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

// Store owns sessions and their turns.
type Store struct {
	db *sqlstore.DB
}

// New creates a session store backed by db.
func New(db *sqlstore.DB) *Store {
	return &Store{db: db}
}

// Create starts a new active session with no title.
func (s *Store) Create() (domain.Session, error) {
	now := time.Now()
	sess := domain.Session{
		SessionID: uuid.NewString(), Status: domain.SessionActive,
		CreatedAt: now, LastUsedAt: now,
	}
	if err := s.db.UpsertSession(sess); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get fetches a session by id.
func (s *Store) Get(sessionID string) (domain.Session, error) {
	return s.db.GetSession(sessionID)
}

// List returns every session, most recently used first.
func (s *Store) List() ([]domain.Session, error) {
	return s.db.ListSessions()
}

// Messages returns every turn of a session in sequence order.
func (s *Store) Messages(sessionID string) ([]domain.Turn, error) {
	return s.db.ListTurns(sessionID)
}

// AppendTurn assigns the next sequence number and persists a turn. On
// sequence=1 with no title yet and a non-empty text prompt, it
// auto-titles the session: the first 47 characters plus "..." if the
// prompt is longer than 50 characters, else the prompt verbatim. Closed
// sessions reject new turns.
func (s *Store) AppendTurn(sessionID string, modality domain.Modality, input domain.GenerateInput, output domain.GenerateOutput, stateTokens map[string]any) (domain.Turn, error) {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return domain.Turn{}, err
	}
	if sess.Status == domain.SessionClosed {
		return domain.Turn{}, domain.ErrSessionClosed
	}

	turn := domain.Turn{
		ID: uuid.NewString(), SessionID: sessionID, Modality: modality,
		Input: input, Output: output, StateTokens: stateTokens, CreatedAt: time.Now(),
	}
	seq, err := s.db.AppendTurn(sessionID, turn)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	turn.Sequence = seq

	if seq == 1 && sess.Title == "" && input.Prompt != "" {
		sess.Title = autoTitle(input.Prompt)
	}
	sess.LastUsedAt = turn.CreatedAt
	sess.StateTokens = stateTokens
	if err := s.db.UpsertSession(sess); err != nil {
		return domain.Turn{}, fmt.Errorf("update session after append: %w", err)
	}
	return turn, nil
}

func autoTitle(prompt string) string {
	if r := []rune(prompt); len(r) > 50 {
		return string(r[:47]) + "..."
	}
	return prompt
}

// Reset deletes every turn of a session and clears state_tokens.
func (s *Store) Reset(sessionID string) error {
	if _, err := s.db.GetSession(sessionID); err != nil {
		return err
	}
	return s.db.ResetTurns(sessionID)
}

// Close flips a session to closed; it remains readable but refuses new
// turns and regenerate.
func (s *Store) Close(sessionID string) error {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return err
	}
	sess.Status = domain.SessionClosed
	return s.db.UpsertSession(sess)
}

// Delete removes a session and all its turns permanently.
func (s *Store) Delete(sessionID string) error {
	return s.db.DeleteSession(sessionID)
}

// PrepareRegenerate validates that a session can be regenerated and
// returns the last user turn's input and modality, after deleting the
// highest-sequence turn. The caller re-enters the selector/orchestrator
// with the returned input and re-appends the fresh result, keeping the
// same modality.
func (s *Store) PrepareRegenerate(sessionID string) (modality domain.Modality, input domain.GenerateInput, err error) {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return "", domain.GenerateInput{}, err
	}
	if sess.Status == domain.SessionClosed {
		return "", domain.GenerateInput{}, domain.ErrSessionClosed
	}
	turns, err := s.db.ListTurns(sessionID)
	if err != nil {
		return "", domain.GenerateInput{}, err
	}
	if len(turns) == 0 {
		return "", domain.GenerateInput{}, domain.ErrNoTurns
	}
	last := turns[len(turns)-1]
	if err := s.db.DeleteLastTurn(sessionID); err != nil {
		return "", domain.GenerateInput{}, fmt.Errorf("delete last turn: %w", err)
	}
	return last.Modality, last.Input, nil
}
