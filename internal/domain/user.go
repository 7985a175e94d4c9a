package domain

import "time"

// User is a tenant of the gateway, authenticated via a bearer token.
type User struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserToken is a bearer credential minted for a user.
type UserToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// InviteToken gates user creation: a single-use code that, when redeemed,
// creates exactly one user and is then consumed.
type InviteToken struct {
	Token      string     `json:"token"`
	CreatedAt  time.Time  `json:"created_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy string     `json:"redeemed_by,omitempty"`
}

// Redeemed reports whether the invite has already been used.
func (i InviteToken) Redeemed() bool { return i.RedeemedAt != nil }
