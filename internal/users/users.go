// Package users manages tenants: invite-token gated account creation,
// bearer token minting, and per-user provider credential storage. It
// wraps sqlstore's user tables with the envelope encryption from
// internal/security, so callers never see ciphertext or nonces.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/security"
)

// Manager owns user accounts, bearer tokens, invites, and credentials.
type Manager struct {
	db  *sqlstore.DB
	box *security.Box
}

// New creates a user manager. box encrypts/decrypts provider credentials
// at rest.
func New(db *sqlstore.DB, box *security.Box) *Manager {
	return &Manager{db: db, box: box}
}

// CreateInvite mints a new single-use invite token.
func (m *Manager) CreateInvite() (domain.InviteToken, error) {
	inv := domain.InviteToken{Token: uuid.NewString(), CreatedAt: time.Now()}
	if err := m.db.InsertInvite(inv); err != nil {
		return domain.InviteToken{}, fmt.Errorf("create invite: %w", err)
	}
	return inv, nil
}

// Redeem consumes an invite token and creates exactly one user plus an
// initial bearer token. The invite row is consumed first; a crash
// between the two writes loses the invite, never duplicates a user.
func (m *Manager) Redeem(token, name string) (domain.User, domain.UserToken, error) {
	u := domain.User{UserID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	if err := m.db.RedeemInvite(token, u.UserID, u.CreatedAt.Unix()); err != nil {
		return domain.User{}, domain.UserToken{}, err
	}
	if err := m.db.InsertUser(u); err != nil {
		return domain.User{}, domain.UserToken{}, fmt.Errorf("create user: %w", err)
	}
	tok, err := m.MintToken(u.UserID)
	if err != nil {
		return domain.User{}, domain.UserToken{}, err
	}
	return u, tok, nil
}

// MintToken issues an additional bearer token for an existing user.
func (m *Manager) MintToken(userID string) (domain.UserToken, error) {
	tok := domain.UserToken{Token: uuid.NewString(), UserID: userID, CreatedAt: time.Now()}
	if err := m.db.InsertToken(tok); err != nil {
		return domain.UserToken{}, fmt.Errorf("mint token: %w", err)
	}
	return tok, nil
}

// Authenticate resolves a bearer token to its owning user id.
func (m *Manager) Authenticate(token string) (string, error) {
	return m.db.UserIDForToken(token)
}

// Get fetches a user by id.
func (m *Manager) Get(userID string) (domain.User, error) {
	return m.db.GetUser(userID)
}

// SetCredential encrypts and stores a provider credential for a user.
func (m *Manager) SetCredential(userID, provider string, payload map[string]any) error {
	if m.box == nil {
		return fmt.Errorf("credential storage disabled: [security] credential_secret is not configured")
	}
	ciphertext, nonce, err := m.box.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	return m.db.UpsertProviderCredential(userID, provider, ciphertext, nonce, time.Now().Unix())
}

// Credential decrypts and returns a user's stored provider credential.
// Returns domain.ErrCredentialMissing if none is configured.
func (m *Manager) Credential(userID, provider string) (*domain.ProviderCredential, error) {
	if m.box == nil {
		return nil, domain.ErrCredentialMissing
	}
	ciphertext, nonce, err := m.db.GetProviderCredential(userID, provider)
	if err != nil {
		return nil, err
	}
	payload, err := m.box.Open(ciphertext, nonce)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderCredential{UserID: userID, Provider: provider, Payload: payload, UpdatedAt: time.Now()}, nil
}

// DeleteCredential removes a user's stored provider credential.
func (m *Manager) DeleteCredential(userID, provider string) error {
	return m.db.DeleteProviderCredential(userID, provider)
}

// ListProviders returns which providers a user has configured credentials
// for, never the credentials themselves.
func (m *Manager) ListProviders(userID string) ([]string, error) {
	return m.db.ListProviderCredentials(userID)
}

// Lookup adapts Manager.Credential to the selector.CredentialLookup shape.
func (m *Manager) Lookup(_ context.Context, userID, provider string) (*domain.ProviderCredential, error) {
	return m.Credential(userID, provider)
}
