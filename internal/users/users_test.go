package users

import (
	"testing"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/security"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	box, err := security.NewBox("test-secret")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return New(db, box)
}

func TestRedeemInviteCreatesUserAndToken(t *testing.T) {
	m := newManager(t)
	inv, err := m.CreateInvite()
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	u, tok, err := m.Redeem(inv.Token, "alice")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if u.Name != "alice" {
		t.Errorf("name = %q, want alice", u.Name)
	}
	gotUserID, err := m.Authenticate(tok.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if gotUserID != u.UserID {
		t.Errorf("authenticate resolved %q, want %q", gotUserID, u.UserID)
	}
}

func TestRedeemInviteTwiceFails(t *testing.T) {
	m := newManager(t)
	inv, _ := m.CreateInvite()
	if _, _, err := m.Redeem(inv.Token, "alice"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, _, err := m.Redeem(inv.Token, "bob"); err != domain.ErrInviteInvalid {
		t.Fatalf("err = %v, want ErrInviteInvalid", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	m := newManager(t)
	inv, _ := m.CreateInvite()
	u, _, _ := m.Redeem(inv.Token, "alice")

	payload := map[string]any{"api_key": "sk-test-123"}
	if err := m.SetCredential(u.UserID, "openai", payload); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	cred, err := m.Credential(u.UserID, "openai")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if cred.Payload["api_key"] != "sk-test-123" {
		t.Errorf("payload api_key = %v, want sk-test-123", cred.Payload["api_key"])
	}

	if err := m.DeleteCredential(u.UserID, "openai"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if _, err := m.Credential(u.UserID, "openai"); err != domain.ErrCredentialMissing {
		t.Fatalf("err = %v, want ErrCredentialMissing after delete", err)
	}
}

func TestAuthenticateUnknownTokenFails(t *testing.T) {
	m := newManager(t)
	if _, err := m.Authenticate("does-not-exist"); err != domain.ErrAuth {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}
