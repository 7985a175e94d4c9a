package sqlstore

import (
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestModelUpsertGetListDelete(t *testing.T) {
	db := openTestDB(t)

	m := domain.Model{
		ModelID:    "local:tinyllama",
		Name:       "tinyllama",
		Modality:   domain.ModalityText,
		Provider:   "local",
		Status:     domain.ModelAvailable,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}
	if err := db.UpsertModel(m); err != nil {
		t.Fatalf("UpsertModel: %v", err)
	}

	got, err := db.GetModel(m.ModelID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Name != m.Name || got.Status != m.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	list, err := db.ListModels(domain.ModalityText)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListModels: %v, %d", err, len(list))
	}

	if err := db.DeleteModel(m.ModelID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if _, err := db.GetModel(m.ModelID); err != domain.ErrModelNotFound {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestDefaultModelIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.SetDefaultModel(domain.ModalityText, "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetDefaultModel(domain.ModalityText, "b"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.DefaultModel(domain.ModalityText)
	if err != nil || !ok || got != "b" {
		t.Fatalf("expected default to be replaced with b, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestAppendTurnSequenceIsDenseAndReset(t *testing.T) {
	db := openTestDB(t)
	sess := domain.Session{SessionID: "s1", Status: domain.SessionActive, CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := db.UpsertSession(sess); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		seq, err := db.AppendTurn(sess.SessionID, domain.Turn{ID: "t", Modality: domain.ModalityText, CreatedAt: time.Now()})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
		if seq != i+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, seq)
		}
	}

	turns, err := db.ListTurns(sess.SessionID)
	if err != nil || len(turns) != 3 {
		t.Fatalf("ListTurns: %v, %d", err, len(turns))
	}

	if err := db.ResetTurns(sess.SessionID); err != nil {
		t.Fatal(err)
	}
	turns, err = db.ListTurns(sess.SessionID)
	if err != nil || len(turns) != 0 {
		t.Fatalf("expected no turns after reset, got %d", len(turns))
	}
}

func TestInviteRedeemOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertInvite(domain.InviteToken{Token: "abc", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.RedeemInvite("abc", "user1", time.Now().Unix()); err != nil {
		t.Fatalf("first redeem should succeed: %v", err)
	}
	if err := db.RedeemInvite("abc", "user2", time.Now().Unix()); err != domain.ErrInviteInvalid {
		t.Fatalf("second redeem should fail with ErrInviteInvalid, got %v", err)
	}
}
