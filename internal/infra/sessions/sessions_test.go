package sessions

import (
	"testing"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestAppendTurnAutoTitles(t *testing.T) {
	s := newStore(t)
	sess, err := s.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	turn, err := s.AppendTurn(sess.SessionID, domain.ModalityText,
		domain.GenerateInput{Prompt: "hello there"}, domain.GenerateOutput{Text: "hi"}, nil)
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if turn.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", turn.Sequence)
	}

	got, err := s.Get(sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "hello there" {
		t.Errorf("title = %q, want %q", got.Title, "hello there")
	}
}

func TestAppendTurnLongPromptTruncatesTitle(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()
	long := "this is a very long prompt that definitely exceeds fifty characters in length"
	if _, err := s.AppendTurn(sess.SessionID, domain.ModalityText, domain.GenerateInput{Prompt: long}, domain.GenerateOutput{}, nil); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	got, _ := s.Get(sess.SessionID)
	want := long[:47] + "..."
	if got.Title != want {
		t.Errorf("title = %q, want %q", got.Title, want)
	}
}

func TestAppendTurnRejectsClosedSession(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()
	if err := s.Close(sess.SessionID); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := s.AppendTurn(sess.SessionID, domain.ModalityText, domain.GenerateInput{Prompt: "x"}, domain.GenerateOutput{}, nil)
	if err != domain.ErrSessionClosed {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestResetClearsTurns(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()
	s.AppendTurn(sess.SessionID, domain.ModalityText, domain.GenerateInput{Prompt: "a"}, domain.GenerateOutput{}, nil)
	if err := s.Reset(sess.SessionID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	turns, err := s.Messages(sess.SessionID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected 0 turns after reset, got %d", len(turns))
	}
}

func TestPrepareRegenerateDeletesLastTurn(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()
	s.AppendTurn(sess.SessionID, domain.ModalityText, domain.GenerateInput{Prompt: "first"}, domain.GenerateOutput{}, nil)
	s.AppendTurn(sess.SessionID, domain.ModalityText, domain.GenerateInput{Prompt: "second"}, domain.GenerateOutput{}, nil)

	_, input, err := s.PrepareRegenerate(sess.SessionID)
	if err != nil {
		t.Fatalf("prepare regenerate: %v", err)
	}
	if input.Prompt != "second" {
		t.Errorf("input.Prompt = %q, want second", input.Prompt)
	}

	turns, _ := s.Messages(sess.SessionID)
	if len(turns) != 1 {
		t.Fatalf("expected 1 remaining turn, got %d", len(turns))
	}
}

func TestPrepareRegenerateRejectsEmptySession(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()
	if _, _, err := s.PrepareRegenerate(sess.SessionID); err != domain.ErrNoTurns {
		t.Fatalf("err = %v, want ErrNoTurns", err)
	}
}
