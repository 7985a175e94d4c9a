package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

func slowExecutor(delay time.Duration) Executor {
	return func(req *domain.QueuedRequest) (*domain.GenerateOutput, error) {
		time.Sleep(delay)
		return &domain.GenerateOutput{Text: "ok:" + req.RequestID}, nil
	}
}

func startManager(t *testing.T, maxDepth, maxConcurrent int, exec Executor) *Manager {
	t.Helper()
	m := New(maxDepth, maxConcurrent, exec)
	go m.Run()
	t.Cleanup(func() { m.Shutdown(time.Second) })
	return m
}

func TestQueueFullRejectsOverCapacity(t *testing.T) {
	m := startManager(t, 1, 1, slowExecutor(50*time.Millisecond))

	// r1 is dispatched to the active set immediately; r2 fills the FIFO
	// to its depth cap of 1; r3 is the first over-capacity admission.
	r1 := m.Enqueue("model-a", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})
	if r1.Status == domain.RequestFailed {
		t.Fatalf("first request should admit, got %v", r1.Status)
	}
	r2 := m.Enqueue("model-a", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})
	if r2.Status == domain.RequestFailed {
		t.Fatalf("request at exactly max depth should admit, got err=%v", r2.Err)
	}
	r3 := m.Enqueue("model-a", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})
	if r3.Status != domain.RequestFailed || r3.Err != domain.ErrQueueFull {
		t.Fatalf("request over max depth should be queue_full, got status=%v err=%v", r3.Status, r3.Err)
	}
}

func TestFIFOOrderAndCancellation(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := func(req *domain.QueuedRequest) (*domain.GenerateOutput, error) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, req.RequestID)
		mu.Unlock()
		return &domain.GenerateOutput{}, nil
	}
	m := startManager(t, 10, 1, exec)

	r1 := m.Enqueue("M", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})
	r2 := m.Enqueue("M", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})
	r3 := m.Enqueue("M", domain.ModalityText, domain.GenerateInput{}, domain.GenerateParameters{})

	if !m.Cancel(r2.RequestID) {
		t.Fatalf("cancel of queued r2 should succeed")
	}
	m.WaitForCompletion(r2, time.Second)
	if r2.Status != domain.RequestCancelled {
		t.Fatalf("expected r2 cancelled, got %v", r2.Status)
	}

	m.WaitForCompletion(r1, time.Second)
	m.WaitForCompletion(r3, time.Second)

	if r1.Status != domain.RequestCompleted || r3.Status != domain.RequestCompleted {
		t.Fatalf("expected r1 and r3 completed, got %v %v", r1.Status, r3.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != r1.RequestID || order[1] != r3.RequestID {
		t.Fatalf("expected r1 then r3 to execute in order, got %v", order)
	}
}
