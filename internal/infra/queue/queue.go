// Package queue implements the per-model request queue and worker: a
// bounded FIFO with a per-model concurrency cap, cooperative cancellation,
// and queue-position tracking. All per-model state is owned by a single
// coordinating goroutine served over a command channel; executors run on
// their own goroutines and report back through a done channel.
package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Executor runs one admitted request and returns its result. It is always
// invoked outside the queue's lock, on its own goroutine.
type Executor func(req *domain.QueuedRequest) (*domain.GenerateOutput, error)

// Manager owns every model's FIFO and worker goroutine.
type Manager struct {
	maxQueueDepth int
	maxConcurrent int
	executor      Executor
	persist       func(*domain.QueuedRequest)

	cmds chan command
}

// SetPersist installs a hook invoked once per request on its terminal
// transition, for the audit trail. Must be set before Run starts.
func (m *Manager) SetPersist(fn func(*domain.QueuedRequest)) { m.persist = fn }

type command struct {
	kind string // enqueue | cancel | get | info | shutdown
	req  *domain.QueuedRequest
	exec Executor // per-request override, used by Generate for streaming/per-adapter execution
	id   string
	resp chan any
}

// New creates a queue manager. Call Run in its own goroutine to start the
// single coordinating loop that owns all per-model state — this avoids a
// separate mutex per model while keeping the public API lock-free from
// the caller's perspective.
func New(maxQueueDepth, maxConcurrentPerModel int, executor Executor) *Manager {
	return &Manager{
		maxQueueDepth: maxQueueDepth,
		maxConcurrent: maxConcurrentPerModel,
		executor:      executor,
		cmds:          make(chan command, 256),
	}
}

type modelQueue struct {
	fifo   []*domain.QueuedRequest
	active map[string]*domain.QueuedRequest
}

// Run is the single coordinating loop. It must be started exactly once,
// typically from the daemon's Serve, and stops when ctx-derived shutdown
// is requested via Shutdown.
func (m *Manager) Run() {
	models := make(map[string]*modelQueue)
	done := make(chan string, 256) // modelID of a request that just finished
	reqExec := make(map[*domain.QueuedRequest]Executor)
	byID := make(map[string]*domain.QueuedRequest)

	getQueue := func(modelID string) *modelQueue {
		q, ok := models[modelID]
		if !ok {
			q = &modelQueue{active: make(map[string]*domain.QueuedRequest)}
			models[modelID] = q
		}
		return q
	}

	recomputePositions := func(modelID string, q *modelQueue) {
		for i, r := range q.fifo {
			r.QueuePosition = i + 1
		}
		metrics.QueueDepth.WithLabelValues(modelID).Set(float64(len(q.fifo)))
	}

	dispatch := func(modelID string) {
		q := getQueue(modelID)
		for len(q.active) < m.maxConcurrent && len(q.fifo) > 0 {
			req := q.fifo[0]
			q.fifo = q.fifo[1:]
			q.active[req.RequestID] = req
			req.Status = domain.RequestRunning
			req.StartedAt = time.Now()
			recomputePositions(modelID, q)

			exec := m.executor
			if override, ok := reqExec[req]; ok {
				exec = override
				delete(reqExec, req)
			}
			if exec == nil {
				exec = func(*domain.QueuedRequest) (*domain.GenerateOutput, error) {
					return nil, fmt.Errorf("no executor configured")
				}
			}

			go func(req *domain.QueuedRequest, exec Executor) {
				result, err := exec(req)
				req.CompletedAt = time.Now()
				if req.Cancelled() {
					req.Status = domain.RequestCancelled
				} else if err != nil {
					req.Status = domain.RequestFailed
					req.Err = err
				} else {
					req.Status = domain.RequestCompleted
					req.Result = result
				}
				if m.persist != nil {
					m.persist(req)
				}
				close(req.CompletionSignal)
				done <- modelID
			}(req, exec)
		}
	}

	for {
		select {
		case c := <-m.cmds:
			switch c.kind {
			case "enqueue":
				q := getQueue(c.req.ModelID)
				byID[c.req.RequestID] = c.req
				if len(q.fifo) >= m.maxQueueDepth {
					c.req.Status = domain.RequestFailed
					c.req.Err = domain.ErrQueueFull
					metrics.QueueRejections.WithLabelValues(c.req.ModelID).Inc()
					close(c.req.CompletionSignal)
					c.resp <- c.req
					continue
				}
				c.req.Status = domain.RequestQueued
				q.fifo = append(q.fifo, c.req)
				recomputePositions(c.req.ModelID, q)
				if c.exec != nil {
					reqExec[c.req] = c.exec
				}
				c.resp <- c.req
				dispatch(c.req.ModelID)

			case "cancel":
				found := false
			scan:
				for modelID, q := range models {
					for i, r := range q.fifo {
						if r.RequestID == c.id {
							r.RequestCancel()
							r.Status = domain.RequestCancelled
							q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
							recomputePositions(modelID, q)
							r.CompletedAt = time.Now()
							if m.persist != nil {
								m.persist(r)
							}
							close(r.CompletionSignal)
							found = true
							break scan
						}
					}
					if r, ok := q.active[c.id]; ok {
						r.RequestCancel()
						found = true
						break scan
					}
				}
				c.resp <- found

			case "get":
				if r, ok := byID[c.id]; ok {
					c.resp <- r
				} else {
					c.resp <- (*domain.QueuedRequest)(nil)
				}

			case "info":
				q := getQueue(c.id)
				info := domain.QueueInfo{ModelID: c.id, QueueDepth: len(q.fifo), ActiveCount: len(q.active)}
				for _, r := range q.fifo {
					info.QueuedIDs = append(info.QueuedIDs, r.RequestID)
				}
				for id := range q.active {
					info.ActiveIDs = append(info.ActiveIDs, id)
				}
				c.resp <- info

			case "shutdown":
				c.resp <- true
				return
			}

		case modelID := <-done:
			q := getQueue(modelID)
			// Active entries are removed by request id once we know which
			// one completed; since `done` only carries modelID, scan and
			// drop terminal entries.
			for id, r := range q.active {
				if r.Status == domain.RequestCompleted || r.Status == domain.RequestCancelled || r.Status == domain.RequestFailed {
					delete(q.active, id)
				}
			}
			dispatch(modelID)
		}
	}
}

// Enqueue admits a new request onto its model's FIFO, or immediately
// fails it with queue_full if the model's queue is already at capacity.
// onDelta, if provided, is attached to the request so the executor can
// stream incremental text back to the caller before completion.
func (m *Manager) Enqueue(modelID string, modality domain.Modality, input domain.GenerateInput, params domain.GenerateParameters, onDelta ...func(string)) *domain.QueuedRequest {
	var delta func(string)
	if len(onDelta) > 0 {
		delta = onDelta[0]
	}
	return m.EnqueueWith(modelID, modality, input, params, nil, delta)
}

// EnqueueWith is Enqueue with a per-request executor override. The
// orchestrator uses this to bind each request to the adapter the selector
// chose for it, rather than routing everything through one global
// executor.
func (m *Manager) EnqueueWith(modelID string, modality domain.Modality, input domain.GenerateInput, params domain.GenerateParameters, exec Executor, onDelta func(string)) *domain.QueuedRequest {
	req := &domain.QueuedRequest{
		RequestID:        uuid.NewString(),
		ModelID:          modelID,
		Modality:         modality,
		Input:            input,
		Parameters:       params,
		Status:           domain.RequestPending,
		CreatedAt:        time.Now(),
		CompletionSignal: make(chan struct{}),
		OnDelta:          onDelta,
	}
	resp := make(chan any, 1)
	m.cmds <- command{kind: "enqueue", req: req, exec: exec, resp: resp}
	return (<-resp).(*domain.QueuedRequest)
}

// Get returns a tracked request by id, including terminal ones, for the
// /v1/requests observability surface. Returns nil if unknown.
func (m *Manager) Get(requestID string) *domain.QueuedRequest {
	resp := make(chan any, 1)
	m.cmds <- command{kind: "get", id: requestID, resp: resp}
	return (<-resp).(*domain.QueuedRequest)
}

// WaitForCompletion blocks until req reaches a terminal status or timeout
// elapses. On timeout it returns false with req left unchanged.
func (m *Manager) WaitForCompletion(req *domain.QueuedRequest, timeout time.Duration) bool {
	if timeout <= 0 {
		<-req.CompletionSignal
		return true
	}
	select {
	case <-req.CompletionSignal:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Cancel cancels a request by id. Returns false if unknown or already
// terminal at the time of lookup.
func (m *Manager) Cancel(requestID string) bool {
	resp := make(chan any, 1)
	m.cmds <- command{kind: "cancel", id: requestID, resp: resp}
	return (<-resp).(bool)
}

// QueueInfo returns an observability snapshot for one model's queue.
func (m *Manager) QueueInfo(modelID string) domain.QueueInfo {
	resp := make(chan any, 1)
	m.cmds <- command{kind: "info", id: modelID, resp: resp}
	return (<-resp).(domain.QueueInfo)
}

// Shutdown stops the coordinating loop. In-flight executor goroutines are
// not interrupted (cooperative cancellation only); callers should await
// outstanding CompletionSignals with their own bounded timeout.
func (m *Manager) Shutdown(timeout time.Duration) {
	resp := make(chan any, 1)
	select {
	case m.cmds <- command{kind: "shutdown", resp: resp}:
		select {
		case <-resp:
		case <-time.After(timeout):
			log.Printf("[queue] shutdown timed out waiting for coordinator loop")
		}
	case <-time.After(timeout):
		log.Printf("[queue] shutdown timed out sending stop command")
	}
}
