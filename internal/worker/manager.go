// Package worker serializes chat exchanges per session. Every session id gets
// its own goroutine and bounded queue; different sessions run in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/metrics"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/assistant"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/session"
)

const (
	defaultQueueSize   = 16
	defaultIdleTimeout = 60 * time.Second
)

var (
	ErrSessionBusy = errors.New("too many requests queued for this session")
	ErrStopped     = errors.New("worker manager stopped")
)

// Exchanger runs one exchange. Calls for the same session never overlap.
type Exchanger interface {
	Exchange(ctx context.Context, sessionID, message string) (*assistant.Result, error)
}

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

type Manager struct {
	exchanger Exchanger
	queueSize int
	idle      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	workers map[string]*sessionWorker
	stopped bool
	quit    chan struct{}
}

func NewManager(exchanger Exchanger, cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	m := &Manager{
		exchanger: exchanger,
		queueSize: cfg.QueueSize,
		idle:      cfg.IdleTimeout,
		now:       time.Now,
		workers:   make(map[string]*sessionWorker),
		quit:      make(chan struct{}),
	}
	go m.purgeIdleWorkers()
	return m
}

// Exchange queues the message on the session's worker and waits for the
// result. A blank sessionID starts a new session.
func (m *Manager) Exchange(ctx context.Context, sessionID, message string) (*assistant.Result, error) {
	sessionID, _ = assistant.ResolveSessionID(sessionID)
	if err := assistant.ValidateMessage(sessionID, message); err != nil {
		return nil, err
	}
	if err := session.ValidateID(sessionID); err != nil {
		return nil, &assistant.ExchangeError{SessionID: sessionID, Kind: assistant.KindInvalidInput, Err: err}
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, &assistant.ExchangeError{SessionID: sessionID, Kind: assistant.KindCanceled, Err: ErrStopped}
	}
	w := m.ensureWorkerLocked(sessionID)
	w.pending++
	m.mu.Unlock()

	task := exchangeTask{ctx: ctx, message: message, resultCh: make(chan workerReturn, 1)}
	select {
	case w.taskCh <- task:
	default:
		m.finishTask(w)
		metrics.IncQueueRejections()
		return nil, &assistant.ExchangeError{
			SessionID: sessionID,
			Kind:      assistant.KindBusy,
			Err:       fmt.Errorf("%w (%d queued)", ErrSessionBusy, m.queueSize),
		}
	}

	select {
	case ret := <-task.resultCh:
		return ret.result, ret.err
	case <-ctx.Done():
		return nil, canceledError(sessionID, ctx.Err())
	case <-w.done:
		select {
		case ret := <-task.resultCh:
			return ret.result, ret.err
		default:
			return nil, &assistant.ExchangeError{SessionID: sessionID, Kind: assistant.KindCanceled, Err: ErrStopped}
		}
	}
}

// Active reports the number of running session workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Stop retires every worker. Queued exchanges that have not started fail
// with ErrStopped; the one in flight per session completes.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.quit)
	for id, w := range m.workers {
		close(w.stopCh)
		delete(m.workers, id)
	}
	metrics.SetActiveWorkers(0)
}

func (m *Manager) ensureWorkerLocked(sessionID string) *sessionWorker {
	if w, ok := m.workers[sessionID]; ok {
		return w
	}
	w := newSessionWorker(sessionID, m.queueSize, m.now())
	m.workers[sessionID] = w
	metrics.SetActiveWorkers(len(m.workers))
	go m.runWorker(w)
	return w
}

func (m *Manager) finishTask(w *sessionWorker) {
	m.mu.Lock()
	w.pending--
	w.lastUsed = m.now()
	m.mu.Unlock()
}

func (m *Manager) runWorker(w *sessionWorker) {
	defer close(w.done)
	log.Debug().Str("session_id", w.sessionID).Msg("session worker started")

	for {
		select {
		case <-w.stopCh:
			m.drain(w)
			log.Debug().Str("session_id", w.sessionID).Msg("session worker stopped")
			return
		case task := <-w.taskCh:
			m.handleExchange(w, task)
		}
	}
}

func (m *Manager) handleExchange(w *sessionWorker, task exchangeTask) {
	defer m.finishTask(w)

	ctx := task.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		// caller already gone
		task.resultCh <- workerReturn{err: canceledError(w.sessionID, err)}
		return
	}
	res, err := m.exchanger.Exchange(ctx, w.sessionID, task.message)
	task.resultCh <- workerReturn{result: res, err: err}
}

func (m *Manager) drain(w *sessionWorker) {
	for {
		select {
		case task := <-w.taskCh:
			task.resultCh <- workerReturn{err: &assistant.ExchangeError{
				SessionID: w.sessionID,
				Kind:      assistant.KindCanceled,
				Err:       ErrStopped,
			}}
		default:
			return
		}
	}
}

func canceledError(sessionID string, err error) error {
	return &assistant.ExchangeError{
		SessionID: sessionID,
		Kind:      assistant.KindCanceled,
		Err:       fmt.Errorf("request canceled: %w", err),
	}
}
