package worker

import (
	"context"
	"time"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/assistant"
)

type exchangeTask struct {
	ctx      context.Context
	message  string
	resultCh chan workerReturn
}

type workerReturn struct {
	result *assistant.Result
	err    error
}

// sessionWorker owns the queue of one session. pending and lastUsed are
// guarded by Manager.mu.
type sessionWorker struct {
	sessionID string
	taskCh    chan exchangeTask
	stopCh    chan struct{}
	done      chan struct{}

	pending  int
	lastUsed time.Time
}

func newSessionWorker(sessionID string, queueSize int, now time.Time) *sessionWorker {
	return &sessionWorker{
		sessionID: sessionID,
		taskCh:    make(chan exchangeTask, queueSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		lastUsed:  now,
	}
}

// idle reports whether the worker can be retired at now.
func (w *sessionWorker) idle(now time.Time, timeout time.Duration) bool {
	return w.pending == 0 && now.Sub(w.lastUsed) >= timeout
}
