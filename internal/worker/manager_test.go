package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/assistant"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/session"
)

// fakeExchanger records overlapping calls per session.
type fakeExchanger struct {
	mu       sync.Mutex
	inFlight map[string]int
	overlap  bool
	calls    []string
	peak     int32
	running  int32

	started chan string
	release chan struct{}
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{inFlight: make(map[string]int)}
}

func (f *fakeExchanger) Exchange(ctx context.Context, sessionID, message string) (*assistant.Result, error) {
	f.mu.Lock()
	f.inFlight[sessionID]++
	if f.inFlight[sessionID] > 1 {
		f.overlap = true
	}
	f.calls = append(f.calls, message)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.running, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- message
	}
	if f.release != nil {
		<-f.release
	} else {
		time.Sleep(2 * time.Millisecond)
	}

	atomic.AddInt32(&f.running, -1)
	f.mu.Lock()
	f.inFlight[sessionID]--
	f.mu.Unlock()
	return &assistant.Result{SessionID: sessionID, Reply: "re: " + message}, nil
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (m *Manager) worker(sessionID string) *sessionWorker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[sessionID]
}

func kindOf(t *testing.T, err error) assistant.ErrorKind {
	t.Helper()
	var exErr *assistant.ExchangeError
	require.ErrorAs(t, err, &exErr)
	return exErr.Kind
}

func TestManagerSerializesSameSession(t *testing.T) {
	ex := newFakeExchanger()
	m := NewManager(ex, Config{QueueSize: 64, IdleTimeout: time.Hour})
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Exchange(context.Background(), "shared", fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
			if res != nil {
				assert.Equal(t, "shared", res.SessionID)
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, ex.overlap, "exchanges on one session overlapped")
	assert.Equal(t, 20, ex.callCount())
}

func TestManagerRunsSessionsInParallel(t *testing.T) {
	ex := newFakeExchanger()
	ex.started = make(chan string, 2)
	ex.release = make(chan struct{})
	m := NewManager(ex, Config{IdleTimeout: time.Hour})
	defer m.Stop()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Exchange(context.Background(), id, "hi "+id)
			assert.NoError(t, err)
		}(id)
	}

	// both must be in flight at once before either is released
	<-ex.started
	<-ex.started
	assert.Equal(t, int32(2), atomic.LoadInt32(&ex.peak))
	close(ex.release)
	wg.Wait()
	assert.Equal(t, 2, m.Active())
}

func TestManagerRejectsWhenQueueFull(t *testing.T) {
	ex := newFakeExchanger()
	ex.started = make(chan string, 4)
	ex.release = make(chan struct{})
	m := NewManager(ex, Config{QueueSize: 1, IdleTimeout: time.Hour})
	defer m.Stop()

	results := make(chan error, 2)
	go func() {
		_, err := m.Exchange(context.Background(), "s", "first")
		results <- err
	}()
	require.Equal(t, "first", <-ex.started)

	go func() {
		_, err := m.Exchange(context.Background(), "s", "second")
		results <- err
	}()
	require.Eventually(t, func() bool {
		return len(m.worker("s").taskCh) == 1
	}, time.Second, time.Millisecond)

	_, err := m.Exchange(context.Background(), "s", "third")
	assert.Equal(t, assistant.KindBusy, kindOf(t, err))
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(ex.release)
	assert.NoError(t, <-results)
	assert.NoError(t, <-results)
	assert.Equal(t, 2, ex.callCount())
}

func TestManagerSkipsCanceledTasks(t *testing.T) {
	ex := newFakeExchanger()
	ex.started = make(chan string, 4)
	ex.release = make(chan struct{})
	m := NewManager(ex, Config{QueueSize: 4, IdleTimeout: time.Hour})
	defer m.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := m.Exchange(context.Background(), "s", "first")
		done <- err
	}()
	require.Equal(t, "first", <-ex.started)

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := m.Exchange(ctx, "s", "abandoned")
		queued <- err
	}()
	require.Eventually(t, func() bool {
		return len(m.worker("s").taskCh) == 1
	}, time.Second, time.Millisecond)
	cancel()

	err := <-queued
	assert.Equal(t, assistant.KindCanceled, kindOf(t, err))
	assert.ErrorIs(t, err, context.Canceled)

	close(ex.release)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.workers["s"].pending == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, ex.callCount())
}

func TestManagerValidatesBeforeQueueing(t *testing.T) {
	ex := newFakeExchanger()
	m := NewManager(ex, Config{IdleTimeout: time.Hour})
	defer m.Stop()

	_, err := m.Exchange(context.Background(), "s", "  ")
	assert.Equal(t, assistant.KindMissingInput, kindOf(t, err))

	_, err = m.Exchange(context.Background(), strings.Repeat("x", session.MaxIDLength+1), "hello")
	assert.Equal(t, assistant.KindInvalidInput, kindOf(t, err))

	assert.Zero(t, m.Active())
	assert.Zero(t, ex.callCount())
}

func TestManagerKeepsOpaqueSessionIDs(t *testing.T) {
	m := NewManager(newFakeExchanger(), Config{IdleTimeout: time.Hour})
	defer m.Stop()

	for _, id := range []string{"user 42", " padded", "caf\u00e9\tbar"} {
		res, err := m.Exchange(context.Background(), id, "hello")
		require.NoError(t, err, id)
		assert.Equal(t, id, res.SessionID)
	}
	assert.Equal(t, 3, m.Active())
}

func TestManagerGeneratesSessionID(t *testing.T) {
	m := NewManager(newFakeExchanger(), Config{IdleTimeout: time.Hour})
	defer m.Stop()

	res, err := m.Exchange(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "re: hello", res.Reply)
}

func TestManagerRetiresIdleWorkers(t *testing.T) {
	m := NewManager(newFakeExchanger(), Config{IdleTimeout: time.Hour})
	defer m.Stop()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	_, err := m.Exchange(context.Background(), "s", "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.workers["s"].pending == 0
	}, time.Second, time.Millisecond)

	assert.Zero(t, m.retireIdle(base.Add(30*time.Minute)))
	assert.Equal(t, 1, m.Active())

	w := m.worker("s")
	assert.Equal(t, 1, m.retireIdle(base.Add(time.Hour)))
	assert.Zero(t, m.Active())
	<-w.done

	// a retired session gets a fresh worker
	_, err = m.Exchange(context.Background(), "s", "again")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())
}

func TestManagerStop(t *testing.T) {
	m := NewManager(newFakeExchanger(), Config{IdleTimeout: time.Hour})

	_, err := m.Exchange(context.Background(), "s", "hello")
	require.NoError(t, err)
	w := m.worker("s")

	m.Stop()
	m.Stop()
	<-w.done
	assert.Zero(t, m.Active())

	_, err = m.Exchange(context.Background(), "s", "late")
	assert.Equal(t, assistant.KindCanceled, kindOf(t, err))
	assert.ErrorIs(t, err, ErrStopped)
}
