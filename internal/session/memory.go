package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
)

const DefaultJanitorInterval = time.Minute

type memoryEntry struct {
	id         string
	transcript models.Transcript
	lastUsed   time.Time
}

// MemoryStore keeps transcripts in process memory. With a zero capacity and
// TTL it never forgets a session; otherwise the least recently used sessions
// are evicted first.
type MemoryStore struct {
	mu      sync.Mutex
	system  models.Turn
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	maxSessions int
	ttl         time.Duration
	now         func() time.Time
	onEvict     func(id string)
}

type MemoryOption func(*MemoryStore)

// WithCapacity caps the number of live sessions.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxSessions = n }
}

// WithTTL drops sessions idle for longer than ttl.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithEvictHook is called, outside the store lock, for every evicted session.
func WithEvictHook(fn func(id string)) MemoryOption {
	return func(s *MemoryStore) { s.onEvict = fn }
}

func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(systemPrompt string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		system:  models.SystemTurn(systemPrompt),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, id string) (models.Transcript, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry, evicted := s.touchLocked(id)
	out := entry.transcript.Clone()
	s.mu.Unlock()
	s.notifyEvicted(evicted)
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, turn models.Turn) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	entry, evicted := s.touchLocked(id)
	entry.transcript = append(entry.transcript, turn)
	s.mu.Unlock()
	s.notifyEvicted(evicted)
	return nil
}

func (s *MemoryStore) Trim(ctx context.Context, id string, maxLen int) (int, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[id]
	if !ok {
		return 0, nil
	}
	entry := elem.Value.(*memoryEntry)
	trimmed, dropped := Trim(entry.transcript, maxLen)
	entry.transcript = trimmed
	return dropped, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len(), nil
}

func (s *MemoryStore) Close() error { return nil }

// StartJanitor periodically drops expired sessions until ctx is done. It is
// a no-op when the store has no TTL.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictExpired(); n > 0 {
					log.Debug().Int("count", n).Msg("expired sessions evicted")
				}
			}
		}
	}()
}

// EvictExpired drops every session idle for longer than the TTL.
func (s *MemoryStore) EvictExpired() int {
	s.mu.Lock()
	evicted := s.evictExpiredLocked()
	s.mu.Unlock()
	s.notifyEvicted(evicted)
	return len(evicted)
}

// touchLocked returns the entry for id, creating it when missing, and marks
// it most recently used.
func (s *MemoryStore) touchLocked(id string) (*memoryEntry, []string) {
	now := s.now()
	evicted := s.evictExpiredLocked()

	if elem, ok := s.entries[id]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.lastUsed = now
		s.lru.MoveToFront(elem)
		return entry, evicted
	}

	entry := &memoryEntry{
		id:         id,
		transcript: models.Transcript{s.system},
		lastUsed:   now,
	}
	s.entries[id] = s.lru.PushFront(entry)

	for s.maxSessions > 0 && s.lru.Len() > s.maxSessions {
		oldest := s.lru.Back()
		victim := oldest.Value.(*memoryEntry)
		s.lru.Remove(oldest)
		delete(s.entries, victim.id)
		evicted = append(evicted, victim.id)
	}
	return entry, evicted
}

func (s *MemoryStore) evictExpiredLocked() []string {
	if s.ttl <= 0 {
		return nil
	}
	var evicted []string
	cutoff := s.now().Add(-s.ttl)
	for elem := s.lru.Back(); elem != nil; {
		entry := elem.Value.(*memoryEntry)
		if entry.lastUsed.After(cutoff) {
			break
		}
		prev := elem.Prev()
		s.lru.Remove(elem)
		delete(s.entries, entry.id)
		evicted = append(evicted, entry.id)
		elem = prev
	}
	return evicted
}

func (s *MemoryStore) notifyEvicted(ids []string) {
	if s.onEvict == nil {
		return
	}
	for _, id := range ids {
		s.onEvict(id)
	}
}
