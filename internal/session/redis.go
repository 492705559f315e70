package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/redis"
)

// RedisStore keeps each transcript as one JSON document so sessions survive
// a restart. Every write refreshes the key TTL; a zero TTL never expires.
type RedisStore struct {
	client *redis.Client
	system models.Turn
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, systemPrompt, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		system: models.SystemTurn(systemPrompt),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, id)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (models.Transcript, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	t, found, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if found {
		return t, nil
	}
	t = models.Transcript{s.system}
	if err := s.save(ctx, id, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Append is a read followed by one write. The pair is not atomic across
// processes; within one process the session worker serializes callers.
func (s *RedisStore) Append(ctx context.Context, id string, turn models.Turn) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	t, found, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		t = models.Transcript{s.system}
	}
	return s.save(ctx, id, append(t, turn))
}

func (s *RedisStore) Trim(ctx context.Context, id string, maxLen int) (int, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	t, found, err := s.load(ctx, id)
	if err != nil || !found {
		return 0, err
	}
	trimmed, dropped := Trim(t, maxLen)
	if dropped == 0 {
		return 0, nil
	}
	if err := s.save(ctx, id, trimmed); err != nil {
		return 0, err
	}
	return dropped, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	return s.client.Count(ctx, s.prefix+"session:*")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, id string) (models.Transcript, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load session %s: %w", id, err)
	}
	var t models.Transcript
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	if len(t) == 0 || t[0].Role != models.RoleSystem {
		// a foreign or damaged document; start the session over
		return nil, false, nil
	}
	return t, true, nil
}

func (s *RedisStore) save(ctx context.Context, id string, t models.Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}
