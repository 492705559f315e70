package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/metrics"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/ai"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/session"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/tracing"
)

// Completer produces the assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, transcript models.Transcript) (*ai.Completion, error)
}

// Result is the success side of an exchange.
type Result struct {
	SessionID string
	Reply     string
	History   models.Transcript
	// Trimmed counts turns dropped by the window during this exchange.
	Trimmed int
}

// Service runs one chat exchange against the session store and the
// completion gateway. It does not serialize callers; concurrent exchanges on
// the same session must be queued by the caller.
type Service struct {
	store       session.Store
	completer   Completer
	maxMessages int
}

// NewService builds a new assistant service.
func NewService(store session.Store, completer Completer, maxMessages int) *Service {
	return &Service{
		store:       store,
		completer:   completer,
		maxMessages: maxMessages,
	}
}

// ResolveSessionID returns id unchanged, or a fresh one when id is blank. The
// second value reports whether a new id was generated.
func ResolveSessionID(id string) (string, bool) {
	if strings.TrimSpace(id) == "" {
		return session.NewID(), true
	}
	return id, false
}

// ValidateMessage reports a missing-input error for a blank message.
func ValidateMessage(sessionID, message string) error {
	if strings.TrimSpace(message) == "" {
		return newExchangeError(sessionID, KindMissingInput, ErrMissingMessage)
	}
	return nil
}

// Exchange appends the user message, bounds the transcript, asks the
// completion gateway for a reply and records it. On gateway failure the
// user turn is kept and no assistant turn is added.
func (s *Service) Exchange(ctx context.Context, sessionID, message string) (*Result, error) {
	sessionID, _ = ResolveSessionID(sessionID)
	if err := ValidateMessage(sessionID, message); err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "chat.exchange")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	logger := zerolog.Ctx(ctx).With().Str("session_id", sessionID).Logger()

	if _, err := s.store.GetOrCreate(ctx, sessionID); err != nil {
		return nil, s.storeError(sessionID, err)
	}
	if err := s.store.Append(ctx, sessionID, models.UserTurn(message)); err != nil {
		return nil, s.storeError(sessionID, err)
	}
	trimmed, err := s.store.Trim(ctx, sessionID, s.maxMessages)
	if err != nil {
		return nil, s.storeError(sessionID, err)
	}
	transcript, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, s.storeError(sessionID, err)
	}

	start := time.Now()
	completion, err := s.completer.Complete(ctx, transcript)
	metrics.ObserveCompletion(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		logger.Warn().Err(err).Int("turns", len(transcript)).Msg("completion failed")
		return nil, newExchangeError(sessionID, KindUpstream, err)
	}

	if err := s.store.Append(ctx, sessionID, models.AssistantTurn(completion.Reply)); err != nil {
		return nil, s.storeError(sessionID, err)
	}
	n, err := s.store.Trim(ctx, sessionID, s.maxMessages)
	if err != nil {
		return nil, s.storeError(sessionID, err)
	}
	trimmed += n
	history, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, s.storeError(sessionID, err)
	}

	if trimmed > 0 {
		metrics.AddTrimmed(trimmed)
		logger.Debug().Int("dropped", trimmed).Msg("transcript window applied")
	}
	span.SetAttributes(attribute.Int("session.turns", len(history)))

	return &Result{
		SessionID: sessionID,
		Reply:     completion.Reply,
		History:   history,
		Trimmed:   trimmed,
	}, nil
}

func (s *Service) storeError(sessionID string, err error) error {
	if errors.Is(err, session.ErrInvalidID) {
		return newExchangeError(sessionID, KindInvalidInput, err)
	}
	return newExchangeError(sessionID, KindStore, err)
}
