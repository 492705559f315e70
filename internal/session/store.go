// Package session keeps per-session conversation transcripts and enforces
// the bounded sliding window applied to them.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
)

// MaxIDLength bounds client-supplied session identifiers.
const MaxIDLength = 128

var ErrInvalidID = errors.New("invalid session id")

// Store owns the transcripts of all sessions. Transcripts returned by a Store
// are snapshots; changes go through Append and Trim and are visible to every
// later call with the same id. An unknown id is never an error: it is
// created, seeded with the system turn.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (models.Transcript, error)
	Append(ctx context.Context, id string, turn models.Turn) error
	// Trim applies the sliding window and reports how many turns were dropped.
	Trim(ctx context.Context, id string, maxLen int) (int, error)
	// Len reports the number of live sessions.
	Len(ctx context.Context) (int, error)
	Close() error
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateID rejects empty and oversized identifiers. Any other string is an
// opaque key and is used exactly as sent.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	}
	return nil
}
