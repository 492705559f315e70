package assistant

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed exchange.
type ErrorKind string

const (
	// KindMissingInput means the request carried no message; nothing was stored.
	KindMissingInput ErrorKind = "missing_input"
	// KindInvalidInput means the session id cannot be used as a key.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindUpstream means the completion endpoint failed; the user turn stays recorded.
	KindUpstream ErrorKind = "upstream_failure"
	// KindStore means the session store could not be read or written.
	KindStore ErrorKind = "store_failure"
	// KindBusy means too many requests are already queued for the session.
	KindBusy ErrorKind = "busy"
	// KindCanceled means the caller went away before the exchange ran.
	KindCanceled ErrorKind = "canceled"
)

var ErrMissingMessage = errors.New("message is required")

// ExchangeError is the failure side of an exchange. It always names the
// session so the caller can retry on it.
type ExchangeError struct {
	SessionID string
	Kind      ErrorKind
	Err       error
}

func (e *ExchangeError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func newExchangeError(sessionID string, kind ErrorKind, err error) *ExchangeError {
	return &ExchangeError{SessionID: sessionID, Kind: kind, Err: err}
}

// AsExchangeError unwraps err into an ExchangeError, classifying anything
// else as a store failure.
func AsExchangeError(sessionID string, err error) *ExchangeError {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr
	}
	return newExchangeError(sessionID, KindStore, fmt.Errorf("exchange: %w", err))
}
