package messages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
)

// ErrBadRequest marks requests rejected before reaching the business queue.
var ErrBadRequest = errors.New("bad request")

// MessageWrapper carries one inbound message through the pipeline. It
// remembers whether its effects were already handed to storage so a retry
// returns the first outcome.
type MessageWrapper struct {
	ID        string
	RequestID string
	Type      MessageType
	Received  time.Time

	// Request is the raw request; Payload is set by Prepare.
	Request any
	Payload any

	triedToPersist bool
	persistErr     error

	once sync.Once
	done chan *Response
}

// NewMessageWrapper wraps request. An empty id gets a generated one.
func NewMessageWrapper(id, requestID string, t MessageType, request any, received time.Time) *MessageWrapper {
	if id == "" {
		id = uuid.NewString()
	}
	if requestID == "" {
		requestID = id
	}
	return &MessageWrapper{
		ID:        id,
		RequestID: requestID,
		Type:      t,
		Received:  received,
		Request:   request,
		done:      make(chan *Response, 1),
	}
}

// TriedToPersist reports whether persistence was attempted.
func (w *MessageWrapper) TriedToPersist() bool { return w.triedToPersist }

// PersistResult is the error of the first persistence attempt, nil when it
// succeeded.
func (w *MessageWrapper) PersistResult() error { return w.persistErr }

// SetPersistResult records the outcome of the persistence attempt.
func (w *MessageWrapper) SetPersistResult(err error) {
	w.triedToPersist = true
	w.persistErr = err
}

// Prepare validates the raw request and converts it into its payload. It
// touches no engine state and runs on the preprocessing workers.
func (w *MessageWrapper) Prepare(v *validation.Structural) error {
	if w.Payload != nil {
		return nil
	}
	if err := v.Validate(w.Request); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	var (
		payload any
		err     error
	)
	switch r := w.Request.(type) {
	case *LimitOrderRequest:
		payload, err = r.Order(w.Received)
	case *StopLimitOrderRequest:
		payload, err = r.Order(w.Received)
	case *MarketOrderRequest:
		payload, err = r.Order(w.Received)
	case *MultiLimitOrderRequest:
		payload, err = r.Parse(w.Received)
	case *CancelRequest:
		payload = r.Parse()
	case *CashInOutRequest:
		payload, err = r.Parse()
	default:
		return fmt.Errorf("%w: unsupported request %T", ErrBadRequest, w.Request)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	w.Payload = payload
	return nil
}

// Respond delivers the response. Only the first call has an effect.
func (w *MessageWrapper) Respond(resp *Response) {
	w.once.Do(func() {
		resp.MessageID = w.ID
		w.done <- resp
	})
}

// Wait blocks until the response arrives or ctx is done.
func (w *MessageWrapper) Wait(ctx context.Context) (*Response, error) {
	select {
	case resp := <-w.done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
