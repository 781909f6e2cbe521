// Package store provides the cursor store and event source backends used by the
// event reader.
//
// Backends are plain implementations of the CursorStore and EventSource
// interfaces; which one is used is decided once at startup by the fx module.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

var (
	// ErrUnavailable wraps every infrastructure failure. Callers treat it as retryable.
	ErrUnavailable = errors.New("store: unavailable")
)

// CursorStore persists the last delivered sequence id.
type CursorStore interface {
	// Get returns the persisted cursor; ok is false when none was ever written.
	Get(ctx context.Context) (value int64, ok bool, err error)

	// Set durably stores value. A value lower than the stored one is ignored.
	Set(ctx context.Context, value int64) error
}

// EventSource is the growing notification log.
type EventSource interface {
	// LatestSequenceID returns the highest sequence id present, or 0 for an empty log.
	LatestSequenceID(ctx context.Context) (int64, error)

	// EventsAfter returns at most limit events with SequenceID > seq in ascending order.
	EventsAfter(ctx context.Context, seq int64, limit int) ([]model.Event, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
