package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

var (
	_ CursorStore = (*MemoryCursor)(nil)
	_ EventSource = (*MemorySource)(nil)
)

// MemoryCursor is an in-process CursorStore. It is safe for concurrent use.
type MemoryCursor struct {
	mu    sync.RWMutex
	value int64
	set   bool
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{}
}

func (c *MemoryCursor) Get(ctx context.Context) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set, nil
}

func (c *MemoryCursor) Set(ctx context.Context, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set && value <= c.value {
		return nil
	}
	c.value = value
	c.set = true
	return nil
}

// MemorySource is an append-only in-process log. Append assigns sequence ids.
type MemorySource struct {
	mu     sync.RWMutex
	events []model.Event
	nextID int64
}

func NewMemorySource() *MemorySource {
	return &MemorySource{nextID: 1}
}

// Append stores a new event for recipientID and returns its sequence id.
func (s *MemorySource) Append(recipientID string, payload []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextID
	s.nextID++
	s.events = append(s.events, model.Event{
		SequenceID:  seq,
		RecipientID: recipientID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	})
	return seq
}

func (s *MemorySource) LatestSequenceID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].SequenceID, nil
}

func (s *MemorySource) EventsAfter(ctx context.Context, seq int64, limit int) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Sequence ids are assigned in append order, so the slice is already sorted.
	start := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].SequenceID > seq
	})
	end := len(s.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]model.Event, end-start)
	copy(out, s.events[start:end])
	return out, nil
}
