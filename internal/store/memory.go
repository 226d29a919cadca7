package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/model"
)

// MemoryPositionStore keeps positions and their event log in process. CAS
// runs under the store mutex, giving the same winner-takes-it semantics as
// the SQL conditional update.
type MemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]model.Position
	events    map[string][]model.PositionEvent
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{
		positions: make(map[string]model.Position),
		events:    make(map[string][]model.PositionEvent),
	}
}

func (s *MemoryPositionStore) Save(ctx context.Context, p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	s.positions[p.ID] = p
	return nil
}

func (s *MemoryPositionStore) Get(ctx context.Context, id string) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryPositionStore) GetOpenByToken(ctx context.Context, tokenID string) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.TokenID == tokenID && p.Status == model.PositionOpen {
			return p, nil
		}
	}
	return model.Position{}, ErrNotFound
}

func (s *MemoryPositionStore) List(ctx context.Context, status model.PositionStatus) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryPositionStore) ListOpen(ctx context.Context) ([]model.Position, error) {
	return s.List(ctx, model.PositionOpen)
}

func (s *MemoryPositionStore) CountOpen(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.positions {
		if p.Status == model.PositionOpen || p.Status == model.PositionClosing {
			n++
		}
	}
	return n, nil
}

func (s *MemoryPositionStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next model.PositionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != expected {
		return false, nil
	}
	p.Status = next
	p.UpdatedAt = time.Now()
	if next == model.PositionClosed {
		now := p.UpdatedAt
		p.ClosedAt = &now
	}
	s.positions[id] = p
	return true, nil
}

func (s *MemoryPositionStore) AppendEvent(ctx context.Context, ev model.PositionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events[ev.PositionID] = append(s.events[ev.PositionID], ev)
	return nil
}

func (s *MemoryPositionStore) ListEvents(ctx context.Context, positionID string) ([]model.PositionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[positionID]
	out := make([]model.PositionEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// MemoryOrderStore keeps orders in process.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]model.Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]model.Order)}
}

func (s *MemoryOrderStore) Save(ctx context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryOrderStore) List(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
