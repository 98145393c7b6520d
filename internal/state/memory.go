package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is a Store for dry runs and tests. Same semantics as the
// sqlite store, including the status CAS.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]Position
	kv        map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		positions: make(map[int64]Position),
		kv:        make(map[string]string),
	}
}

func (m *MemoryStore) CreatePosition(ctx context.Context, p *Position) error {
	_ = ctx
	if p.DepositAmount == nil {
		return errors.New("deposit amount is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.ID = m.nextID
	m.nextID++
	m.positions[p.ID] = *p
	return nil
}

func (m *MemoryStore) Position(ctx context.Context, id int64) (Position, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok, nil
}

func (m *MemoryStore) ActivePositions(ctx context.Context, wallet common.Address) ([]Position, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for id := int64(1); id < m.nextID; id++ {
		p, ok := m.positions[id]
		if ok && p.Wallet == wallet && p.Status == StatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) WalletsWithActivePositions(ctx context.Context) ([]common.Address, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for id := int64(1); id < m.nextID; id++ {
		p, ok := m.positions[id]
		if !ok || p.Status != StatusActive {
			continue
		}
		if _, dup := seen[p.Wallet]; dup {
			continue
		}
		seen[p.Wallet] = struct{}{}
		out = append(out, p.Wallet)
	}
	return out, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	_ = ctx
	if from == StatusClosed {
		return false, errors.New("closed positions accept no transitions")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	m.positions[id] = p
	return true, nil
}

func (m *MemoryStore) ClosePosition(ctx context.Context, id int64, closedAt time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok || p.Status == StatusClosed {
		return fmt.Errorf("position %d not found or already closed", id)
	}
	p.Status = StatusClosed
	p.ClosedAt = &closedAt
	m.positions[id] = p
	return nil
}

func (m *MemoryStore) IncrementRebalanceCount(ctx context.Context, id int64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("position %d not found", id)
	}
	p.RebalanceCount++
	m.positions[id] = p
	return nil
}

func (m *MemoryStore) AddFeesEarned(ctx context.Context, id int64, amount float64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("position %d not found", id)
	}
	p.FeesEarned += amount
	m.positions[id] = p
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.kv[key]
	return val, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
