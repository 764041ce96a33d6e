package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

// MemoryStore is a Store kept in process memory, used in simulated mode and tests
type MemoryStore struct {
	mu      sync.RWMutex
	swaps   map[string]*models.Swap
	events  map[string][]models.SwapEvent
	secrets map[string]hashlock.Secret
	nextID  int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		swaps:   make(map[string]*models.Swap),
		events:  make(map[string][]models.SwapEvent),
		secrets: make(map[string]hashlock.Secret),
	}
}

func (m *MemoryStore) UpsertSwap(ctx context.Context, swap *models.Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.swaps[swap.ID]; !exists {
		for _, other := range m.swaps {
			if other.Hashlock == swap.Hashlock {
				return ErrHashlockExists
			}
		}
	}

	stored := swap.Clone()
	stored.Source.SwapID = swap.ID
	stored.Destination.SwapID = swap.ID
	m.swaps[swap.ID] = stored
	return nil
}

func (m *MemoryStore) GetSwap(ctx context.Context, id string) (*models.Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	swap, ok := m.swaps[id]
	if !ok {
		return nil, nil
	}
	return swap.Clone(), nil
}

func (m *MemoryStore) ListSwaps(ctx context.Context, filter ListFilter) ([]models.Swap, error) {
	m.mu.RLock()
	matched := make([]models.Swap, 0, len(m.swaps))
	for _, swap := range m.swaps {
		if filter.Status == "" || swap.Status == filter.Status {
			matched = append(matched, *swap.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []models.Swap{}, nil
	}
	end := filter.Offset + normalizeLimit(filter.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (m *MemoryStore) ListSwapsByStatus(ctx context.Context, statuses ...models.SwapStatus) ([]models.Swap, error) {
	want := make(map[models.SwapStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	m.mu.RLock()
	matched := make([]models.Swap, 0)
	for _, swap := range m.swaps {
		if want[swap.Status] {
			matched = append(matched, *swap.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *models.SwapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	event.ID = m.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.events[event.SwapID] = append(m.events[event.SwapID], *event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, swapID string) ([]models.SwapEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]models.SwapEvent, len(m.events[swapID]))
	copy(events, m.events[swapID])
	return events, nil
}

func (m *MemoryStore) SaveSecret(ctx context.Context, swapID string, secret hashlock.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.secrets[swapID]; !exists {
		m.secrets[swapID] = secret
	}
	return nil
}

func (m *MemoryStore) LoadSecret(ctx context.Context, swapID string) (*hashlock.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	secret, ok := m.secrets[swapID]
	if !ok {
		return nil, nil
	}
	return &secret, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
