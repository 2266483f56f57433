package relay

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/vango-go/village-live/pkg/village"
)

// ErrNotFound is returned by a Store when a record does not exist.
var ErrNotFound = errors.New("relay: not found")

// CallFilter narrows ListCalls. Zero values match everything.
type CallFilter struct {
	ElderID string
	Limit   int
}

// ActionFilter narrows ListActions.
type ActionFilter struct {
	CallID string
	Status village.ActionStatus
}

// Store persists call records, elders and village actions.
type Store interface {
	PutCall(ctx context.Context, call village.CallSession) error
	GetCall(ctx context.Context, id string) (village.CallSession, error)
	// ListCalls returns calls most recent first.
	ListCalls(ctx context.Context, filter CallFilter) ([]village.CallSession, error)

	PutElder(ctx context.Context, elder village.Elder) error
	GetElder(ctx context.Context, id string) (village.Elder, error)

	PutAction(ctx context.Context, action village.VillageAction) error
	GetAction(ctx context.Context, id string) (village.VillageAction, error)
	// ListActions returns actions in the order they were initiated.
	ListActions(ctx context.Context, filter ActionFilter) ([]village.VillageAction, error)

	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	calls   map[string]village.CallSession
	elders  map[string]village.Elder
	actions map[string]village.VillageAction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:   make(map[string]village.CallSession),
		elders:  make(map[string]village.Elder),
		actions: make(map[string]village.VillageAction),
	}
}

func (s *MemoryStore) PutCall(_ context.Context, call village.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = call
	return nil
}

func (s *MemoryStore) GetCall(_ context.Context, id string) (village.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return village.CallSession{}, ErrNotFound
	}
	return call, nil
}

func (s *MemoryStore) ListCalls(_ context.Context, filter CallFilter) ([]village.CallSession, error) {
	s.mu.RLock()
	out := make([]village.CallSession, 0, len(s.calls))
	for _, call := range s.calls {
		if filter.ElderID != "" && call.ElderID != filter.ElderID {
			continue
		}
		out = append(out, call)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b village.CallSession) int {
		if c := b.StartedAt.Compare(a.StartedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PutElder(_ context.Context, elder village.Elder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elders[elder.ID] = elder
	return nil
}

func (s *MemoryStore) GetElder(_ context.Context, id string) (village.Elder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	elder, ok := s.elders[id]
	if !ok {
		return village.Elder{}, ErrNotFound
	}
	return elder, nil
}

func (s *MemoryStore) PutAction(_ context.Context, action village.VillageAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.ID] = action
	return nil
}

func (s *MemoryStore) GetAction(_ context.Context, id string) (village.VillageAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[id]
	if !ok {
		return village.VillageAction{}, ErrNotFound
	}
	return action, nil
}

func (s *MemoryStore) ListActions(_ context.Context, filter ActionFilter) ([]village.VillageAction, error) {
	s.mu.RLock()
	out := make([]village.VillageAction, 0, len(s.actions))
	for _, a := range s.actions {
		if filter.CallID != "" && a.CallSessionID != filter.CallID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b village.VillageAction) int {
		if c := a.InitiatedAt.Compare(b.InitiatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
