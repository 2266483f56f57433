package callstate

import (
	"encoding/json"

	"github.com/vango-go/village-live/pkg/village"
)

// ActionSet is an insertion-ordered set of village actions keyed by ID.
// Mutating methods return a new set and leave the receiver untouched, so an
// ActionSet held by an older snapshot never changes.
type ActionSet struct {
	order []string
	byID  map[string]village.VillageAction
}

func (s ActionSet) Len() int { return len(s.order) }

// Get returns the action with the given ID.
func (s ActionSet) Get(id string) (village.VillageAction, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// List returns the actions in first-seen order.
func (s ActionSet) List() []village.VillageAction {
	out := make([]village.VillageAction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Insert adds a new action. It reports false, and returns s unchanged, when
// the ID is already present.
func (s ActionSet) Insert(a village.VillageAction) (ActionSet, bool) {
	if _, exists := s.byID[a.ID]; exists {
		return s, false
	}
	next := s.clone(1)
	next.order = append(next.order, a.ID)
	next.byID[a.ID] = a
	return next, true
}

// Patch updates status and, when response is non-nil, the response of an
// existing action in place. It reports false for an unknown ID.
func (s ActionSet) Patch(id string, status village.ActionStatus, response *string) (ActionSet, bool) {
	current, ok := s.byID[id]
	if !ok {
		return s, false
	}
	if status != "" {
		current.Status = status
	}
	if response != nil {
		current.Response = *response
	}
	next := s.clone(0)
	next.byID[id] = current
	return next, true
}

func (s ActionSet) clone(extra int) ActionSet {
	next := ActionSet{
		order: make([]string, len(s.order), len(s.order)+extra),
		byID:  make(map[string]village.VillageAction, len(s.byID)+extra),
	}
	copy(next.order, s.order)
	for id, a := range s.byID {
		next.byID[id] = a
	}
	return next
}

func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}
