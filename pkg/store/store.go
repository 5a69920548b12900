// Package store is the normalized client-side annotation cache: a by-id
// map plus an ordered id list, mutated through a tagged-union action type
// and a pure transition function.
//
// The Store wrapper serializes applies behind a mutex, so every mutation
// is atomic from the point of view of a concurrent reader. Readers never
// observe a reconcile in a half-applied state (neither id present, or both
// present).
package store

import (
	"sync"

	"github.com/pagemark/pagemark.go/pkg/models"
)

// State is the immutable snapshot the transition function operates on.
type State struct {
	ByID       map[string]models.Annotation
	Order      []string
	ActiveTool models.Tool
}

// NewState returns an empty state with the select tool active.
func NewState() State {
	return State{
		ByID:       map[string]models.Annotation{},
		Order:      []string{},
		ActiveTool: models.ToolSelect,
	}
}

// Action is the closed set of store mutations.
type Action interface {
	isAction()
}

// SetAll replaces the entire cache. Used on initial load and full resync;
// the server is ground truth, so no revision checks apply.
type SetAll struct {
	Annotations []models.Annotation
}

// Upsert inserts or overwrites by id, appending to the order only when the
// id is new. Used for optimistic local entries and server-pushed peer
// creations and updates alike.
type Upsert struct {
	Annotation models.Annotation
}

// Patch shallow-merges changes into an existing entity. A patch for an
// absent id is a no-op; that happens legitimately when a peer deleted the
// annotation mid-edit.
type Patch struct {
	ID      string
	Changes models.Patch
}

// ReconcileOptimistic atomically swaps a temporary client id for the
// server-confirmed entity, preserving the entity's position in the order.
type ReconcileOptimistic struct {
	TempID string
	Saved  models.Annotation
}

// Remove deletes an entity from the cache and the order.
type Remove struct {
	ID string
}

// SetActiveTool records the tool selection.
type SetActiveTool struct {
	Tool models.Tool
}

func (SetAll) isAction()              {}
func (Upsert) isAction()              {}
func (Patch) isAction()               {}
func (ReconcileOptimistic) isAction() {}
func (Remove) isAction()              {}
func (SetActiveTool) isAction()       {}

// Reduce applies a single action to a state and returns the next state.
// It never mutates its input.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SetAll:
		byID := make(map[string]models.Annotation, len(a.Annotations))
		order := make([]string, 0, len(a.Annotations))
		for _, ann := range a.Annotations {
			if _, seen := byID[ann.ID]; !seen {
				order = append(order, ann.ID)
			}
			byID[ann.ID] = ann
		}
		return State{ByID: byID, Order: order, ActiveTool: s.ActiveTool}

	case Upsert:
		byID := cloneByID(s.ByID)
		_, exists := byID[a.Annotation.ID]
		byID[a.Annotation.ID] = a.Annotation
		order := s.Order
		if !exists {
			order = append(append([]string{}, s.Order...), a.Annotation.ID)
		}
		return State{ByID: byID, Order: order, ActiveTool: s.ActiveTool}

	case Patch:
		current, ok := s.ByID[a.ID]
		if !ok {
			return s
		}
		byID := cloneByID(s.ByID)
		byID[a.ID] = a.Changes.Apply(current)
		return State{ByID: byID, Order: s.Order, ActiveTool: s.ActiveTool}

	case ReconcileOptimistic:
		byID := cloneByID(s.ByID)
		delete(byID, a.TempID)
		_, hadSaved := byID[a.Saved.ID]
		byID[a.Saved.ID] = a.Saved

		order := make([]string, 0, len(s.Order)+1)
		replaced := false
		for _, id := range s.Order {
			switch id {
			case a.TempID:
				// Keep the entity's position: the temp slot becomes
				// the server id, unless the server id is already listed.
				if !hadSaved {
					order = append(order, a.Saved.ID)
					replaced = true
				}
			case a.Saved.ID:
				order = append(order, id)
				replaced = true
			default:
				order = append(order, id)
			}
		}
		if !replaced {
			order = append(order, a.Saved.ID)
		}
		return State{ByID: byID, Order: order, ActiveTool: s.ActiveTool}

	case Remove:
		if _, ok := s.ByID[a.ID]; !ok {
			return s
		}
		byID := cloneByID(s.ByID)
		delete(byID, a.ID)
		order := make([]string, 0, len(s.Order)-1)
		for _, id := range s.Order {
			if id != a.ID {
				order = append(order, id)
			}
		}
		return State{ByID: byID, Order: order, ActiveTool: s.ActiveTool}

	case SetActiveTool:
		return State{ByID: s.ByID, Order: s.Order, ActiveTool: a.Tool}
	}

	return s
}

func cloneByID(m map[string]models.Annotation) map[string]models.Annotation {
	out := make(map[string]models.Annotation, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is the shared annotation cache. All mutation goes through Apply;
// the state is replaced wholesale under the lock, so readers holding a
// returned snapshot are never affected by later writes.
type Store struct {
	mu    sync.RWMutex
	state State
}

func New() *Store {
	return &Store{state: NewState()}
}

// Apply runs one action through the transition function.
func (s *Store) Apply(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, action)
}

// Get returns the annotation under id, if present.
func (s *Store) Get(id string) (models.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.ByID[id]
	return a, ok
}

// All returns every annotation in insertion order.
func (s *Store) All() []models.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Annotation, 0, len(s.state.Order))
	for _, id := range s.state.Order {
		if a, ok := s.state.ByID[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ByPage returns the annotations anchored to the given page, in insertion
// order. It is a pure projection, safe to call on every render pass.
func (s *Store) ByPage(page int) []models.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Annotation
	for _, id := range s.state.Order {
		if a, ok := s.state.ByID[id]; ok && a.Page == page {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of cached annotations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.ByID)
}

// ActiveTool returns the currently selected tool.
func (s *Store) ActiveTool() models.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveTool
}

// Snapshot returns the current state. The caller must treat it as
// read-only.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
