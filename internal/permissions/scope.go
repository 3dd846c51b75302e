package permissions

import "sync"

type holderSetKey struct {
	userID     string
	entityType string
	action     Action
}

// Scope memoises the expensive lookups of a single logical operation: the
// project set where a user holds a permission, and descendant expansions of
// those projects. Callers create one Scope per top-level operation and pass
// it to every resolution within it.
//
// A Scope must be busted (or a fresh one created) whenever the operation
// performs writes that change the permission picture mid-flight, e.g.
// duplicating a project and immediately granting access to the clone.
// Without the bust, a later resolution in the same operation would see a
// stale, too-small grant set.
type Scope struct {
	mu          sync.Mutex
	holders     map[holderSetKey]HolderSet
	descendants map[string][]string
}

// NewScope creates an empty resolution scope.
func NewScope() *Scope {
	return &Scope{
		holders:     make(map[holderSetKey]HolderSet),
		descendants: make(map[string][]string),
	}
}

// Bust discards every memoised entry. Call after any write that can change
// grant sets within the same operation.
func (s *Scope) Bust() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders = make(map[holderSetKey]HolderSet)
	s.descendants = make(map[string][]string)
}

func (s *Scope) holderSet(key holderSetKey) (HolderSet, bool) {
	if s == nil {
		return HolderSet{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.holders[key]
	return set, ok
}

func (s *Scope) storeHolderSet(key holderSetKey, set HolderSet) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[key] = set
}

func (s *Scope) descendantSet(projectID string) ([]string, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.descendants[projectID]
	return ids, ok
}

func (s *Scope) storeDescendantSet(projectID string, ids []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descendants[projectID] = ids
}
