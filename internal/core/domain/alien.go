package domain

import "sort"

// RepositorySet is a set of repository identifiers.
type RepositorySet map[string]struct{}

// NewRepositorySet returns a set holding the given ids.
func NewRepositorySet(ids ...string) RepositorySet {
	s := make(RepositorySet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was absent.
func (s RepositorySet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s RepositorySet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Has reports whether id is in the set.
func (s RepositorySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s RepositorySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s RepositorySet) Clone() RepositorySet {
	out := make(RepositorySet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// AlienMarking records which foreign repositories have contributed content
// to a destination node or its subtree.
//
// A node is alien exactly when its invader set is non-empty. The flag is
// derived and has no setter: the only way to change it is to change the set.
type AlienMarking struct {
	// Owner is the repository owning the node's own content.
	Owner string

	// Invaders holds the repositories that invaded the node.
	Invaders RepositorySet
}

// IsAlien reports whether any repository has invaded the node.
func (m AlienMarking) IsAlien() bool {
	return len(m.Invaders) > 0
}

// InvadedBy reports whether repositoryID has invaded the node.
func (m AlienMarking) InvadedBy(repositoryID string) bool {
	return m.Invaders.Has(repositoryID)
}
