package livelink

import (
	"fmt"
	"sync"
	"time"
)

// Member is a single entry of the membership set
type Member struct {
	UID     int32     `json:"uid"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// MembershipSet is the ordered set of streamed object names.
// Enumeration follows insertion order. All methods are safe for concurrent use
// and readers always observe a complete pre- or post-mutation state.
type MembershipSet struct {
	mu      sync.RWMutex
	order   []Member
	names   map[string]struct{}
	nextUID int32
}

// NewMembershipSet creates an empty membership set
func NewMembershipSet() *MembershipSet {
	return &MembershipSet{
		order: make([]Member, 0),
		names: make(map[string]struct{}),
	}
}

// Add appends name to the end of the set and assigns it a fresh UID.
func (s *MembershipSet) Add(name string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; exists {
		return Member{}, fmt.Errorf("%w: %s", ErrAlreadyStreaming, name)
	}

	s.nextUID++
	member := Member{
		UID:     s.nextUID,
		Name:    name,
		AddedAt: time.Now(),
	}

	s.order = append(s.order, member)
	s.names[name] = struct{}{}

	return member, nil
}

// Remove deletes name from the set, keeping the relative order of the rest.
func (s *MembershipSet) Remove(name string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; !exists {
		return Member{}, fmt.Errorf("%w: %s", ErrNotStreaming, name)
	}

	var removed Member
	for i, member := range s.order {
		if member.Name == name {
			removed = member
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	delete(s.names, name)

	return removed, nil
}

// Contains reports whether name is currently in the set
func (s *MembershipSet) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.names[name]
	return exists
}

// List returns a snapshot of the names in insertion order
func (s *MembershipSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	for i, member := range s.order {
		names[i] = member.Name
	}

	return names
}

// Members returns a snapshot of the full entries in insertion order
func (s *MembershipSet) Members() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]Member, len(s.order))
	copy(members, s.order)

	return members
}

// Len returns the number of members
func (s *MembershipSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear removes every member and returns how many were removed.
// UIDs are not reset so they stay unique for the lifetime of the set.
func (s *MembershipSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.order)
	s.order = make([]Member, 0)
	s.names = make(map[string]struct{})

	return count
}
