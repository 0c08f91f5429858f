package chatsync

import "sort"

// PresenceSet is the set of user ids currently online.
//
// A PresenceSet is treated as immutable: every mutating method returns a new
// set and leaves the receiver untouched, so snapshots can share it freely.
type PresenceSet map[string]struct{}

// NewPresenceSet builds a set from a list of user ids.
func NewPresenceSet(ids ...string) PresenceSet {
	p := make(PresenceSet, len(ids))
	for _, id := range ids {
		if id != "" {
			p[id] = struct{}{}
		}
	}
	return p
}

// Replace returns a set holding exactly ids.
func (p PresenceSet) Replace(ids []string) PresenceSet {
	return NewPresenceSet(ids...)
}

// Add returns a set that also holds id. Adding a present id returns p itself.
func (p PresenceSet) Add(id string) PresenceSet {
	if id == "" || p.Has(id) {
		return p
	}
	out := make(PresenceSet, len(p)+1)
	for k := range p {
		out[k] = struct{}{}
	}
	out[id] = struct{}{}
	return out
}

// Remove returns a set without id. Removing an absent id returns p itself.
func (p PresenceSet) Remove(id string) PresenceSet {
	if !p.Has(id) {
		return p
	}
	out := make(PresenceSet, len(p))
	for k := range p {
		if k != id {
			out[k] = struct{}{}
		}
	}
	return out
}

// Has reports whether id is online.
func (p PresenceSet) Has(id string) bool {
	_, ok := p[id]
	return ok
}

// List returns the online user ids in ascending order.
func (p PresenceSet) List() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
