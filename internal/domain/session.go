package domain

import "slices"

// SessionRegistry is the set of live refresh-token revocation identifiers
// held by one user. Each entry stands for one logged-in device or client.
// The zero value is an empty registry.
type SessionRegistry struct {
	ids []string
}

// NewSessionRegistry builds a registry from persisted identifiers.
// Duplicates and empty strings are dropped.
func NewSessionRegistry(ids ...string) SessionRegistry {
	var r SessionRegistry
	for _, id := range ids {
		if id != "" && !r.Contains(id) {
			r.ids = append(r.ids, id)
		}
	}
	return r
}

// Add records a new session.
func (r *SessionRegistry) Add(id string) {
	if id == "" || r.Contains(id) {
		return
	}
	r.ids = append(r.ids, id)
}

// Contains reports whether id is a live session.
func (r SessionRegistry) Contains(id string) bool {
	return id != "" && slices.Contains(r.ids, id)
}

// Remove drops id if present.
func (r *SessionRegistry) Remove(id string) {
	r.ids = slices.DeleteFunc(r.ids, func(s string) bool { return s == id })
}

// Replace swaps oldID for newID. It reports false and leaves the registry
// untouched when oldID is not a live session.
func (r *SessionRegistry) Replace(oldID, newID string) bool {
	i := slices.Index(r.ids, oldID)
	if oldID == "" || i < 0 {
		return false
	}
	r.ids = slices.Delete(r.ids, i, i+1)
	r.Add(newID)
	return true
}

// Clear revokes every session.
func (r *SessionRegistry) Clear() {
	r.ids = nil
}

// Len returns the number of live sessions.
func (r SessionRegistry) Len() int {
	return len(r.ids)
}

// IDs returns a copy of the identifiers, never nil.
func (r SessionRegistry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
