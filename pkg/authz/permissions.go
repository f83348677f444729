// Package authz resolves a principal's effective permission set from its
// roles and enforces conjunctive permission checks with a super-admin
// bypass. Denials are written to the audit trail before the error is
// returned.
package authz

import "sort"

// PermissionSet is a set of permission tokens.
type PermissionSet map[string]struct{}

// NewPermissionSet creates a set from the given tokens.
func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	s.Add(perms...)
	return s
}

// Add inserts tokens into the set.
func (s PermissionSet) Add(perms ...string) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Has reports whether the set contains the token.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// HasAll reports whether the set contains every token. An empty required
// list is vacuously satisfied.
func (s PermissionSet) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Missing returns the required tokens absent from the set, sorted.
func (s PermissionSet) Missing(perms ...string) []string {
	var missing []string
	for _, p := range perms {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}

// Slice returns the tokens in sorted order.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
