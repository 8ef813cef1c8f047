package auth

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"
)

// Role is a capability class an account can hold. Accounts may hold several.
type Role string

const (
	// RoleUser is the implicit baseline every account carries
	RoleUser Role = "USER"
	// RoleDoctor grants doctor capability once the account is activated
	RoleDoctor Role = "DOCTOR"
	// RoleAdmin can review activation requests
	RoleAdmin Role = "ADMIN"
)

// ParseRole maps a case-insensitive role name to a Role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// RoleSet is the set of roles held by an account. It is stored as a
// comma separated column by SQL backends and as an array by Mongo.
type RoleSet []Role

// NewRoleSet builds a normalized role set, USER is always included.
func NewRoleSet(roles ...Role) RoleSet {
	return RoleSet(roles).Normalize()
}

// Normalize drops unknown and duplicate entries, adds USER and sorts by
// privilege so equal sets compare equal.
func (s RoleSet) Normalize() RoleSet {
	out := RoleSet{RoleUser}
	for _, r := range s {
		parsed, ok := ParseRole(string(r))
		if !ok || slices.Contains(out, parsed) {
			continue
		}
		out = append(out, parsed)
	}
	slices.SortFunc(out, func(a, b Role) int { return roleRank(a) - roleRank(b) })
	return out
}

// Has reports whether the set contains role. USER is always held.
func (s RoleSet) Has(role Role) bool {
	if role == RoleUser {
		return true
	}
	return slices.Contains(s, role)
}

// Strings returns the role names, used for token claims.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// RoleSetFromStrings parses claim values, ignoring unknown names.
func RoleSetFromStrings(values []string) RoleSet {
	roles := make(RoleSet, 0, len(values))
	for _, v := range values {
		if r, ok := ParseRole(v); ok {
			roles = append(roles, r)
		}
	}
	return roles.Normalize()
}

// Value implements driver.Valuer.
func (s RoleSet) Value() (driver.Value, error) {
	return strings.Join(s.Normalize().Strings(), ","), nil
}

// Scan implements sql.Scanner.
func (s *RoleSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = NewRoleSet()
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("auth: cannot scan %T into RoleSet", src)
	}

	parts := strings.Split(raw, ",")
	*s = RoleSetFromStrings(parts)
	return nil
}

func roleRank(r Role) int {
	switch r {
	case RoleUser:
		return 0
	case RoleDoctor:
		return 1
	case RoleAdmin:
		return 2
	default:
		return 3
	}
}

type matchMode int

const (
	matchAny matchMode = iota
	matchAll
)

// Requirement declares which roles an operation needs, either any of them
// or all of them.
type Requirement struct {
	mode  matchMode
	roles []Role
}

// AnyOf is satisfied when the caller holds at least one of roles.
func AnyOf(roles ...Role) Requirement {
	return Requirement{mode: matchAny, roles: roles}
}

// AllOf is satisfied when the caller holds every one of roles.
func AllOf(roles ...Role) Requirement {
	return Requirement{mode: matchAll, roles: roles}
}

// Roles returns a copy of the required roles.
func (r Requirement) Roles() []Role {
	return slices.Clone(r.roles)
}

// SatisfiedBy evaluates the requirement against a role set. An empty
// requirement is always satisfied.
func (r Requirement) SatisfiedBy(set RoleSet) bool {
	if len(r.roles) == 0 {
		return true
	}

	switch r.mode {
	case matchAll:
		for _, role := range r.roles {
			if !set.Has(role) {
				return false
			}
		}
		return true
	default:
		for _, role := range r.roles {
			if set.Has(role) {
				return true
			}
		}
		return false
	}
}

func (r Requirement) String() string {
	names := make([]string, 0, len(r.roles))
	for _, role := range r.roles {
		names = append(names, string(role))
	}
	if r.mode == matchAll {
		return "all(" + strings.Join(names, ",") + ")"
	}
	return "any(" + strings.Join(names, ",") + ")"
}
