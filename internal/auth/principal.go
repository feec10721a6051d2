package auth

import (
	"strings"
	"time"
)

// Role is the closed set of caller roles. Each role maps to a distinct
// rate-limit tier; a principal with several roles is served by the most
// permissive one.
type Role int

const (
	RoleStandard Role = iota
	RolePremium
	RoleAdmin
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RolePremium:
		return "premium"
	default:
		return "standard"
	}
}

// ParseRole maps a claim string onto the closed role set.
// Unknown role names degrade to standard rather than failing the request.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return RoleAdmin, true
	case "premium":
		return RolePremium, true
	case "standard", "user":
		return RoleStandard, true
	default:
		return RoleStandard, false
	}
}

// Principal is the authenticated identity derived once per request from a
// verified credential. It is immutable for the request's lifetime.
type Principal struct {
	TenantID  string
	Roles     []Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HighestRole returns the most permissive role held by the principal.
func (p *Principal) HighestRole() Role {
	highest := RoleStandard
	if p == nil {
		return highest
	}
	for _, role := range p.Roles {
		if role > highest {
			highest = role
		}
	}
	return highest
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
