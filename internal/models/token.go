package models

import "github.com/golang-jwt/jwt/v5"

// Service token scopes
const (
	ScopeReport = "report" // submit failures, read lock status
	ScopeAdmin  = "admin"  // lock/unlock accounts, trigger reconciliation
)

// ServiceClaims are the JWT claims carried by a caller service's token.
// Callers are other backend services (the login flow, operator tooling),
// never end users.
type ServiceClaims struct {
	Service string   `json:"service"`
	Scopes  []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries the given scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
