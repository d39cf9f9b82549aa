package domain

import "time"

// AdminPrincipal is the administrator behind an authenticated API call.
type AdminPrincipal struct {
	AdminID   int64
	Name      string
	ExpiresAt time.Time
}

// Claimant converts the principal into the identity recorded on a claim.
func (p AdminPrincipal) Claimant() Claimant {
	return Claimant{ID: p.AdminID, Name: p.Name}
}
