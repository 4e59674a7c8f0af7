package party

import "time"

// Role identifies what a party is to the case. Roles are data, not behavior,
// and are immutable after creation.
type Role string

const (
	RoleClaimant   Role = "claimant"
	RoleRespondent Role = "respondent"
	RoleMediator   Role = "mediator"
	RoleWitness    Role = "witness"
)

// ResponseStatus tracks whether an invited party has engaged with the case.
type ResponseStatus string

const (
	StatusInvited   ResponseStatus = "invited"
	StatusResponded ResponseStatus = "responded"
	StatusDeclined  ResponseStatus = "declined"
)

// Party mirrors the parties table. Owned exclusively by its case.
type Party struct {
	ID             string
	CaseID         string
	UserID         *string
	Role           Role
	ResponseStatus ResponseStatus
	Contact        string
	RespondedAt    *time.Time
	CreatedAt      time.Time
}

// Required reports whether this party's response and decision block the case.
// Mediators and witnesses are optional.
func (p Party) Required() bool {
	return p.Role == RoleClaimant || p.Role == RoleRespondent
}

func validRole(r Role) bool {
	switch r {
	case RoleClaimant, RoleRespondent, RoleMediator, RoleWitness:
		return true
	default:
		return false
	}
}
