package domain

import (
	"strings"
	"time"
)

// UserType distinguishes authenticatable agents from customer contacts.
// A single email may exist once per type.
type UserType string

const (
	UserTypeAgent   UserType = "agent"
	UserTypeContact UserType = "contact"
)

// User is the principal identity shared by agents and contacts.
// Type is immutable after creation; (Email, Type) is unique.
type User struct {
	ID        string     `json:"id" db:"id"`
	Email     string     `json:"email" db:"email"` // case-folded
	Type      UserType   `json:"type" db:"type"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy *string    `json:"deleted_by,omitempty" db:"deleted_by"`
}

// FoldEmail normalizes an email address for uniqueness and lookups.
func FoldEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Availability enumerates agent presence states.
type Availability string

const (
	AvailabilityOffline            Availability = "offline"
	AvailabilityOnline             Availability = "online"
	AvailabilityAway               Availability = "away"
	AvailabilityAwayManual         Availability = "away_manual"
	AvailabilityAwayAndReassigning Availability = "away_and_reassigning"
)

// IsAway reports whether a is one of the away states. AwaySince is set while
// an agent is away and cleared on the transition back to online.
func (a Availability) IsAway() bool {
	return a == AvailabilityAway || a == AvailabilityAwayManual || a == AvailabilityAwayAndReassigning
}

// Valid reports whether a is a recognized availability state.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityOffline, AvailabilityOnline, AvailabilityAway,
		AvailabilityAwayManual, AvailabilityAwayAndReassigning:
		return true
	}
	return false
}

// Agent is an authenticatable operator. Must hold at least one role at
// create time; the core refuses creation without it.
type Agent struct {
	ID             string       `json:"id" db:"id"`
	UserID         string       `json:"user_id" db:"user_id"`
	FirstName      string       `json:"first_name" db:"first_name"`
	LastName       *string      `json:"last_name,omitempty" db:"last_name"`
	PasswordHash   string       `json:"-" db:"password_hash"`
	Availability   Availability `json:"availability" db:"availability"`
	LastLoginAt    *time.Time   `json:"last_login_at,omitempty" db:"last_login_at"`
	LastActivityAt *time.Time   `json:"last_activity_at,omitempty" db:"last_activity_at"`
	AwaySince      *time.Time   `json:"away_since,omitempty" db:"away_since"`
	APIKey         *string      `json:"api_key,omitempty" db:"api_key"`
	APISecretHash  *string      `json:"-" db:"api_secret_hash"`
}

// Contact is a customer identity reachable through one or more channels.
type Contact struct {
	ID        string  `json:"id" db:"id"`
	UserID    string  `json:"user_id" db:"user_id"`
	FirstName *string `json:"first_name,omitempty" db:"first_name"`
}

// ContactChannel binds a contact to an address within one inbox. An
// incoming message's sender resolves to exactly one contact via a channel
// in the message's inbox.
type ContactChannel struct {
	ID        string `json:"id" db:"id"`
	ContactID string `json:"contact_id" db:"contact_id"`
	InboxID   string `json:"inbox_id" db:"inbox_id"`
	Email     string `json:"email" db:"email"`
}

// Session is an agent login token. The core consumes sessions, it does not
// own their lifecycle.
type Session struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Token          string    `json:"-" db:"token"`
	CSRFToken      string    `json:"-" db:"csrf_token"`
	AuthMethod     string    `json:"auth_method" db:"auth_method"`
	ProviderName   *string   `json:"provider_name,omitempty" db:"provider_name"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
}

// Role names a permission bundle. The core reads a decided permission-set;
// it never evaluates policy beyond set membership.
type Role struct {
	Name        string   `json:"name" db:"name"`
	Permissions []string `json:"permissions" db:"permissions"`
}

// PermissionSet is the decided set of permission strings for a principal.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission strings.
func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether the set contains perm.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Principal identifies the caller of a core operation together with its
// decided permissions. The system principal (automation, sweepers) carries
// every permission.
type Principal struct {
	UserID      string
	Permissions PermissionSet
	System      bool
}

// Can reports whether the principal holds perm. System principals hold all.
func (p Principal) Can(perm string) bool {
	return p.System || p.Permissions.Has(perm)
}

// SystemPrincipal is the synthetic principal used by automations and
// background workers.
func SystemPrincipal() Principal {
	return Principal{UserID: "system", System: true}
}

// TeamRole enumerates membership roles within a team.
type TeamRole string

const (
	TeamMember TeamRole = "member"
	TeamLead   TeamRole = "lead"
)

// Team groups agents for assignment and SLA defaults.
type Team struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	SLAPolicyID *string `json:"sla_policy_id,omitempty" db:"sla_policy_id"`
}

// TeamMembership binds an agent user to a team.
type TeamMembership struct {
	TeamID string   `json:"team_id" db:"team_id"`
	UserID string   `json:"user_id" db:"user_id"`
	Role   TeamRole `json:"role" db:"role"`
}
