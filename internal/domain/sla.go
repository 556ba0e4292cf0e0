package domain

import (
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses SLA duration strings like "2h", "30m", "1d".
// Days are accepted on top of the stdlib units.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Validationf("duration is required")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, Validationf("invalid duration %q", s)
		}
		d := time.Duration(n * 24 * float64(time.Hour))
		if d <= 0 {
			return 0, Validationf("duration %q must be positive", s)
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, Validationf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, Validationf("duration %q must be positive", s)
	}
	return d, nil
}

// SLAPolicy defines the response and resolution commitments applied to
// conversations. Durations are stored as strings ("2h", "30m", "1d").
type SLAPolicy struct {
	ID                string `json:"id" db:"id"`
	Name              string `json:"name" db:"name"`
	FirstResponseTime string `json:"first_response_time" db:"first_response_time"`
	ResolutionTime    string `json:"resolution_time" db:"resolution_time"`
	NextResponseTime  string `json:"next_response_time" db:"next_response_time"`
}

// Validate parses every duration the policy carries.
func (p SLAPolicy) Validate() error {
	if p.Name == "" {
		return Validationf("policy name is required")
	}
	for _, d := range []string{p.FirstResponseTime, p.ResolutionTime, p.NextResponseTime} {
		if d == "" {
			continue
		}
		if _, err := ParseDuration(d); err != nil {
			return err
		}
	}
	return nil
}

// AppliedSLAStatus enumerates the lifecycle of an applied policy.
type AppliedSLAStatus string

const (
	AppliedSLAActive    AppliedSLAStatus = "active"
	AppliedSLAMet       AppliedSLAStatus = "met"
	AppliedSLABreached  AppliedSLAStatus = "breached"
	AppliedSLACancelled AppliedSLAStatus = "cancelled"
)

// AppliedSLA binds a policy to a conversation with computed deadlines.
// At most one applied SLA per conversation is active at a time; applying a
// new policy supersedes the previous one as cancelled.
type AppliedSLA struct {
	ID                    string           `json:"id" db:"id"`
	ConversationID        string           `json:"conversation_id" db:"conversation_id"`
	PolicyID              string           `json:"policy_id" db:"policy_id"`
	FirstResponseDeadline *time.Time       `json:"first_response_deadline,omitempty" db:"first_response_deadline"`
	ResolutionDeadline    *time.Time       `json:"resolution_deadline,omitempty" db:"resolution_deadline"`
	Status                AppliedSLAStatus `json:"status" db:"status"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
}

// SLAEventType enumerates the tracked deadline kinds.
type SLAEventType string

const (
	SLAFirstResponse SLAEventType = "first_response"
	SLAResolution    SLAEventType = "resolution"
	SLANextResponse  SLAEventType = "next_response"
)

// SLAEventStatus enumerates a deadline's progress.
type SLAEventStatus string

const (
	SLAPending     SLAEventStatus = "pending"
	SLAMet         SLAEventStatus = "met"
	SLABreachedEvt SLAEventStatus = "breached"
)

// SLAEvent is a single tracked deadline under an applied SLA.
type SLAEvent struct {
	ID           string         `json:"id" db:"id"`
	AppliedSLAID string         `json:"applied_sla_id" db:"applied_sla_id"`
	Type         SLAEventType   `json:"type" db:"type"`
	Deadline     time.Time      `json:"deadline" db:"deadline"`
	Status       SLAEventStatus `json:"status" db:"status"`
	MetAt        *time.Time     `json:"met_at,omitempty" db:"met_at"`
	BreachedAt   *time.Time     `json:"breached_at,omitempty" db:"breached_at"`
}

// Holiday is excluded from business-hour deadline math. Recurring holidays
// match on month and day across years.
type Holiday struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Date      string `json:"date" db:"date"` // YYYY-MM-DD
	Recurring bool   `json:"recurring" db:"recurring"`
}

// Matches reports whether the holiday falls on day.
func (h Holiday) Matches(day time.Time) bool {
	d, err := time.Parse("2006-01-02", h.Date)
	if err != nil {
		return false
	}
	if h.Recurring {
		return d.Month() == day.Month() && d.Day() == day.Day()
	}
	return d.Year() == day.Year() && d.Month() == day.Month() && d.Day() == day.Day()
}
