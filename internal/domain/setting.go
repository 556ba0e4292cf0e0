package domain

import "time"

// Setting is a runtime key/value read from storage at sweep time, so
// reconfiguration takes effect on the next tick without a restart.
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known setting keys.
const (
	SettingIdleOnlineTimeout = "availability.idle_online_timeout" // online -> away
	SettingMaxIdleThreshold  = "availability.max_idle_threshold"  // away -> offline
	SettingSweepInterval     = "availability.sweep_interval"      // sweeper tick
	SettingBusinessHoursMode = "sla.business_hours"               // "true" enables clamping
	SettingDefaultSLAPolicy  = "sla.default_policy_id"            // applied when the team has none
	SettingResetRateLimit    = "auth.password_reset_rate_limit"   // integer, default 5
)
