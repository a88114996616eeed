// Package ratelimit enforces global volume and business-hours policy
// on privileged force-create operations. Limits are organization-wide
// by design: the operation log is shared across all subjects, because
// the policy bounds a scarce privilege, not per-caller fairness.
package ratelimit

import "time"

// Window is one sliding-window rule, e.g. at most 15 operations per
// 3600 seconds. JSON tags match the signed configuration artifact.
type Window struct {
	MaxOperations int    `json:"max_operations"`
	WindowSeconds int    `json:"time_window_seconds"`
	Name          string `json:"name"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.WindowSeconds) * time.Second
}

// BusinessHours restricts operations to a local-hour range in a named
// time zone. Start is inclusive, end is exclusive.
type BusinessHours struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	TimeZone  string `json:"timezone"`
}

// Policy is the full rate-limit policy: zero or more windows plus an
// optional business-hours constraint.
type Policy struct {
	Windows       []Window       `json:"windows"`
	BusinessHours *BusinessHours `json:"business_hours,omitempty"`
}

// DefaultPolicy returns the compiled-in policy used when no signed
// configuration artifact is present: 15 operations per hour, 30 per
// day, business hours 07:00-19:00 Europe/Madrid.
func DefaultPolicy() Policy {
	return Policy{
		Windows: []Window{
			{MaxOperations: 15, WindowSeconds: 3600, Name: "hourly_limit"},
			{MaxOperations: 30, WindowSeconds: 86400, Name: "daily_limit"},
		},
		BusinessHours: &BusinessHours{
			StartHour: 7,
			EndHour:   19,
			TimeZone:  "Europe/Madrid",
		},
	}
}

// maxWindow returns the largest configured window duration, used to
// bound how far back the operation log must be retained.
func (p Policy) maxWindow() time.Duration {
	var max time.Duration
	for _, w := range p.Windows {
		if d := w.Duration(); d > max {
			max = d
		}
	}
	return max
}
