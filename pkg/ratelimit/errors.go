package ratelimit

// Reason discriminates why a check was denied.
type Reason string

const (
	ReasonWindowExceeded       Reason = "window_exceeded"
	ReasonOutsideBusinessHours Reason = "outside_business_hours"
)

// LimitError is a denied rate-limit check. Message is safe to surface
// to the operator deciding whether to retry later.
type LimitError struct {
	Code    Reason
	Window  string // name of the violated window, empty for business hours
	Message string
}

func (e *LimitError) Error() string { return e.Message }
