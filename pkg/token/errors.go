package token

// Reason discriminates why a token failed validation. Callers and
// auditors need to tell "expired" from "tampered" from "replayed";
// none of these are ever collapsed into a generic failure.
type Reason string

const (
	ReasonMissing             Reason = "missing_token"
	ReasonUnknown             Reason = "unknown_token"
	ReasonAlreadyUsed         Reason = "already_used"
	ReasonExpired             Reason = "expired"
	ReasonFingerprintMismatch Reason = "fingerprint_mismatch"
)

// ValidationError is a rejected validation attempt. Message is safe to
// surface to the operator deciding whether to retry.
type ValidationError struct {
	Code    Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SecurityRelevant reports whether the failure indicates a possible
// attack (replay or tampering) rather than an ordinary lifecycle miss.
func (e *ValidationError) SecurityRelevant() bool {
	return e.Code == ReasonAlreadyUsed || e.Code == ReasonFingerprintMismatch
}
