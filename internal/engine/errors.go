package engine

// Rejection codes reported to the initiating connection. These cover every
// locally recovered failure: validation, authorization, content policy and
// upstream unavailability. A rejection never crashes the broker and never
// reaches the other party's view.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeForbidden            = "forbidden"
	CodeNotAuthorized        = "not_authorized"
	CodeNotFound             = "not_found"
	CodeValidationFailed     = "validation_failed"
	CodePIIDetected          = "pii_detected"
	CodeContentBlocked       = "content_blocked"
	CodeAlreadyBlocked       = "already_blocked"
	CodeInvalidScope         = "invalid_scope"
	CodeUpstreamUnavailable  = "upstream_unavailable"
)

// Reject is a typed, user-facing refusal. Reason is a short human-readable
// sentence, never a stack trace.
type Reject struct {
	Code   string
	Reason string
}

func (r *Reject) Error() string { return r.Reason }

func reject(code, reason string) error {
	return &Reject{Code: code, Reason: reason}
}
