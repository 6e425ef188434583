package session

import (
	"fmt"

	"timesheet-auth-svc/src/internal/models"
)

// TerminationReason says why a session left the active state.
type TerminationReason string

const (
	ReasonIPMismatch     TerminationReason = "ip_mismatch"
	ReasonTamperDetected TerminationReason = "tamper_detected"
	ReasonInactivity     TerminationReason = "inactivity"
	ReasonMaxAge         TerminationReason = "max_age"
	ReasonRevoked        TerminationReason = "revoked"
	ReasonUserInactive   TerminationReason = "user_inactive"
	ReasonLogout         TerminationReason = "logout"
	ReasonReplaced       TerminationReason = "replaced"
	ReasonSuperseded     TerminationReason = "superseded"
	ReasonSwept          TerminationReason = "swept"
)

// IsSecurityViolation is true for reasons that indicate a hijack or tampering attempt.
func (r TerminationReason) IsSecurityViolation() bool {
	return r == ReasonIPMismatch || r == ReasonTamperDetected
}

// TerminalError reports that a session was destroyed while handling a request.
type TerminalError struct {
	Reason TerminationReason
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Unwrap(), e.Reason)
}

func (e *TerminalError) Unwrap() error {
	switch e.Reason {
	case ReasonIPMismatch, ReasonTamperDetected:
		return models.ErrSecurityViolation
	case ReasonInactivity, ReasonMaxAge:
		return models.ErrSessionExpired
	default:
		return models.ErrUnauthenticated
	}
}

func terminal(reason TerminationReason) error {
	return &TerminalError{Reason: reason}
}
