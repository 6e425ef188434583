package models

import "time"

// SessionEvent is published for every session lifecycle transition.
type SessionEvent struct {
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id"`
	ServiceName string            `json:"service_name"`
	Action      string            `json:"action"`
	Reason      string            `json:"reason,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Session event actions
const (
	ActionSessionCreated     = "session_created"
	ActionSessionRegenerated = "session_regenerated"
	ActionSessionDestroyed   = "session_destroyed"
	ActionSessionExtended    = "session_extended"
	ActionSessionsRevoked    = "sessions_revoked"
	ActionSessionRejected    = "session_rejected"
	ActionLoginFailed        = "login_failed"
)

// Service name constants
const (
	ServiceLifecycle = "auth.session.lifecycle"
	ServiceGuard     = "auth.middleware.guard"
	ServiceSSO       = "auth.handler.sso"
	ServiceAdmin     = "auth.admin.sessions"
)
