package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// idBytes gives 256 bits of entropy per session id.
const idBytes = 32

const shortIDLength = 8

// Session is the server-side record of an authenticated browser.
type Session struct {
	SessionID         string        `json:"sessionId"`
	UserID            string        `json:"userId"`
	CreatedAt         time.Time     `json:"createdAt"`
	AuthTimestamp     time.Time     `json:"authTimestamp"`
	LastActivityAt    time.Time     `json:"lastActivityAt"`
	LastRegeneratedAt time.Time     `json:"lastRegeneratedAt"`
	BoundIP           string        `json:"boundIp"`
	BoundUserAgent    string        `json:"boundUserAgent"`
	RequestCount      int64         `json:"requestCount"`
	ExtendedBy        time.Duration `json:"extendedBy"`
	Revoked           bool          `json:"revoked"`
}

// RequestContext is the client fingerprint observed on a request.
type RequestContext struct {
	IP        string
	UserAgent string
}

// Summary is the redacted view of a session handed to operators and to the owner.
type Summary struct {
	ShortID        string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	AuthTimestamp  time.Time `json:"authTimestamp"`
	LastActivityAt time.Time `json:"lastActivity"`
	RequestCount   int64     `json:"requestCount"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// NewID returns a random url-safe session id.
func NewID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ShortID truncates a session id for logs and client-facing views.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength] + "..."
}

// InactivityDeadline is the instant after which the session is idle-expired.
func (s *Session) InactivityDeadline(timeout time.Duration) time.Time {
	return s.LastActivityAt.Add(timeout + s.ExtendedBy)
}

// AbsoluteDeadline is the instant after which the session is too old regardless of activity.
func (s *Session) AbsoluteDeadline(maxAge time.Duration) time.Time {
	return s.AuthTimestamp.Add(maxAge)
}

// ExpiresAt returns the earlier of the two deadlines.
func (s *Session) ExpiresAt(p Policy) time.Time {
	idle := s.InactivityDeadline(p.InactivityTimeout)
	abs := s.AbsoluteDeadline(p.MaxAge)
	if idle.Before(abs) {
		return idle
	}
	return abs
}

// Expired reports which deadline, if any, has passed at now.
func (s *Session) Expired(p Policy, now time.Time) (TerminationReason, bool) {
	if now.Sub(s.LastActivityAt) > p.InactivityTimeout+s.ExtendedBy {
		return ReasonInactivity, true
	}
	if now.Sub(s.AuthTimestamp) > p.MaxAge {
		return ReasonMaxAge, true
	}
	return "", false
}

func (s *Session) Summarize(p Policy, withFingerprint bool) Summary {
	sum := Summary{
		ShortID:        ShortID(s.SessionID),
		UserID:         s.UserID,
		AuthTimestamp:  s.AuthTimestamp,
		LastActivityAt: s.LastActivityAt,
		RequestCount:   s.RequestCount,
		ExpiresAt:      s.ExpiresAt(p),
	}
	if withFingerprint {
		sum.IPAddress = s.BoundIP
		sum.UserAgent = s.BoundUserAgent
	}
	return sum
}
