package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// ttlGrace keeps a record readable briefly past its deadline so the guard can report the
// precise expiry reason instead of a bare miss.
const ttlGrace = time.Minute

// Policy holds the session timing rules.
type Policy struct {
	InactivityTimeout    time.Duration
	MaxAge               time.Duration
	RegenerationInterval time.Duration
	MaxExtension         time.Duration
}

// EventPublisher receives session lifecycle events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event models.SessionEvent) error
}

// TouchResult is the outcome of a successful touch.
type TouchResult struct {
	Session *Session
	// Regenerated is set when the session id changed; the client cookie must be reissued.
	Regenerated bool
	PreviousID  string
}

// Manager owns the session state machine:
// Unauthenticated -> Active -> (Regenerating -> Active)* -> Terminal.
type Manager struct {
	store     Store
	policy    Policy
	now       func() time.Time
	publisher EventPublisher
	metrics   MetricsRecorder
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

func NewManager(store Store, policy Policy, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Policy() Policy {
	return m.policy
}

func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) ttl(s *Session, now time.Time) time.Duration {
	ttl := s.ExpiresAt(m.policy).Sub(now) + ttlGrace
	if ttl < ttlGrace {
		return ttlGrace
	}
	return ttl
}

// Create starts a new active session for userID bound to the request fingerprint.
func (m *Manager) Create(ctx context.Context, userID string, rc RequestContext) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSessionCreating, err)
	}

	now := m.now()
	s := &Session{
		SessionID:         id,
		UserID:            userID,
		CreatedAt:         now,
		AuthTimestamp:     now,
		LastActivityAt:    now,
		LastRegeneratedAt: now,
		BoundIP:           rc.IP,
		BoundUserAgent:    rc.UserAgent,
	}

	if err := m.store.Create(ctx, s, m.ttl(s, now)); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session": ShortID(s.SessionID),
		"user_id": userID,
		"ip":      rc.IP,
	}).Info("Session created")

	m.record(ctx, models.MetricCreated)
	m.publish(ctx, s, models.ActionSessionCreated, "", rc)
	return s, nil
}

// Touch runs the per-request checks in order (binding, inactivity, absolute age), records the
// activity, and regenerates the id when it is due. A terminal outcome destroys the session and
// returns a *TerminalError.
func (m *Manager) Touch(ctx context.Context, s *Session, rc RequestContext) (*TouchResult, error) {
	now := m.now()

	if rc.IP != s.BoundIP {
		logrus.WithFields(logrus.Fields{
			"session":    ShortID(s.SessionID),
			"user_id":    s.UserID,
			"bound_ip":   s.BoundIP,
			"request_ip": rc.IP,
			"user_agent": rc.UserAgent,
		}).Warn("Session used from a different IP address")
		return nil, m.terminate(ctx, s, ReasonIPMismatch, rc)
	}

	if reason, expired := s.Expired(m.policy, now); expired {
		return nil, m.terminate(ctx, s, reason, rc)
	}

	record := func(cur *Session) error {
		if now.After(cur.LastActivityAt) {
			cur.LastActivityAt = now
		}
		cur.RequestCount++
		return nil
	}
	ttl := func(cur *Session) time.Duration { return m.ttl(cur, now) }

	if now.Sub(s.LastRegeneratedAt) > m.policy.RegenerationInterval {
		return m.regenerate(ctx, s, record, ttl, now, rc)
	}

	next, err := m.store.Update(ctx, s.SessionID, record, ttl)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			// Destroyed by a concurrent logout or revoke after it was loaded.
			return nil, terminal(ReasonRevoked)
		}
		return nil, err
	}
	return &TouchResult{Session: next}, nil
}

func (m *Manager) regenerate(ctx context.Context, old *Session, record Mutation, ttl TTLFunc, now time.Time, rc RequestContext) (*TouchResult, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	next, err := m.store.Swap(ctx, old.SessionID, id, func(cur *Session) error {
		cur.LastRegeneratedAt = now
		return record(cur)
	}, ttl)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// The old id was rotated or destroyed by a concurrent request; it is no longer valid.
			logrus.WithField("session", ShortID(old.SessionID)).Debug("Session changed during regeneration")
			return nil, terminal(ReasonSuperseded)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"old_session": ShortID(old.SessionID),
		"new_session": ShortID(next.SessionID),
		"user_id":     next.UserID,
	}).Info("Session regenerated")

	m.record(ctx, models.MetricRegenerated)
	m.publish(ctx, next, models.ActionSessionRegenerated, "", rc)
	return &TouchResult{Session: next, Regenerated: true, PreviousID: old.SessionID}, nil
}

func (m *Manager) terminate(ctx context.Context, s *Session, reason TerminationReason, rc RequestContext) error {
	if err := m.Destroy(ctx, s, reason, rc); err != nil {
		logrus.WithError(err).WithField("session", ShortID(s.SessionID)).Error("Failed to delete terminated session")
	}
	return terminal(reason)
}

// Destroy removes the session. It is idempotent.
func (m *Manager) Destroy(ctx context.Context, s *Session, reason TerminationReason, rc RequestContext) error {
	s.Revoked = true
	if err := m.store.Delete(ctx, s.SessionID); err != nil {
		return err
	}

	entry := logrus.WithFields(logrus.Fields{
		"session":    ShortID(s.SessionID),
		"user_id":    s.UserID,
		"reason":     string(reason),
		"ip":         rc.IP,
		"user_agent": rc.UserAgent,
	})
	if reason.IsSecurityViolation() {
		entry.Warn("Session destroyed after security violation")
	} else {
		entry.Info("Session destroyed")
	}

	m.record(ctx, metricFor(reason))
	m.publish(ctx, s, models.ActionSessionDestroyed, reason, rc)
	return nil
}

// RevokeUser deletes every session of userID in one store transaction and returns how many
// were removed. Either all of them are gone or an error is returned.
func (m *Manager) RevokeUser(ctx context.Context, userID string, rc RequestContext) (int64, error) {
	n, err := m.store.DeleteAllByUser(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to revoke user sessions")
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"revoked": n,
	}).Info("User sessions revoked")

	for i := int64(0); i < n; i++ {
		m.record(ctx, models.MetricRevoked)
	}
	if m.publisher != nil {
		event := models.SessionEvent{
			UserID:      userID,
			ServiceName: models.ServiceAdmin,
			Action:      models.ActionSessionsRevoked,
			Reason:      string(ReasonRevoked),
			IPAddress:   rc.IP,
			UserAgent:   rc.UserAgent,
			Metadata:    map[string]string{"count": strconv.FormatInt(n, 10)},
			Timestamp:   m.now(),
		}
		if err := m.publisher.Publish(ctx, event); err != nil {
			logrus.WithError(err).Warn("Failed to publish session event")
		}
	}
	return n, nil
}

// ReportViolation records a security violation that could not be tied to a stored session,
// such as a cookie with a bad signature.
func (m *Manager) ReportViolation(ctx context.Context, reason TerminationReason, rc RequestContext) {
	logrus.WithFields(logrus.Fields{
		"reason":     string(reason),
		"ip":         rc.IP,
		"user_agent": rc.UserAgent,
	}).Warn("Rejected session cookie")

	m.record(ctx, models.MetricSecurityViolations)
	if m.publisher == nil {
		return
	}
	event := models.SessionEvent{
		ServiceName: models.ServiceGuard,
		Action:      models.ActionSessionRejected,
		Reason:      string(reason),
		IPAddress:   rc.IP,
		UserAgent:   rc.UserAgent,
		Timestamp:   m.now(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).Warn("Failed to publish session event")
	}
}

// Extend lengthens the inactivity allowance of an owner's session, capped by MaxExtension.
func (m *Manager) Extend(ctx context.Context, sessionID, ownerID string, additional time.Duration) (*Session, error) {
	if additional <= 0 {
		return nil, models.ErrInvalidExtension
	}

	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Revoked {
		return nil, models.ErrSessionNotFound
	}
	if s.UserID != ownerID {
		return nil, models.ErrForbidden
	}

	now := m.now()
	s, err = m.store.Update(ctx, sessionID, func(cur *Session) error {
		if _, expired := cur.Expired(m.policy, now); expired {
			return models.ErrSessionNotFound
		}
		cur.ExtendedBy += additional
		if cur.ExtendedBy > m.policy.MaxExtension {
			cur.ExtendedBy = m.policy.MaxExtension
		}
		return nil
	}, func(cur *Session) time.Duration { return m.ttl(cur, now) })
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session":     ShortID(s.SessionID),
		"user_id":     s.UserID,
		"extended_by": s.ExtendedBy.String(),
	}).Info("Session inactivity deadline extended")

	m.publish(ctx, s, models.ActionSessionExtended, "", RequestContext{IP: s.BoundIP, UserAgent: s.BoundUserAgent})
	return s, nil
}

func metricFor(reason TerminationReason) string {
	switch reason {
	case ReasonInactivity:
		return models.MetricExpiredInactivity
	case ReasonMaxAge:
		return models.MetricExpiredMaxAge
	case ReasonIPMismatch, ReasonTamperDetected:
		return models.MetricSecurityViolations
	case ReasonLogout:
		return models.MetricLogouts
	case ReasonSwept:
		return models.MetricSwept
	default:
		return models.MetricRevoked
	}
}

func (m *Manager) record(ctx context.Context, metric string) {
	if m.metrics != nil {
		m.metrics.Incr(ctx, metric)
	}
}

func (m *Manager) publish(ctx context.Context, s *Session, action string, reason TerminationReason, rc RequestContext) {
	if m.publisher == nil {
		return
	}
	event := models.SessionEvent{
		UserID:      s.UserID,
		SessionID:   ShortID(s.SessionID),
		ServiceName: models.ServiceLifecycle,
		Action:      action,
		Reason:      string(reason),
		IPAddress:   rc.IP,
		UserAgent:   rc.UserAgent,
		Timestamp:   m.now(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("action", action).Warn("Failed to publish session event")
	}
}
