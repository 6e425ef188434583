package auth

import (
	"context"
	"errors"
	"time"

	"timesheet-auth-svc/src/internal/identity"
	"timesheet-auth-svc/src/internal/middleware"
	"timesheet-auth-svc/src/internal/models"
	"timesheet-auth-svc/src/internal/session"
	"timesheet-auth-svc/src/internal/user"

	"github.com/sirupsen/logrus"
)

// AssertionValidator turns a raw IdP response into a verified identity.
type AssertionValidator interface {
	Validate(raw string) (*identity.Identity, error)
}

// SignInResult is the outcome of a successful SSO callback.
type SignInResult struct {
	User    *user.User
	Session *session.Session
}

type Service interface {
	// SignIn validates the assertion, resolves the user and starts a fresh session. A live
	// session named by previousCookie is destroyed first.
	SignIn(ctx context.Context, rawAssertion, previousCookie string, rc session.RequestContext) (*SignInResult, error)
	// SignOut ends the session named by cookie, or every session of its owner when all is set.
	// A cookie that names no live session is not an error.
	SignOut(ctx context.Context, cookie string, all bool, rc session.RequestContext) error
	Extend(ctx context.Context, s *session.Session, additionalMinutes int) (*session.Session, error)
}

type authService struct {
	validator AssertionValidator
	users     user.Service
	store     session.Store
	manager   *session.Manager
	codec     *middleware.CookieCodec
	publisher session.EventPublisher
}

func NewAuthService(validator AssertionValidator, users user.Service, store session.Store,
	manager *session.Manager, codec *middleware.CookieCodec, publisher session.EventPublisher) Service {
	return &authService{
		validator: validator,
		users:     users,
		store:     store,
		manager:   manager,
		codec:     codec,
		publisher: publisher,
	}
}

func (s *authService) SignIn(ctx context.Context, rawAssertion, previousCookie string, rc session.RequestContext) (*SignInResult, error) {
	id, err := s.validator.Validate(rawAssertion)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"ip":         rc.IP,
			"user_agent": rc.UserAgent,
		}).Warn("Rejected SAML assertion")
		s.loginFailed(ctx, "", "invalid_assertion", rc)
		return nil, err
	}

	u, err := s.users.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		logrus.WithFields(logrus.Fields{
			"user_id": u.ID,
			"ip":      rc.IP,
		}).Warn("Login refused for inactive user")
		s.loginFailed(ctx, u.ID, string(session.ReasonUserInactive), rc)
		return nil, models.ErrUserInactive
	}

	s.replacePrevious(ctx, previousCookie, rc)

	sess, err := s.manager.Create(ctx, u.ID, rc)
	if err != nil {
		logrus.WithError(err).WithField("user_id", u.ID).Error("Failed to create session")
		return nil, err
	}

	if err := s.users.RecordLogin(ctx, u.ID); err != nil {
		logrus.WithError(err).WithField("user_id", u.ID).Warn("Failed to record last login")
	}

	logrus.WithFields(logrus.Fields{
		"user_id": u.ID,
		"email":   u.Email,
		"session": session.ShortID(sess.SessionID),
		"ip":      rc.IP,
	}).Info("User signed in")
	return &SignInResult{User: u, Session: sess}, nil
}

// replacePrevious destroys the live session named by the login request's cookie, if any.
func (s *authService) replacePrevious(ctx context.Context, cookie string, rc session.RequestContext) {
	if cookie == "" {
		return
	}
	id, err := s.codec.Decode(cookie)
	if err != nil {
		return
	}
	prev, err := s.store.Get(ctx, id)
	if err != nil || prev == nil {
		return
	}
	if err := s.manager.Destroy(ctx, prev, session.ReasonReplaced, rc); err != nil {
		logrus.WithError(err).WithField("session", session.ShortID(id)).Warn("Failed to destroy replaced session")
	}
}

func (s *authService) SignOut(ctx context.Context, cookie string, all bool, rc session.RequestContext) error {
	if cookie == "" {
		return nil
	}
	id, err := s.codec.Decode(cookie)
	if err != nil {
		return nil
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	if all {
		_, err := s.manager.RevokeUser(ctx, sess.UserID, rc)
		return err
	}
	return s.manager.Destroy(ctx, sess, session.ReasonLogout, rc)
}

func (s *authService) Extend(ctx context.Context, sess *session.Session, additionalMinutes int) (*session.Session, error) {
	if additionalMinutes <= 0 {
		return nil, models.ErrInvalidExtension
	}
	return s.manager.Extend(ctx, sess.SessionID, sess.UserID, time.Duration(additionalMinutes)*time.Minute)
}

func (s *authService) loginFailed(ctx context.Context, userID, reason string, rc session.RequestContext) {
	if s.publisher == nil {
		return
	}
	event := models.SessionEvent{
		UserID:      userID,
		ServiceName: models.ServiceSSO,
		Action:      models.ActionLoginFailed,
		Reason:      reason,
		IPAddress:   rc.IP,
		UserAgent:   rc.UserAgent,
		Timestamp:   s.manager.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).Warn("Failed to publish login failure")
	}
}

// isStoreFailure reports whether err means the session could not be persisted.
func isStoreFailure(err error) bool {
	return errors.Is(err, models.ErrStoreUnavailable) || errors.Is(err, models.ErrSessionCreating)
}
