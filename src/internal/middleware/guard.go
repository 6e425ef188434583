package middleware

import (
	"context"
	"errors"
	"time"

	"timesheet-auth-svc/src/internal/models"
	"timesheet-auth-svc/src/internal/session"
	"timesheet-auth-svc/src/internal/user"

	"github.com/sirupsen/logrus"
)

// Rejection reasons that are not session terminations.
const (
	ReasonMissingCookie    = "missing_cookie"
	ReasonSessionNotFound  = "session_not_found"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonUserUnavailable  = "user_store_unavailable"
)

// Rejection is the outcome of a request that may not proceed. Reason is for logs only.
type Rejection struct {
	Reason string
	Err    error
	// ClearCookie is false when the cookie may still be valid, e.g. the store was unreachable or
	// a concurrent request already rotated it.
	ClearCookie bool
}

func (r *Rejection) Error() string {
	return r.Reason + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Authenticated is the outcome of a request that may proceed.
type Authenticated struct {
	Session     *session.Session
	User        *user.User
	Regenerated bool
}

type guardState struct {
	rc        session.RequestContext
	cookie    string
	sessionID string
	session   *session.Session
	user      *user.User
	touched   *session.TouchResult
}

// step inspects or advances the state; a non-nil Rejection stops the pipeline.
type step func(ctx context.Context, st *guardState) *Rejection

// Guard authenticates a request by running a fixed sequence of checks against its session
// cookie: signature, stored record, account status, then the lifecycle rules.
type Guard struct {
	codec       *CookieCodec
	store       session.Store
	manager     *session.Manager
	users       user.Service
	userTimeout time.Duration
	steps       []step
}

// NewGuard builds a Guard. userTimeout bounds each call to the user store.
func NewGuard(codec *CookieCodec, store session.Store, manager *session.Manager, users user.Service, userTimeout time.Duration) *Guard {
	g := &Guard{
		codec:       codec,
		store:       store,
		manager:     manager,
		users:       users,
		userTimeout: userTimeout,
	}
	g.steps = []step{
		g.requireCookie,
		g.verifyCookie,
		g.loadSession,
		g.requireActiveUser,
		g.touch,
	}
	return g
}

// Authenticate runs every step in order. Store failures reject the request.
func (g *Guard) Authenticate(ctx context.Context, cookie string, rc session.RequestContext) (*Authenticated, *Rejection) {
	st := &guardState{rc: rc, cookie: cookie}
	for _, s := range g.steps {
		if rej := s(ctx, st); rej != nil {
			return nil, rej
		}
	}

	loginCtx, cancel := context.WithTimeout(ctx, g.userTimeout)
	defer cancel()
	if err := g.users.RecordLogin(loginCtx, st.user.ID); err != nil {
		logrus.WithError(err).WithField("user_id", st.user.ID).Warn("Failed to record last login")
	}

	return &Authenticated{
		Session:     st.touched.Session,
		User:        st.user,
		Regenerated: st.touched.Regenerated,
	}, nil
}

func (g *Guard) requireCookie(_ context.Context, st *guardState) *Rejection {
	if st.cookie == "" {
		return &Rejection{Reason: ReasonMissingCookie, Err: models.ErrUnauthenticated}
	}
	return nil
}

func (g *Guard) verifyCookie(ctx context.Context, st *guardState) *Rejection {
	id, err := g.codec.Decode(st.cookie)
	if err != nil {
		g.manager.ReportViolation(ctx, session.ReasonTamperDetected, st.rc)
		return &Rejection{
			Reason:      string(session.ReasonTamperDetected),
			Err:         &session.TerminalError{Reason: session.ReasonTamperDetected},
			ClearCookie: true,
		}
	}
	st.sessionID = id
	return nil
}

func (g *Guard) loadSession(ctx context.Context, st *guardState) *Rejection {
	s, err := g.store.Get(ctx, st.sessionID)
	if err != nil {
		return &Rejection{Reason: ReasonStoreUnavailable, Err: err}
	}
	if s == nil {
		return &Rejection{Reason: ReasonSessionNotFound, Err: models.ErrUnauthenticated, ClearCookie: true}
	}
	if s.Revoked {
		return &Rejection{
			Reason:      string(session.ReasonRevoked),
			Err:         &session.TerminalError{Reason: session.ReasonRevoked},
			ClearCookie: true,
		}
	}
	st.session = s
	return nil
}

func (g *Guard) requireActiveUser(ctx context.Context, st *guardState) *Rejection {
	userCtx, cancel := context.WithTimeout(ctx, g.userTimeout)
	u, err := g.users.GetUser(userCtx, st.session.UserID)
	cancel()
	if err != nil && !errors.Is(err, models.ErrUserNotFound) {
		return &Rejection{Reason: ReasonUserUnavailable, Err: err}
	}
	if u == nil || !u.IsActive {
		if err := g.manager.Destroy(ctx, st.session, session.ReasonUserInactive, st.rc); err != nil {
			logrus.WithError(err).WithField("user_id", st.session.UserID).Error("Failed to destroy session of inactive user")
		}
		return &Rejection{
			Reason:      string(session.ReasonUserInactive),
			Err:         &session.TerminalError{Reason: session.ReasonUserInactive},
			ClearCookie: true,
		}
	}
	st.user = u
	return nil
}

func (g *Guard) touch(ctx context.Context, st *guardState) *Rejection {
	res, err := g.manager.Touch(ctx, st.session, st.rc)
	if err != nil {
		var terminal *session.TerminalError
		if errors.As(err, &terminal) {
			return &Rejection{
				Reason:      string(terminal.Reason),
				Err:         err,
				ClearCookie: terminal.Reason != session.ReasonSuperseded,
			}
		}
		return &Rejection{Reason: ReasonStoreUnavailable, Err: err}
	}
	st.touched = res
	return nil
}
