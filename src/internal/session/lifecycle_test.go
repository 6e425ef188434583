package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SessionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event models.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

func requireReason(t *testing.T, err error, want TerminationReason) {
	t.Helper()
	var te *TerminalError
	require.True(t, errors.As(err, &te), "expected *TerminalError, got %v", err)
	assert.Equal(t, want, te.Reason)
}

func TestManager_CreateRoundTrip(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, officeRC.IP, got.BoundIP)
	assert.Equal(t, officeRC.UserAgent, got.BoundUserAgent)
	assert.True(t, got.AuthTimestamp.Equal(clock.Now()))
	assert.True(t, got.LastActivityAt.Equal(clock.Now()))
	assert.False(t, got.Revoked)
}

func TestManager_TouchRecordsActivity(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	res, err := m.Touch(ctx, s, officeRC)
	require.NoError(t, err)
	assert.False(t, res.Regenerated)
	assert.Equal(t, s.SessionID, res.Session.SessionID)
	assert.True(t, res.Session.LastActivityAt.Equal(clock.Now()))
	assert.EqualValues(t, 1, res.Session.RequestCount)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(clock.Now()))
}

func TestManager_InactivityExpiry(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)
	res, err := m.Touch(ctx, s, officeRC)
	require.NoError(t, err)
	current := res.Session

	clock.Advance(121 * time.Minute)
	_, err = m.Touch(ctx, current, officeRC)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	requireReason(t, err, ReasonInactivity)

	got, err := store.Get(ctx, current.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_InactivityBoundaryIsInclusive(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	clock.Advance(testPolicy.InactivityTimeout)
	_, err = m.Touch(ctx, s, officeRC)
	assert.NoError(t, err)
}

func TestManager_MaxAgeExpiry(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	current, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)
	authAt := current.AuthTimestamp

	for i := 0; i < 48; i++ {
		clock.Advance(10 * time.Minute)
		res, err := m.Touch(ctx, current, officeRC)
		require.NoError(t, err, "touch %d", i+1)
		current = res.Session
		assert.True(t, current.AuthTimestamp.Equal(authAt))
	}

	clock.Advance(time.Minute)
	_, err = m.Touch(ctx, current, officeRC)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	requireReason(t, err, ReasonMaxAge)

	got, err := store.Get(ctx, current.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_Regeneration(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	res, err := m.Touch(ctx, s, officeRC)
	require.NoError(t, err)
	require.True(t, res.Regenerated)
	assert.Equal(t, s.SessionID, res.PreviousID)
	assert.NotEqual(t, s.SessionID, res.Session.SessionID)
	assert.True(t, res.Session.LastRegeneratedAt.Equal(clock.Now()))

	old, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, old)

	fresh, err := store.Get(ctx, res.Session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "user-1", fresh.UserID)
	assert.True(t, fresh.AuthTimestamp.Equal(s.AuthTimestamp))
	assert.EqualValues(t, 1, fresh.RequestCount)
}

func TestManager_StaleRegenerationIsSuperseded(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)
	stale := *s

	clock.Advance(61 * time.Minute)
	_, err = m.Touch(ctx, s, officeRC)
	require.NoError(t, err)

	_, err = m.Touch(ctx, &stale, officeRC)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	requireReason(t, err, ReasonSuperseded)
}

func TestManager_IPMismatchTakesPrecedence(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	// Past the inactivity deadline as well; the binding check still wins.
	clock.Advance(3 * time.Hour)
	_, err = m.Touch(ctx, s, otherRC)
	assert.ErrorIs(t, err, models.ErrSecurityViolation)
	requireReason(t, err, ReasonIPMismatch)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counters[models.MetricSecurityViolations])
}

func TestManager_TouchAfterRevoke(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	n, err := store.DeleteAllByUser(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	clock.Advance(5 * time.Minute)
	_, err = m.Touch(ctx, s, officeRC)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	requireReason(t, err, ReasonRevoked)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s, ReasonLogout, officeRC))
	require.NoError(t, m.Destroy(ctx, s, ReasonLogout, officeRC))
	assert.True(t, s.Revoked)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_Extend(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	extended, err := m.Extend(ctx, s.SessionID, "user-1", 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, extended.ExtendedBy)

	extended, err = m.Extend(ctx, s.SessionID, "user-1", 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxExtension, extended.ExtendedBy)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxExtension, got.ExtendedBy)

	// 3h59m idle is inside the extended four-hour window.
	clock.Advance(4*time.Hour - time.Minute)
	res, err := m.Touch(ctx, got, officeRC)
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxExtension, res.Session.ExtendedBy)
}

func TestManager_ExtendErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	_, err = m.Extend(ctx, s.SessionID, "user-1", 0)
	assert.ErrorIs(t, err, models.ErrInvalidExtension)

	_, err = m.Extend(ctx, s.SessionID, "user-2", time.Minute)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = m.Extend(ctx, "missing", "user-1", time.Minute)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestManager_ParallelTouches(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	const workers = 30
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loaded, err := store.Get(ctx, s.SessionID)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = m.Touch(ctx, loaded, officeRC)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, workers, got.RequestCount)
	assert.True(t, got.LastActivityAt.Equal(clock.Now()))
}

func TestManager_ExtendSurvivesInFlightTouch(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	// A request loaded the session before the extension landed.
	loaded, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	extended, err := m.Extend(ctx, s.SessionID, "user-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, extended.ExtendedBy)

	res, err := m.Touch(ctx, loaded, officeRC)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, res.Session.ExtendedBy)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got.ExtendedBy)
	assert.EqualValues(t, 1, got.RequestCount)
}

func TestManager_ExtendExpiredSession(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err)

	clock.Advance(testPolicy.InactivityTimeout + time.Minute)
	_, err = m.Extend(ctx, s.SessionID, "user-1", 30*time.Minute)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestManager_PublishesRedactedEvents(t *testing.T) {
	store, _ := newTestStore(t)
	clock := newFakeClock()
	pub := &recordingPublisher{err: errors.New("broker down")}
	m := NewManager(store, testPolicy, WithClock(clock.Now), WithPublisher(pub))
	ctx := context.Background()

	s, err := m.Create(ctx, "user-1", officeRC)
	require.NoError(t, err, "publish failures must not fail the operation")

	clock.Advance(61 * time.Minute)
	res, err := m.Touch(ctx, s, officeRC)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, res.Session, ReasonLogout, officeRC))

	assert.Equal(t, []string{
		models.ActionSessionCreated,
		models.ActionSessionRegenerated,
		models.ActionSessionDestroyed,
	}, pub.actions())

	for _, e := range pub.events {
		assert.NotContains(t, e.SessionID, s.SessionID)
		assert.NotContains(t, e.SessionID, res.Session.SessionID)
		assert.Equal(t, models.ServiceLifecycle, e.ServiceName)
	}
	assert.Equal(t, string(ReasonLogout), pub.events[2].Reason)
}

func TestSession_ExpiresAt(t *testing.T) {
	at := newFakeClock().Now()
	s := &Session{AuthTimestamp: at, LastActivityAt: at.Add(7 * time.Hour)}

	// Absolute deadline comes first.
	assert.True(t, s.ExpiresAt(testPolicy).Equal(at.Add(8*time.Hour)))

	s.LastActivityAt = at
	assert.True(t, s.ExpiresAt(testPolicy).Equal(at.Add(2*time.Hour)))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh...", ShortID("abcdefghijklmnop"))
	assert.Equal(t, "abc", ShortID("abc"))
}

func TestManager_RevokeUser(t *testing.T) {
	store, _ := newTestStore(t)
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := NewManager(store, testPolicy, WithClock(clock.Now), WithMetrics(store), WithPublisher(pub))
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 2; i++ {
		s, err := m.Create(ctx, "user-1", officeRC)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	other, err := m.Create(ctx, "user-2", officeRC)
	require.NoError(t, err)

	n, err := m.RevokeUser(ctx, "user-1", otherRC)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	clock.Advance(time.Minute)
	for _, s := range sessions {
		_, err := m.Touch(ctx, s, officeRC)
		assert.ErrorIs(t, err, models.ErrUnauthenticated)
	}
	_, err = m.Touch(ctx, other, officeRC)
	assert.NoError(t, err)

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counters[models.MetricRevoked])

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, models.ActionSessionsRevoked, last.Action)
	assert.Equal(t, "2", last.Metadata["count"])
}

func TestManager_ReportViolation(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	m.ReportViolation(ctx, ReasonTamperDetected, otherRC)

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counters[models.MetricSecurityViolations])
}
