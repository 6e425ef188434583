package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T, userID string, at time.Time) *Session {
	t.Helper()
	id, err := NewID()
	require.NoError(t, err)
	return &Session{
		SessionID:         id,
		UserID:            userID,
		CreatedAt:         at,
		AuthTimestamp:     at,
		LastActivityAt:    at,
		LastRegeneratedAt: at,
		BoundIP:           officeRC.IP,
		BoundUserAgent:    officeRC.UserAgent,
	}
}

func TestNewID(t *testing.T) {
	a, err := NewID()
	require.NoError(t, err)
	b, err := NewID()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())

	require.NoError(t, store.Create(ctx, s, time.Hour))

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.BoundIP, got.BoundIP)
	assert.True(t, s.AuthTimestamp.Equal(got.AuthTimestamp))
	assert.True(t, mr.Exists("test:session:"+s.SessionID))
	assert.Equal(t, time.Hour, mr.TTL("test:session:"+s.SessionID))

	err = store.Create(ctx, s, time.Hour)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func touchAt(at time.Time) Mutation {
	return func(cur *Session) error {
		if at.After(cur.LastActivityAt) {
			cur.LastActivityAt = at
		}
		cur.RequestCount++
		return nil
	}
}

func fixedTTL(d time.Duration) TTLFunc {
	return func(*Session) time.Duration { return d }
}

func TestRedisStore_Update(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	start := newFakeClock().Now()
	s := testSession(t, "user-1", start)
	require.NoError(t, store.Create(ctx, s, time.Hour))

	got, err := store.Update(ctx, s.SessionID, touchAt(start.Add(10*time.Minute)), fixedTTL(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.RequestCount)

	// An older timestamp never moves lastActivityAt backwards.
	got, err = store.Update(ctx, s.SessionID, touchAt(start.Add(5*time.Minute)), fixedTTL(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(start.Add(10*time.Minute)))
	assert.EqualValues(t, 2, got.RequestCount)

	stored, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.LastActivityAt.Equal(start.Add(10*time.Minute)))
	assert.EqualValues(t, 2, stored.RequestCount)
	assert.Equal(t, 2*time.Hour, mr.TTL("test:session:"+s.SessionID))
}

func TestRedisStore_UpdateMutationError(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())
	require.NoError(t, store.Create(ctx, s, time.Hour))

	_, err := store.Update(ctx, s.SessionID, func(cur *Session) error {
		cur.RequestCount = 99
		return models.ErrForbidden
	}, fixedTTL(time.Hour))
	assert.ErrorIs(t, err, models.ErrForbidden)

	stored, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Zero(t, stored.RequestCount)
}

func TestRedisStore_UpdateRetriesOnConcurrentWrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())
	require.NoError(t, store.Create(ctx, s, time.Hour))

	calls := 0
	got, err := store.Update(ctx, s.SessionID, func(cur *Session) error {
		calls++
		if calls == 1 {
			// Another instance commits while this transaction is open.
			other := *cur
			other.RequestCount = 5
			other.ExtendedBy = 30 * time.Minute
			data, err := json.Marshal(&other)
			require.NoError(t, err)
			require.NoError(t, store.client.Set(ctx, store.sessionKey(s.SessionID), data, time.Hour).Err())
		}
		cur.RequestCount++
		return nil
	}, fixedTTL(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 6, got.RequestCount)
	assert.Equal(t, 30*time.Minute, got.ExtendedBy)
}

func TestRedisStore_UpdateDoesNotResurrect(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())
	require.NoError(t, store.Create(ctx, s, time.Hour))
	require.NoError(t, store.Delete(ctx, s.SessionID))

	_, err := store.Update(ctx, s.SessionID, touchAt(s.LastActivityAt), fixedTTL(time.Hour))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	got, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_Swap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	start := newFakeClock().Now()
	s := testSession(t, "user-1", start)
	s.ExtendedBy = 15 * time.Minute
	require.NoError(t, store.Create(ctx, s, time.Hour))

	newID, err := NewID()
	require.NoError(t, err)

	next, err := store.Swap(ctx, s.SessionID, newID, touchAt(start.Add(time.Minute)), fixedTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, newID, next.SessionID)
	assert.EqualValues(t, 1, next.RequestCount)
	assert.Equal(t, 15*time.Minute, next.ExtendedBy)

	old, err := store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, old)

	got, err := store.Get(ctx, newID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.UserID, got.UserID)

	listed, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, newID, listed[0].SessionID)

	// The old id is gone, so swapping it again must fail.
	_, err = store.Swap(ctx, s.SessionID, "another-id", touchAt(start), fixedTTL(time.Hour))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRedisStore_SwapRejectsTakenID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	at := newFakeClock().Now()
	a := testSession(t, "user-1", at)
	b := testSession(t, "user-1", at)
	require.NoError(t, store.Create(ctx, a, time.Hour))
	require.NoError(t, store.Create(ctx, b, time.Hour))

	_, err := store.Swap(ctx, a.SessionID, b.SessionID, touchAt(at), fixedTTL(time.Hour))
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := store.Get(ctx, a.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRedisStore_DeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())
	require.NoError(t, store.Create(ctx, s, time.Hour))

	require.NoError(t, store.Delete(ctx, s.SessionID))
	require.NoError(t, store.Delete(ctx, s.SessionID))

	listed, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRedisStore_DeleteAllByUser(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	at := newFakeClock().Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, testSession(t, "user-1", at), time.Hour))
	}
	keep := testSession(t, "user-2", at)
	require.NoError(t, store.Create(ctx, keep, time.Hour))

	n, err := store.DeleteAllByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.False(t, mr.Exists("test:user-sessions:user-1"))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.SessionID, all[0].SessionID)

	n, err = store.DeleteAllByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_DeleteIf(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s := testSession(t, "user-1", newFakeClock().Now())
	require.NoError(t, store.Create(ctx, s, time.Hour))

	deleted, err := store.DeleteIf(ctx, s.SessionID, func(*Session) bool { return false })
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteIf(ctx, s.SessionID, func(cur *Session) bool { return cur.UserID == "user-1" })
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteIf(ctx, s.SessionID, func(*Session) bool { return true })
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisStore_PruneIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	at := newFakeClock().Now()
	live := testSession(t, "user-1", at)
	gone := testSession(t, "user-1", at)
	require.NoError(t, store.Create(ctx, live, time.Hour))
	require.NoError(t, store.Create(ctx, gone, time.Minute))

	mr.FastForward(2 * time.Minute)

	pruned, err := store.PruneIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	members, err := mr.Members("test:user-sessions:user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{live.SessionID}, members)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, err := store.Get(ctx, "any")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = store.DeleteAllByUser(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	assert.Equal(t, Degraded, store.Health(ctx))
}

func TestRedisStore_Health(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Equal(t, Healthy, store.Health(context.Background()))
}

func TestRedisStore_Counters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Incr(ctx, models.MetricCreated)
	store.Incr(ctx, models.MetricCreated)
	store.Incr(ctx, models.MetricLogouts)

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counters[models.MetricCreated])
	assert.EqualValues(t, 1, counters[models.MetricLogouts])
}
