package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	sessionKeyPattern = "%ssession:%s"       // prefix, sessionID
	userKeyPattern    = "%suser-sessions:%s" // prefix, userID
	metricsKeyPattern = "%ssession-metrics"

	scanBatch        = 200
	maxTxAttempts    = 3
	maxWriteAttempts = 10
	lockStripes      = 64
)

type RedisStore struct {
	client   *redis.Client
	prefix   string
	timeout  time.Duration
	indexTTL time.Duration
	locks    [lockStripes]sync.Mutex
}

var (
	_ Store           = (*RedisStore)(nil)
	_ MetricsRecorder = (*RedisStore)(nil)
)

// NewRedisStore returns a store over client. indexTTL must outlive the longest session.
func NewRedisStore(client *redis.Client, prefix string, timeout, indexTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		timeout:  timeout,
		indexTTL: indexTTL,
	}
}

func (r *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf(sessionKeyPattern, r.prefix, id)
}

func (r *RedisStore) userKey(userID string) string {
	return fmt.Sprintf(userKeyPattern, r.prefix, userID)
}

func (r *RedisStore) metricsKey() string {
	return fmt.Sprintf(metricsKeyPattern, r.prefix)
}

func (r *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func mapTxErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrSessionNotFound):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return models.ErrConflict
	default:
		return unavailable(err)
	}
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding session: %v", models.ErrStoreUnavailable, err)
	}
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logrus.WithField("session", ShortID(sessionID)).Debug("Session not found in store")
			return nil, nil
		}
		logrus.WithError(err).WithField("session", ShortID(sessionID)).Error("Failed to get session from store")
		return nil, unavailable(err)
	}

	return decode(data)
}

func (r *RedisStore) Create(ctx context.Context, s *Session, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSessionCreating, err)
	}

	key := r.sessionKey(s.SessionID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return models.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.SAdd(ctx, r.userKey(s.UserID), s.SessionID)
			pipe.Expire(ctx, r.userKey(s.UserID), r.indexTTL)
			return nil
		})
		return err
	}, key)

	if err = mapTxErr(err); err != nil {
		logrus.WithError(err).WithField("session", ShortID(s.SessionID)).Error("Failed to create session")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"session": ShortID(s.SessionID),
		"user_id": s.UserID,
		"ttl":     ttl.String(),
	}).Debug("Session created in store")
	return nil
}

func (r *RedisStore) Update(ctx context.Context, sessionID string, mutate Mutation, ttl TTLFunc) (*Session, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	unlock := r.lock(sessionID)
	defer unlock()

	key := r.sessionKey(sessionID)
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		var (
			updated   *Session
			mutateErr error
		)
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := r.readLive(ctx, tx, key, models.ErrSessionNotFound)
			if err != nil {
				return err
			}
			if mutateErr = mutate(current); mutateErr != nil {
				return mutateErr
			}
			data, err := json.Marshal(current)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, ttl(current))
				return nil
			})
			updated = current
			return err
		}, key)

		switch {
		case mutateErr != nil:
			return nil, mutateErr
		case err == nil:
			return updated, nil
		case !errors.Is(err, redis.TxFailedErr):
			if err = mapTxErr(err); !errors.Is(err, models.ErrSessionNotFound) {
				logrus.WithError(err).WithField("session", ShortID(sessionID)).Error("Failed to update session")
			}
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"session": ShortID(sessionID),
			"attempt": attempt + 1,
		}).Debug("Session changed during update, retrying")
	}
	return nil, models.ErrConflict
}

func (r *RedisStore) Swap(ctx context.Context, oldID, newID string, mutate Mutation, ttl TTLFunc) (*Session, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	unlock := r.lock(oldID)
	defer unlock()

	oldKey, newKey := r.sessionKey(oldID), r.sessionKey(newID)
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		var (
			next      *Session
			mutateErr error
		)
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := r.readLive(ctx, tx, oldKey, models.ErrConflict)
			if err != nil {
				return err
			}
			taken, err := tx.Exists(ctx, newKey).Result()
			if err != nil {
				return err
			}
			if taken > 0 {
				return models.ErrConflict
			}

			current.SessionID = newID
			if mutateErr = mutate(current); mutateErr != nil {
				return mutateErr
			}
			data, err := json.Marshal(current)
			if err != nil {
				return err
			}

			userKey := r.userKey(current.UserID)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, oldKey)
				pipe.Set(ctx, newKey, data, ttl(current))
				pipe.SRem(ctx, userKey, oldID)
				pipe.SAdd(ctx, userKey, newID)
				pipe.Expire(ctx, userKey, r.indexTTL)
				return nil
			})
			next = current
			return err
		}, oldKey, newKey)

		switch {
		case mutateErr != nil:
			return nil, mutateErr
		case err == nil:
			logrus.WithFields(logrus.Fields{
				"old_session": ShortID(oldID),
				"new_session": ShortID(newID),
			}).Debug("Session swapped in store")
			return next, nil
		case !errors.Is(err, redis.TxFailedErr):
			err = mapTxErr(err)
			logrus.WithError(err).WithField("session", ShortID(oldID)).Warn("Session swap failed")
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"session": ShortID(oldID),
			"attempt": attempt + 1,
		}).Debug("Session changed during swap, retrying")
	}
	return nil, models.ErrConflict
}

// readLive loads the record at key inside tx, returning missing when it is gone or revoked.
func (r *RedisStore) readLive(ctx context.Context, tx *redis.Tx, key string, missing error) (*Session, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	current, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if current.Revoked {
		return nil, missing
	}
	return current, nil
}

// lock serializes this process's writers of one session id so they do not abort each other's
// transactions. Writers in other processes are still handled by WATCH.
func (r *RedisStore) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	mu := &r.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	key := r.sessionKey(sessionID)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return unavailable(err)
	}

	s, err := decode(data)
	if err != nil {
		// Unreadable record: remove it without touching the index.
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.userKey(s.UserID), sessionID)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("session", ShortID(sessionID)).Error("Failed to delete session")
		return unavailable(err)
	}

	logrus.WithField("session", ShortID(sessionID)).Debug("Session deleted from store")
	return nil
}

func (r *RedisStore) DeleteIf(ctx context.Context, sessionID string, pred func(*Session) bool) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	key := r.sessionKey(sessionID)
	deleted := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		s, err := decode(raw)
		if err != nil {
			return err
		}
		if !pred(s) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.userKey(s.UserID), sessionID)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// The record changed underneath us; it is no longer a candidate.
		return false, nil
	}
	if err != nil {
		return false, mapTxErr(err)
	}
	return deleted, nil
}

func (r *RedisStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list user sessions")
		return nil, unavailable(err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	return r.load(ctx, keys)
}

func (r *RedisStore) ListAll(ctx context.Context) ([]*Session, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	keys, err := r.scan(ctx, r.sessionKey("*"))
	if err != nil {
		return nil, err
	}
	return r.load(ctx, keys)
}

func (r *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			logrus.WithError(err).WithField("pattern", pattern).Error("Failed to scan store")
			return nil, unavailable(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// load fetches keys in batches, skipping records that expired since they were listed.
func (r *RedisStore) load(ctx context.Context, keys []string) ([]*Session, error) {
	sessions := make([]*Session, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}

		values, err := r.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			s, err := decode([]byte(raw))
			if err != nil {
				logrus.WithError(err).WithField("key", keys[start+i]).Warn("Skipping unreadable session record")
				continue
			}
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func (r *RedisStore) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	userKey := r.userKey(userID)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var deleted int64
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.SMembers(ctx, userKey).Result()
			if err != nil {
				return err
			}
			dels := make([]*redis.IntCmd, len(ids))
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, id := range ids {
					dels[i] = pipe.Del(ctx, r.sessionKey(id))
				}
				pipe.Del(ctx, userKey)
				return nil
			})
			if err != nil {
				return err
			}
			for _, cmd := range dels {
				deleted += cmd.Val()
			}
			return nil
		}, userKey)

		if err == nil {
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"deleted": deleted,
			}).Info("User sessions deleted from store")
			return deleted, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			logrus.WithError(err).WithField("user_id", userID).Error("Failed to delete user sessions")
			return 0, unavailable(err)
		}
		logrus.WithField("attempt", attempt+1).Debug("User session index changed during revoke, retrying")
	}
	return 0, models.ErrConflict
}

func (r *RedisStore) PruneIndex(ctx context.Context) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	userKeys, err := r.scan(ctx, r.userKey("*"))
	if err != nil {
		return 0, err
	}

	var pruned int64
	for _, userKey := range userKeys {
		ids, err := r.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return pruned, unavailable(err)
		}
		if len(ids) == 0 {
			continue
		}

		exists := make([]*redis.IntCmd, len(ids))
		_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				exists[i] = pipe.Exists(ctx, r.sessionKey(id))
			}
			return nil
		})
		if err != nil {
			return pruned, unavailable(err)
		}

		var stale []interface{}
		for i, cmd := range exists {
			if cmd.Val() == 0 {
				stale = append(stale, ids[i])
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := r.client.SRem(ctx, userKey, stale...).Result()
		if err != nil {
			return pruned, unavailable(err)
		}
		pruned += n
	}
	return pruned, nil
}

func (r *RedisStore) Health(ctx context.Context) HealthStatus {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Session store health check failed")
		return Degraded
	}
	return Healthy
}

func (r *RedisStore) Incr(ctx context.Context, name string) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.client.HIncrBy(ctx, r.metricsKey(), name, 1).Err(); err != nil {
		logrus.WithError(err).WithField("metric", name).Warn("Failed to record session metric")
	}
}

func (r *RedisStore) Counters(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := r.client.HGetAll(ctx, r.metricsKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	counters := make(map[string]int64, len(raw))
	for name, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counters[name] = n
	}
	return counters, nil
}
