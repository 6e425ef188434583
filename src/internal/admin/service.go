package admin

import (
	"context"
	"sort"

	"timesheet-auth-svc/src/internal/models"
	"timesheet-auth-svc/src/internal/session"

	"github.com/sirupsen/logrus"
)

type Service interface {
	// ListActive returns redacted summaries of live sessions, optionally for one user only.
	ListActive(ctx context.Context, filterUserID string) ([]session.Summary, error)
	// RevokeUser ends every session of userID.
	RevokeUser(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context) (*models.SessionStats, error)
}

type adminService struct {
	store   session.Store
	manager *session.Manager
	metrics session.MetricsRecorder
}

func NewAdminService(store session.Store, manager *session.Manager, metrics session.MetricsRecorder) Service {
	return &adminService{
		store:   store,
		manager: manager,
		metrics: metrics,
	}
}

func (s *adminService) live(ctx context.Context, filterUserID string) ([]*session.Session, error) {
	var (
		all []*session.Session
		err error
	)
	if filterUserID != "" {
		all, err = s.store.ListByUser(ctx, filterUserID)
	} else {
		all, err = s.store.ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	policy, now := s.manager.Policy(), s.manager.Now()
	live := all[:0]
	for _, sess := range all {
		if sess.Revoked {
			continue
		}
		if _, expired := sess.Expired(policy, now); expired {
			continue
		}
		live = append(live, sess)
	}
	return live, nil
}

func (s *adminService) ListActive(ctx context.Context, filterUserID string) ([]session.Summary, error) {
	live, err := s.live(ctx, filterUserID)
	if err != nil {
		logrus.WithError(err).Error("Failed to list active sessions")
		return nil, err
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].LastActivityAt.After(live[j].LastActivityAt)
	})

	policy := s.manager.Policy()
	summaries := make([]session.Summary, 0, len(live))
	for _, sess := range live {
		summaries = append(summaries, sess.Summarize(policy, true))
	}

	logrus.WithFields(logrus.Fields{
		"filter_user_id": filterUserID,
		"count":          len(summaries),
	}).Debug("Listed active sessions")
	return summaries, nil
}

func (s *adminService) RevokeUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, models.ErrInvalidParams
	}
	return s.manager.RevokeUser(ctx, userID, session.RequestContext{})
}

func (s *adminService) Stats(ctx context.Context) (*models.SessionStats, error) {
	live, err := s.live(ctx, "")
	if err != nil {
		logrus.WithError(err).Error("Failed to collect session stats")
		return nil, err
	}

	now := s.manager.Now()
	stats := &models.SessionStats{
		Active:   int64(len(live)),
		Counters: map[string]int64{},
		Store:    string(s.store.Health(ctx)),
	}

	users := make(map[string]struct{})
	var requests int64
	for _, sess := range live {
		users[sess.UserID] = struct{}{}
		requests += sess.RequestCount
		if age := int64(now.Sub(sess.AuthTimestamp).Seconds()); age > stats.OldestSessionAgeSecond {
			stats.OldestSessionAgeSecond = age
		}
	}
	stats.DistinctUsers = int64(len(users))
	if len(live) > 0 {
		stats.AverageRequests = float64(requests) / float64(len(live))
	}

	if s.metrics != nil {
		counters, err := s.metrics.Counters(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Failed to read session counters")
		} else {
			stats.Counters = counters
		}
	}
	return stats, nil
}
