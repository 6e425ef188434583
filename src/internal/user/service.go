package user

import (
	"context"
	"strings"
	"time"

	"timesheet-auth-svc/src/internal/identity"
	"timesheet-auth-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// SessionRevoker ends every session a user holds.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) (int64, error)
}

type Service interface {
	// ResolveUser upserts the user asserted by the IdP and returns the stored record.
	ResolveUser(ctx context.Context, id *identity.Identity) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	RecordLogin(ctx context.Context, id string) error
	ActivateUser(ctx context.Context, id string) error
	// DeactivateUser marks the user inactive and revokes their sessions.
	DeactivateUser(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type userService struct {
	userRepository Repository
	revoker        SessionRevoker
	now            func() time.Time
}

func NewUserService(userRepository Repository, revoker SessionRevoker) Service {
	return &userService{
		userRepository: userRepository,
		revoker:        revoker,
		now:            time.Now,
	}
}

func (s *userService) ResolveUser(ctx context.Context, id *identity.Identity) (*User, error) {
	if id == nil || strings.TrimSpace(id.SubjectID) == "" {
		return nil, models.ErrInvalidParams
	}

	profile := ProfileFromIdentity(id)
	user, err := s.userRepository.UpsertUser(ctx, profile, s.now().UTC())
	if err != nil {
		logrus.WithError(err).WithField("email", id.Email).Error("Failed to resolve user")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"email":     user.Email,
		"role":      user.Role,
		"is_active": user.IsActive,
	}).Debug("User resolved from identity")
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, models.ErrInvalidParams
	}
	return s.userRepository.GetUser(ctx, id)
}

func (s *userService) RecordLogin(ctx context.Context, id string) error {
	return s.userRepository.UpdateUserLastLogin(ctx, id, s.now().UTC())
}

func (s *userService) ActivateUser(ctx context.Context, id string) error {
	if id == "" {
		return models.ErrInvalidParams
	}
	if err := s.userRepository.SetActive(ctx, id, true, s.now().UTC()); err != nil {
		return err
	}
	logrus.WithField("user_id", id).Info("User activated")
	return nil
}

func (s *userService) DeactivateUser(ctx context.Context, id string) error {
	if id == "" {
		return models.ErrInvalidParams
	}
	if err := s.userRepository.SetActive(ctx, id, false, s.now().UTC()); err != nil {
		return err
	}

	revoked, err := s.revoker.RevokeUser(ctx, id)
	if err != nil {
		// The guard rejects inactive users on their next request even if this failed.
		logrus.WithError(err).WithField("user_id", id).Warn("Failed to revoke sessions of deactivated user")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":          id,
		"revoked_sessions": revoked,
	}).Info("User deactivated")
	return nil
}

func (s *userService) Ping(ctx context.Context) error {
	return s.userRepository.Ping(ctx)
}
