package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timesheet-auth-svc/src/clients"
	"timesheet-auth-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// UpsertUser creates the user on first login, otherwise refreshes the profile fields.
	// Role and active flag are never touched by an upsert.
	UpsertUser(ctx context.Context, p *Profile, now time.Time) (*User, error)
	UpdateUserLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	Ping(ctx context.Context) error
}

type userRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewUserRepository(mongoClient *clients.MongoDB, collectionName string) Repository {
	return &userRepository{
		client:     mongoClient.Client,
		collection: mongoClient.Database.Collection(collectionName),
	}
}

func (r *userRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrUserNotFound
		}
		logrus.WithError(err).WithField("user_id", id).Error("Failed to get user")
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	return &user, nil
}

// upsertDocument refreshes the IdP-owned fields and only sets role and active flag on insert.
func upsertDocument(p *Profile, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"subject_id":   p.SubjectID,
			"email":        p.Email,
			"display_name": p.DisplayName,
			"first_name":   p.GivenName,
			"last_name":    p.FamilyName,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{
			"role":       RoleEmployee,
			"is_active":  true,
			"created_at": now,
		},
	}
}

func (r *userRepository) UpsertUser(ctx context.Context, p *Profile, now time.Time) (*User, error) {
	update := upsertDocument(p, now)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user User
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": p.ID}, update, opts).Decode(&user); err != nil {
		logrus.WithError(err).WithField("user_id", p.ID).Error("Failed to upsert user")
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Debug("User upserted")
	return &user, nil
}

func (r *userRepository) UpdateUserLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"last_login_at": at},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"is_active":  active,
			"updated_at": now,
		},
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", id).Error("Failed to update user status")
		return fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}
