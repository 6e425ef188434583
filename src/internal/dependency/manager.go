package dependency

import (
	"context"
	"errors"
	"fmt"

	"timesheet-auth-svc/src/clients"
	"timesheet-auth-svc/src/internal/admin"
	"timesheet-auth-svc/src/internal/auth"
	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/identity"
	"timesheet-auth-svc/src/internal/middleware"
	"timesheet-auth-svc/src/internal/session"
	"timesheet-auth-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/streadway/amqp"
)

type Manager struct {
	Router         *gin.Engine
	Config         *config.Configuration
	Redis          *clients.RedisClient
	Mongodb        *clients.MongoDB
	Postgres       *clients.Postgres
	RabbitMQ       *clients.RabbitMQ
	Publisher      *clients.ActivityPublisher
	SessionStore   *session.RedisStore
	SessionManager *session.Manager
	Sweeper        *session.Sweeper
	AuthMiddleware *middleware.AuthMiddleware
	UserService    user.Service
	UserHandler    user.Handler
	AuthHandler    auth.Handler
	AdminHandler   admin.Handler
}

// NewDependencyManager wires the services over already connected clients. Exactly one of
// mongodb and postgres is expected; rabbitMQ may be nil.
func NewDependencyManager(router *gin.Engine,
	redisClient *clients.RedisClient,
	mongodb *clients.MongoDB,
	postgres *clients.Postgres,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) (*Manager, error) {
	policy := session.Policy{
		InactivityTimeout:    cfg.Session.InactivityTimeout,
		MaxAge:               cfg.MaxSessionAge(),
		RegenerationInterval: cfg.Session.RegenerationInterval,
		MaxExtension:         cfg.Session.MaxExtension,
	}

	var channel *amqp.Channel
	if rabbitMQ != nil {
		channel = rabbitMQ.Channel
	}
	publisher := clients.NewActivityPublisher(&cfg.Queue.RabbitMQ, channel)

	// Index sets must outlive the longest session, extension included.
	indexTTL := policy.MaxAge + policy.MaxExtension
	store := session.NewRedisStore(redisClient.Client, cfg.Redis.KeyPrefix, cfg.Session.StoreTimeout, indexTTL)
	manager := session.NewManager(store, policy,
		session.WithPublisher(publisher),
		session.WithMetrics(store))
	sweeper := session.NewSweeper(store, policy, cfg.Session.SweepInterval, nil, store)

	adminService := admin.NewAdminService(store, manager, store)

	userRepo, err := newUserRepository(mongodb, postgres, cfg)
	if err != nil {
		return nil, err
	}
	userService := user.NewUserService(userRepo, adminService)

	codec, err := middleware.NewCookieCodec(cfg.Session.Secret, cfg.Session.CookieName, cfg.IsProduction(), policy.MaxAge)
	if err != nil {
		return nil, err
	}
	guard := middleware.NewGuard(codec, store, manager, userService, cfg.RequestTimeout())

	validator, err := identity.NewValidator(&cfg.SAML)
	if err != nil {
		return nil, fmt.Errorf("saml validator: %w", err)
	}
	provider, err := identity.NewServiceProvider(&cfg.SAML)
	if err != nil {
		return nil, fmt.Errorf("saml service provider: %w", err)
	}
	authService := auth.NewAuthService(validator, userService, store, manager, codec, publisher)

	return &Manager{
		Router:         router,
		Config:         cfg,
		Redis:          redisClient,
		Mongodb:        mongodb,
		Postgres:       postgres,
		RabbitMQ:       rabbitMQ,
		Publisher:      publisher,
		SessionStore:   store,
		SessionManager: manager,
		Sweeper:        sweeper,
		AuthMiddleware: middleware.NewAuthMiddleware(guard, codec),
		UserService:    userService,
		UserHandler:    user.NewHandler(cfg, userService),
		AuthHandler:    auth.NewHandler(cfg, authService, provider, codec, policy),
		AdminHandler:   admin.NewHandler(cfg, adminService),
	}, nil
}

func newUserRepository(mongodb *clients.MongoDB, postgres *clients.Postgres, cfg *config.Configuration) (user.Repository, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if postgres == nil {
			return nil, errors.New("postgres driver selected but no pool is connected")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		defer cancel()
		if err := user.EnsureSchema(ctx, postgres.Pool); err != nil {
			return nil, err
		}
		return user.NewPostgresRepository(postgres.Pool), nil
	default:
		if mongodb == nil {
			return nil, errors.New("mongodb driver selected but no client is connected")
		}
		return user.NewUserRepository(mongodb, cfg.Database.UserCollection), nil
	}
}
