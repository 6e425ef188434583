package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"timesheet-auth-svc/src/clients"
	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/dependency"
	"timesheet-auth-svc/src/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var log = logrus.WithField("module", "server")

type Server struct {
	cfg *config.Configuration
}

func New(cfg *config.Configuration) *Server {
	return &Server{cfg: cfg}
}

// Start connects the backing services, serves HTTP and runs the session sweeper until SIGINT or
// SIGTERM, then shuts both down.
func (s *Server) Start() error {
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := clients.NewRedisClient(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis client")
		}
	}()

	var (
		mongodb  *clients.MongoDB
		postgres *clients.Postgres
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		postgres, err = clients.NewPostgres(&cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer postgres.Close()
	default:
		mongodb, err = clients.NewMongoDB(&cfg.Database)
		if err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := mongodb.Close(closeCtx); err != nil {
				log.WithError(err).Warn("Failed to close MongoDB client")
			}
		}()
	}

	rabbitMQ := connectRabbitMQ(cfg)
	if rabbitMQ != nil {
		defer func() {
			if err := rabbitMQ.Close(); err != nil {
				log.WithError(err).Warn("Failed to close RabbitMQ connection")
			}
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.AccessLog())
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	deps, err := dependency.NewDependencyManager(router, redisClient, mongodb, postgres, rabbitMQ, cfg)
	if err != nil {
		return err
	}
	SetupRoutes(deps)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"environment": cfg.App.Environment,
			"driver":      cfg.Database.Driver,
		}).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deps.Sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// connectRabbitMQ returns nil when no broker is configured or it cannot be reached; session
// events are then only logged.
func connectRabbitMQ(cfg *config.Configuration) *clients.RabbitMQ {
	if cfg.Queue.RabbitMQ.Url == "" {
		log.Info("RabbitMQ url not set, session event publishing disabled")
		return nil
	}

	rabbitMQ, err := clients.NewRabbitMQ(&cfg.Queue)
	if err != nil {
		log.WithError(err).Warn("RabbitMQ unavailable, session event publishing disabled")
		return nil
	}
	if err := rabbitMQ.SetupExchange(); err != nil {
		log.WithError(err).Warn("Failed to declare RabbitMQ exchange, session event publishing disabled")
		_ = rabbitMQ.Close()
		return nil
	}
	return rabbitMQ
}
