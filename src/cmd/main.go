package main

import (
	"os"

	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/logger"
	"timesheet-auth-svc/src/internal/server"

	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	logger.Init(cfg)

	log.Infof("Application %s is starting....", cfg.App.Name)

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		log.WithError(err).Fatalf("Error starting server: %v", err)
	}
}
