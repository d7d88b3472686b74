package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmate-sync/config"
	"taskmate-sync/storage"
)

func main() {
	config.SetupLogging()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	timeout, err := config.EnvDur("INIT_TIMEOUT", 2*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tables := storage.TablesFromEnv(os.Getenv)
	if err := storage.Provision(ctx, connStr, tables, log.StandardLogger()); err != nil {
		log.WithError(err).Fatal("storage init failed")
	}
	log.WithFields(log.Fields{
		"boards":     tables.Boards,
		"workspaces": tables.Workspaces,
		"users":      tables.Users,
		"queue":      tables.Commands,
	}).Info("storage ready")
}
