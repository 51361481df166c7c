package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"geomvalue/pkg/api"
	"geomvalue/pkg/config"
	"geomvalue/pkg/flight"
	"geomvalue/pkg/projection"
	"geomvalue/pkg/repo"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logrus.SetLevel(cfg.Level())

	ctx := context.Background()

	// Database behind the feature endpoint, when configured
	var geomRepo *repo.GeometryRepository
	if cfg.DSN != "" {
		db, err := repo.Open(cfg.Family(), cfg.DSN)
		if err != nil {
			logrus.WithError(err).Fatal("failed to open database")
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			logrus.WithError(err).Warn("database is not reachable yet")
		}

		geomRepo, err = repo.NewGeometryRepository(db, cfg.Family())
		if err != nil {
			logrus.WithError(err).Fatal("failed to create geometry repository")
		}
	}

	// Reprojection stays off when the spatial extension cannot load
	opts := flight.Options{
		DataDir:    cfg.DataDir,
		SpillRows:  cfg.SpillRows,
		WireFormat: cfg.Wire(),
	}
	projector, err := projection.NewProjector(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reprojection disabled")
	} else {
		defer projector.Close()
		opts.Projector = projector
	}

	// Start REST API server in goroutine
	apiServer := api.NewAPIServer(geomRepo, cfg.Wire(), cfg.RestPort)
	go func() {
		if err := apiServer.Start(); err != nil {
			logrus.WithError(err).Error("REST API server error")
		}
	}()

	// Start Flight server
	if err := flight.StartFlightServer(opts, cfg.FlightPort); err != nil {
		logrus.WithError(err).Fatal("flight server failed")
	}
}
