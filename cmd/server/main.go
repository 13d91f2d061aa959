package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/sharelink/internal/access"
	"github.com/sdko-org/sharelink/internal/audit"
	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sdko-org/sharelink/internal/database"
	"github.com/sdko-org/sharelink/internal/geo"
	"github.com/sdko-org/sharelink/internal/handlers"
	"github.com/sdko-org/sharelink/internal/httpserver"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sdko-org/sharelink/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	db, err := database.Open(logger, database.ConfigFrom(cfg))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}

	objects, err := storage.New(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	locator, err := geo.New(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize geo lookup")
	}
	if closer, ok := locator.(io.Closer); ok {
		defer closer.Close()
	}

	links := sharing.NewLinkStore(db)
	shareService := sharing.NewService(logger, links, sharing.NewTokenIssuer(nil, links), objects, time.Now)
	recorder := access.NewRecorder(logger, db, locator, cfg.GeoIPTimeout, time.Now)
	auditLog := audit.NewLog(logger, db, time.Now)

	var requestLogDB *gorm.DB
	if cfg.RequestLogPersist {
		requestLogDB = db
	}

	handler := handlers.NewHandler(logger, cfg, db, shareService, recorder, auditLog, objects)

	r := mux.NewRouter()
	r.Use(handlers.RequestIDMiddleware)
	ips := handlers.NewClientIPResolver(cfg.TrustedProxies)
	r.Use(handlers.LoggingMiddleware(logger, requestLogDB, ips))
	handlers.RegisterRoutes(r, handler, handlers.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, ips))

	servers, serverErrs, err := httpserver.StartServers(logger, cfg, r)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start servers")
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigint:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErrs:
		logger.WithError(err).Error("Server failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpserver.Shutdown(ctx, servers); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("Server stopped")
}
