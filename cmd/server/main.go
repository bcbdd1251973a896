package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/sirupsen/logrus"

	"feedwall/internal/config"
	"feedwall/internal/database"
	"feedwall/internal/engine"
	"feedwall/internal/handlers"
	"feedwall/internal/media"
	"feedwall/internal/middleware"
	"feedwall/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	metrics := utils.NewMetricsCollector()

	db, err := database.NewMongoDB(cfg.Database.URI, cfg.Database.Name)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(ctx); err != nil {
			logrus.WithError(err).Warn("failed to disconnect from database")
		}
	}()

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx); err != nil {
		cancel()
		logrus.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancel()

	var uploader media.Uploader
	if cfg.Media.Bucket != "" {
		s3Uploader, err := media.NewS3Uploader(context.Background(), cfg.Media)
		if err != nil {
			logrus.Fatalf("Failed to initialize media storage: %v", err)
		}
		uploader = s3Uploader
	} else {
		logrus.Warn("no media bucket configured, image uploads disabled")
	}

	// The actor system serializes all post mutations through the feed
	// actor's mailbox.
	system := actor.NewActorSystem()
	feedEngine := engine.NewEngine(system, db, metrics)

	tokens := middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	server := handlers.NewServer(system, feedEngine, db, db, uploader, tokens, metrics)
	router := server.Routes(middleware.DefaultCORSConfig(cfg.AllowedOrigins))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logrus.WithField("addr", serverAddr).Info("starting server")
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		logrus.Fatalf("Server failed to start: %v", err)
	}
}
