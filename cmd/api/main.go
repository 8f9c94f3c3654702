package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/auth"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/db"
	"github.com/voxlink/voxlink/internal/logging"
	"github.com/voxlink/voxlink/internal/middleware"
	"github.com/voxlink/voxlink/internal/presence"
	"github.com/voxlink/voxlink/internal/relay"
	"github.com/voxlink/voxlink/internal/ws"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logging.Init(cfg.LogLevel)
	defer func() { _ = zap.L().Sync() }()

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.DatabaseName)
	if err != nil {
		zap.S().Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		zap.S().Fatalw("failed to create indexes", "error", err)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())
	friendsStore := data.NewFriendsStore(dbClient.FriendsCollection())

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenExpiry)

	table := presence.NewTable()
	r := relay.New(table, usersStore, msgsStore)
	wsHandler := ws.NewHandler(cfg, jwtMgr, usersStore, r)

	// Small burst to allow a couple of quick retries on register/login.
	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer limiterStore.Stop()

	srv := newServer(usersStore, msgsStore, friendsStore, jwtMgr, table)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	registerRoutes(e, srv, wsHandler, jwtMgr, limiterStore)

	go func() {
		zap.S().Infow("server listening", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.S().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("graceful shutdown failed", "error", err)
	}
}
