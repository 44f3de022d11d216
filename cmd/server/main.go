package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/api"
	"github.com/gulfstack/invoice-agent/internal/ai"
	"github.com/gulfstack/invoice-agent/internal/auth"
	"github.com/gulfstack/invoice-agent/internal/config"
	"github.com/gulfstack/invoice-agent/internal/db"
	"github.com/gulfstack/invoice-agent/internal/export"
	"github.com/gulfstack/invoice-agent/internal/ocr"
	"github.com/gulfstack/invoice-agent/internal/organizer"
	"github.com/gulfstack/invoice-agent/internal/pipeline"
	"github.com/gulfstack/invoice-agent/internal/review"
	"github.com/gulfstack/invoice-agent/internal/sheets"
	"github.com/gulfstack/invoice-agent/internal/storage"
)

func main() {
	log := newLogger()
	defer log.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("could not load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal("could not connect to database", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal("could not initialize schema", zap.Error(err))
	}

	tokens := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenHours, cfg.Auth.DisableAuth)
	logins := auth.NewLogins(pool, tokens, log)
	if err := logins.EnsureSchema(ctx); err != nil {
		log.Fatal("could not initialize users table", zap.Error(err))
	}

	provider, err := ai.NewProvider(cfg.AI, cfg.AI.DefaultProvider)
	if err != nil {
		log.Fatal("could not create AI provider", zap.Error(err))
	}
	extractor := ai.NewExtractor(provider)
	engine := ocr.NewEngine(cfg.OCR.Languages)
	files := organizer.New(cfg.Paths.Organized)

	archive, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Warn("object storage unavailable, uploads stay local only", zap.Error(err))
		archive = nil
	}

	var mirror pipeline.Mirror
	hasMirror := false
	if m, err := sheets.New(ctx, cfg.Sheets); err != nil {
		log.Info("sheets mirror disabled", zap.Error(err))
	} else {
		mirror = m
		hasMirror = true
	}

	thresholds := review.Thresholds{
		MinConfidence: cfg.Review.MinConfidence,
		OKConfidence:  cfg.Review.OKConfidence,
	}
	processor := pipeline.NewProcessor(engine, extractor, store, files, mirror, thresholds, cfg.VAT.Rate, log)

	handler := api.NewHandler(store, processor, archive, export.New(log), logins, cfg, hasMirror, log)
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           tokens.Middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting invoice agent API",
			zap.String("addr", addr),
			zap.String("ai_provider", provider.Name()),
			zap.Bool("storage", archive != nil),
			zap.Bool("sheets_mirror", hasMirror),
			zap.Bool("auth_disabled", cfg.Auth.DisableAuth),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown was not clean", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	var log *zap.Logger
	var err error
	if os.Getenv("APP_ENV") == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}
