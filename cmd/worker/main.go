// The worker watches the inbox directory, runs every dropped document
// through the extraction pipeline and periodically pulls spreadsheet edits
// back into the database.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/internal/ai"
	"github.com/gulfstack/invoice-agent/internal/config"
	"github.com/gulfstack/invoice-agent/internal/db"
	"github.com/gulfstack/invoice-agent/internal/inbox"
	"github.com/gulfstack/invoice-agent/internal/ocr"
	"github.com/gulfstack/invoice-agent/internal/organizer"
	"github.com/gulfstack/invoice-agent/internal/pipeline"
	"github.com/gulfstack/invoice-agent/internal/review"
	"github.com/gulfstack/invoice-agent/internal/sheets"
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

	provider, err := ai.NewProvider(cfg.AI, cfg.AI.DefaultProvider)
	if err != nil {
		log.Fatal("could not create AI provider", zap.Error(err))
	}
	extractor := ai.NewExtractor(provider)
	engine := ocr.NewEngine(cfg.OCR.Languages)
	files := organizer.New(cfg.Paths.Organized)

	var mirror pipeline.Mirror
	if m, err := sheets.New(ctx, cfg.Sheets); err != nil {
		log.Info("sheets mirror disabled", zap.Error(err))
	} else {
		mirror = m
	}

	thresholds := review.Thresholds{
		MinConfidence: cfg.Review.MinConfidence,
		OKConfidence:  cfg.Review.OKConfidence,
	}
	processor := pipeline.NewProcessor(engine, extractor, store, files, mirror, thresholds, cfg.VAT.Rate, log)

	if err := os.MkdirAll(cfg.Paths.Inbox, 0o755); err != nil {
		log.Fatal("could not create inbox directory", zap.Error(err))
	}

	events, err := inbox.Watch(ctx, inbox.WatchConfig{
		Root:        cfg.Paths.Inbox,
		InitialScan: true,
		Debounce:    2 * time.Second,
	}, log)
	if err != nil {
		log.Fatal("could not watch inbox", zap.Error(err))
	}

	log.Info("worker started",
		zap.String("inbox", cfg.Paths.Inbox),
		zap.String("ai_provider", provider.Name()),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Bool("sheets_mirror", mirror != nil),
	)

	var wg sync.WaitGroup
	if mirror != nil && cfg.Worker.SyncIntervalMin > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runMirrorSync(ctx, processor, time.Duration(cfg.Worker.SyncIntervalMin)*time.Minute, log)
		}()
	}

	sem := make(chan struct{}, cfg.Worker.Concurrency)
	inFlight := newInFlightSet()

loop:
	for path := range events {
		if !inFlight.add(path) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			inFlight.remove(path)
			break loop
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer inFlight.remove(path)

			procCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()

			inv, err := processor.Process(procCtx, path, "inbox")
			if err != nil {
				log.Warn("document processing failed", zap.String("path", path), zap.Error(err))
				return
			}
			log.Info("document processed",
				zap.Int64("id", inv.ID),
				zap.String("status", string(inv.Status)),
				zap.String("file", inv.FileOriginalName),
			)
		}(path)
	}

	wg.Wait()
	log.Info("worker stopped")
}

// runMirrorSync periodically applies spreadsheet edits to the database.
func runMirrorSync(ctx context.Context, processor *pipeline.Processor, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := processor.SyncFromMirror(ctx)
			if err != nil {
				log.Warn("sheet sync failed", zap.Error(err))
				continue
			}
			if updated > 0 {
				log.Info("applied sheet edits", zap.Int("updated", updated))
			}
		}
	}
}

// inFlightSet guards against duplicate events for a file still being
// processed. The organizer moves finished files out of the inbox, so a
// path never needs a second run while present in the set.
type inFlightSet struct {
	mu    sync.Mutex
	paths map[string]bool
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{paths: map[string]bool{}}
}

func (s *inFlightSet) add(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths[path] {
		return false
	}
	s.paths[path] = true
	return true
}

func (s *inFlightSet) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paths, path)
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
