package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ledgerline/filings-orchestrator/config"
	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/executor"
	"github.com/ledgerline/filings-orchestrator/internal/provider/blobstore"
	"github.com/ledgerline/filings-orchestrator/internal/provider/openai"
	"github.com/ledgerline/filings-orchestrator/internal/provider/pdftext"
	"github.com/ledgerline/filings-orchestrator/internal/provider/scrape"
	"github.com/ledgerline/filings-orchestrator/internal/retrieval"
	"github.com/ledgerline/filings-orchestrator/internal/server"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

func serveCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background staleness sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := log.New(os.Stderr, "[SERVE] ", log.LstdFlags)
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	st := store.New(db, cfg.Pipeline.EmbeddingDimension)
	if err := st.EnsureVectorIndex(ctx); err != nil {
		return fmt.Errorf("startup check: %w", err)
	}

	eventBus := bus.New()

	openaiClient := openai.New(
		cfg.Provider.OpenAI.APIKey, cfg.Provider.OpenAI.BaseURL,
		cfg.Provider.OpenAI.ChatModel, cfg.Provider.OpenAI.EmbeddingModel, cfg.Provider.OpenAI.ExtractionModel,
		cfg.Provider.OpenAI.Temperature, cfg.Provider.OpenAI.MaxTokens, cfg.Provider.OpenAI.Timeout,
		cfg.Provider.OpenAI.RequestsPerSecond,
	)

	blobStore, err := blobstore.NewLocalStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	providers := executor.Providers{
		Scraper:           scrape.New(cfg.General.UserAgent),
		PDFDownloader:     blobstore.NewHTTPDownloader(nil),
		BlobUploader:      blobStore,
		PDFTextExtractor:  pdftext.New(),
		Embedder:          openaiClient,
		Extractor:         openaiClient,
		SnapshotGenerator: openaiClient,
	}

	exec := executor.New(st, eventBus, executor.Config{
		ChunkSize:                cfg.Pipeline.ChunkSize,
		ChunkOverlap:             cfg.Pipeline.ChunkOverlap,
		MaxChunksPerPage:         cfg.Pipeline.MaxChunksPerPage,
		EmbeddingDimension:       cfg.Pipeline.EmbeddingDimension,
		MaxRetries:               cfg.Pipeline.MaxRetries,
		StaleJobThreshold:        cfg.Pipeline.StaleJobThreshold,
		ScrapeTimeout:            cfg.Pipeline.ScrapeTimeout,
		GenerateSnapshotOnResume: cfg.Pipeline.GenerateSnapshotOnResume,
	}, providers)

	retrievalPipeline := retrieval.New(st, openaiClient, openaiClient, cfg.Pipeline.KNNk)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	stopSweep := startStaleSweep(exec, rdb, cfg.Pipeline.StaleJobThreshold, logger)
	defer close(stopSweep)

	e := server.New(server.Deps{Store: st, Bus: eventBus, Exec: exec, Retrieval: retrievalPipeline, KeepAlive: cfg.Pipeline.KeepAliveInterval})
	return e.Start(cfg.General.Listen)
}

// startStaleSweep runs Executor.SweepStale on a ticker, guarded by a Redis
// SETNX lock when Redis is configured, so a multi-replica deployment never
// races two sweeps against the same stale job. Grounded on the teacher's
// internal/server/scheduler.go lock idiom (sched:lock:<key>, 2-minute TTL).
func startStaleSweep(exec *executor.Executor, rdb *redis.Client, threshold time.Duration, logger *log.Logger) chan struct{} {
	stop := make(chan struct{})
	interval := threshold
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sweepOnce(exec, rdb, logger)
			}
		}
	}()
	return stop
}

const (
	sweepLockKey = "filingsctl:sweep:lock"
	sweepLockTTL = 2 * time.Minute
)

// acquireSweepLock takes the cross-replica sweep lock via SETNX, returning
// ok=false when another replica already holds it. When rdb is nil (no
// Redis configured, single-replica deployment) it always grants the lock.
func acquireSweepLock(ctx context.Context, rdb *redis.Client, logger *log.Logger) (release func(), ok bool) {
	if rdb == nil {
		return func() {}, true
	}
	acquired, err := rdb.SetNX(ctx, sweepLockKey, "1", sweepLockTTL).Result()
	if err != nil {
		logger.Printf("sweep lock check failed: %v", err)
		return nil, false
	}
	if !acquired {
		return nil, false // another replica is already sweeping
	}
	return func() { rdb.Del(ctx, sweepLockKey) }, true
}

func sweepOnce(exec *executor.Executor, rdb *redis.Client, logger *log.Logger) {
	ctx := context.Background()
	release, ok := acquireSweepLock(ctx, rdb, logger)
	if !ok {
		return
	}
	defer release()

	n, err := exec.SweepStale(ctx)
	if err != nil {
		logger.Printf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		logger.Printf("coerced %d stale job(s) to failed", n)
	}
}
