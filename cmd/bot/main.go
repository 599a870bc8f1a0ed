// Package main is the entry point for the Telegram rank verification bot.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/bot"
	"telegram-rank-bot/internal/config"
	"telegram-rank-bot/internal/extract"
	"telegram-rank-bot/internal/ingest"
	"telegram-rank-bot/internal/match"
	"telegram-rank-bot/internal/pkg/cache"
	"telegram-rank-bot/internal/pkg/db"
	"telegram-rank-bot/internal/pkg/lock"
	"telegram-rank-bot/internal/repository"
	"telegram-rank-bot/internal/roles"
	"telegram-rank-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Load the rank taxonomy and watch it for edits
	taxonomy, err := config.LoadTaxonomy(cfg.Verify.RanksFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load rank taxonomy")
	}
	taxonomy.Watch()
	log.Info().Int("ranks", len(taxonomy.Current())).Msg("Rank taxonomy loaded")

	// Extraction cache: in-memory tier in front of a disk tier
	diskCache, err := cache.NewDisk(filepath.Join(cfg.Verify.CacheDir, "extractions"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create disk cache")
	}
	extractionCache := cache.NewTiered(
		cache.NewMemory(cfg.Verify.MemoryCacheTTL),
		diskCache,
	)

	// Screenshot ingestor with its scoped temp dir
	tmpDir := filepath.Join(cfg.Verify.CacheDir, "tmp")
	ingestor, err := ingest.New(cfg.Verify.MaxImageBytes, cfg.Verify.DownloadTimeout, tmpDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ingestor")
	}

	// Vision extraction client
	extractor := extract.New(extract.Config{
		URL:     cfg.Verify.ExtractorURL,
		APIKey:  cfg.Verify.ExtractorAPIKey,
		Model:   cfg.Verify.ExtractorModel,
		Timeout: cfg.Verify.ExtractorTimeout,
		Mock:    cfg.Verify.MockExtractor,
	}, extractionCache)

	// Initialize repositories
	lockRepo := repository.NewLockRepository(dbPool.Pool)
	accountRepo := repository.NewAccountRepository(dbPool.Pool)
	eventRepo := repository.NewEventRepository(dbPool.Pool)
	metricsRepo := repository.NewMetricsRepository(dbPool.Pool)

	// Initialize services
	lockService := service.NewLockService(lockRepo)
	roleMachine := service.NewRoleStateMachine(roles.NewStore(dbPool.Pool), taxonomy)
	accountService := service.NewAccountService(accountRepo)

	// Matching parameters
	params := match.DefaultParams()
	if cfg.Verify.FuzzyCutoff > 0 {
		params.FuzzyCutoff = cfg.Verify.FuzzyCutoff
	}
	if cfg.Verify.LandmarkTolerance > 0 {
		params.LandmarkTolerance = cfg.Verify.LandmarkTolerance
	}

	// Initialize bot early so the audit publisher can send to it; the
	// verifier only needs the trail, which we wire before handlers run.
	identityLock := lock.NewIdentityLock()

	deps := &bot.Dependencies{
		Config:         cfg,
		AccountService: accountService,
		LockService:    lockService,
		Roles:          roleMachine,
		IdentityLock:   identityLock,
	}

	// Audit trail with debounced metrics persistence. The publisher is
	// attached after the telebot instance exists.
	publisherHole := &deferredPublisher{}
	trail := audit.NewTrail(ctx, eventRepo, metricsRepo, publisherHole, 0)
	deps.Trail = trail

	// Verification pipeline
	deps.Verifier = service.NewVerifier(
		ingestor,
		extractor,
		lockService,
		roleMachine,
		accountRepo,
		trail,
		taxonomy,
		params,
		cfg.Verify.ReviewThreshold,
		cfg.Audit.AttachImage,
	)

	telegramBot, err := bot.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	publisherHole.delegate = bot.NewEvidencePublisher(telegramBot.Telebot(), cfg.Audit.ChatID)

	// Background cache cleanup with a removal budget per window
	janitor := audit.NewJanitor(
		[]string{diskCache.Dir(), tmpDir},
		cfg.Verify.CacheTTL,
		cfg.Verify.CleanupInterval,
		cfg.Verify.CleanupBudget,
		cfg.Verify.CleanupWindow,
		trail,
	)
	go janitor.Run(ctx)

	// Prometheus exposition
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("Metrics listener started")
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown: stop polling, then persist pending metrics.
	telegramBot.Stop()
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	trail.Flush(flushCtx)

	log.Info().Msg("Bot stopped gracefully")
}

// deferredPublisher lets the audit trail be constructed before the
// telebot instance that ultimately delivers evidence.
type deferredPublisher struct {
	delegate *bot.EvidencePublisher
}

func (d *deferredPublisher) Publish(ctx context.Context, e audit.Evidence) error {
	if d.delegate == nil {
		return nil
	}
	return d.delegate.Publish(ctx, e)
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: screenshot locks. Both uniqueness keys are enforced
	// here; the named constraints are what the repository inspects to
	// classify a conflict.
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS screenshot_locks (
			id BIGSERIAL PRIMARY KEY,
			screenshot_hash CHAR(64) NOT NULL,
			owner_id BIGINT NOT NULL,
			unique_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT screenshot_locks_hash_key UNIQUE (screenshot_hash),
			CONSTRAINT screenshot_locks_unique_id_key UNIQUE (unique_id)
		);
		CREATE INDEX IF NOT EXISTS idx_screenshot_locks_owner ON screenshot_locks(owner_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: screenshot_locks table created")

	// Migration 2: verified accounts
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			unique_id TEXT NOT NULL,
			level INT NOT NULL DEFAULT -1,
			rank_name TEXT NOT NULL DEFAULT '',
			verified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}',
			CONSTRAINT accounts_owner_unique_id_key UNIQUE (owner_id, unique_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_one_primary
			ON accounts(owner_id) WHERE is_primary;
		CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: accounts table created")

	// Migration 3: append-only verification events
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_events (
			id BIGSERIAL PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			unique_id TEXT NOT NULL DEFAULT '',
			screenshot_hash TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_verification_events_owner_time
			ON verification_events(owner_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: verification_events table created")

	// Migration 4: single-row rolling metrics snapshot
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_metrics (
			id INT PRIMARY KEY CHECK (id = 1),
			total BIGINT NOT NULL DEFAULT 0,
			successes BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			manual_reviews BIGINT NOT NULL DEFAULT 0,
			confidence_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence_count BIGINT NOT NULL DEFAULT 0,
			cleanup_runs BIGINT NOT NULL DEFAULT 0,
			cleanup_removed BIGINT NOT NULL DEFAULT 0,
			rate_limit_hits BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: verification_metrics table created")

	// Migration 5: rank-tier role assignments
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identity_roles (
			owner_id BIGINT NOT NULL,
			role_token TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner_id, role_token)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: identity_roles table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
