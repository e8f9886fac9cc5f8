package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/originaryx/trace/internal/admission"
	"github.com/originaryx/trace/internal/api"
	"github.com/originaryx/trace/internal/bundle"
	"github.com/originaryx/trace/internal/replay"
	"github.com/originaryx/trace/internal/secrets"
	"github.com/originaryx/trace/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBUrl         string `yaml:"db_url"`
	RedisAddr     string `yaml:"redis_addr"`
	MigrationsDir string `yaml:"migrations_dir"`
	SigningKey    string `yaml:"signing_key"`
	AdminToken    string `yaml:"admin_token"`
	LogLevel      string `yaml:"log_level"`

	SignedRateLimit  int64 `yaml:"signed_rate_limit"`
	BrowserRateLimit int64 `yaml:"browser_rate_limit"`

	PruneInterval time.Duration `yaml:"prune_interval"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("TRACE_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8480",
		MigrationsDir: "migrations",
		SigningKey:    "trace-bundle.key",
		LogLevel:      "info",
		PruneInterval: time.Hour,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("TRACE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("TRACE_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	masterKey := os.Getenv("TRACE_MASTER_KEY")
	if masterKey == "" {
		log.Fatal().Msg("TRACE_MASTER_KEY env var must be set")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	secretStore, err := secrets.NewStore(store, []byte(masterKey))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secret store")
	}

	// Shared state backends. Without Redis a single instance falls back to
	// in-memory stores; replay and rate-limit state is then per-process.
	var nonces replay.NonceStore
	var counters admission.CounterStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).
				Msg("redis unreachable, falling back to in-memory nonce and rate-limit stores")
			nonces = replay.NewMemoryStore()
			counters = admission.NewMemoryCounter()
		} else {
			defer client.Close()
			nonces = replay.NewRedisStore(client)
			counters = admission.NewRedisCounter(client)
			log.Info().Str("addr", cfg.RedisAddr).Msg("using redis for nonce and rate-limit state")
		}
	} else {
		log.Warn().Msg("no redis configured, nonce and rate-limit state is per-process")
		nonces = replay.NewMemoryStore()
		counters = admission.NewMemoryCounter()
	}
	defer nonces.Close()
	defer counters.Close()

	signingKey, err := bundle.LoadOrGenerateKey(cfg.SigningKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load bundle signing key")
	}

	srv := api.NewServer(store, secretStore, nonces, counters, signingKey, api.Config{
		ListenAddr:      cfg.ListenAddr,
		AdminToken:      cfg.AdminToken,
		SignedCapacity:  cfg.SignedRateLimit,
		BrowserCapacity: cfg.BrowserRateLimit,
	})

	// Retention pruner
	prunerCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go runPruner(prunerCtx, store, cfg.PruneInterval)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		// ErrServerClosed is the graceful shutdown path; exiting here
		// would cut the tracker drain in Shutdown short.
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// runPruner periodically deletes each tenant's events older than its
// retention window.
func runPruner(ctx context.Context, store storage.StorageBackend, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, store)
		}
	}
}

func pruneOnce(ctx context.Context, store storage.StorageBackend) {
	tenants, err := store.ListTenants(ctx)
	if err != nil {
		log.Error().Err(err).Msg("pruner: tenant listing failed")
		return
	}
	for _, t := range tenants {
		if t.RetentionDays <= 0 {
			continue
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -t.RetentionDays)
		pruned, err := store.PruneEvents(ctx, t.ID, cutoff)
		if err != nil {
			log.Error().Err(err).Str("tenant", t.ID).Msg("pruner: prune failed")
			continue
		}
		if pruned > 0 {
			log.Info().Str("tenant", t.ID).Int64("events", pruned).Time("cutoff", cutoff).
				Msg("pruned expired events")
		}
	}
}
