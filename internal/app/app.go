package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/claim"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/eventlog"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/httpapi"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/jobs"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/notifications"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/storage"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/store"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	sqlite   *store.SQLiteStore
	redis    *redis.Client
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
	media    *storage.LocalStore
	apns     *notifications.APNsClient
	discord  *notifications.Discord
	pipeline *narration.Pipeline
	jobs     []*jobs.EventRetentionJob
}

func New(ctx context.Context, cfg Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		discord: notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
	}

	assets, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	objects, err := a.openObjectStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Printf("Warning: APNs client initialization failed: %v", err)
	}
	a.apns = apnsClient

	opts := []narration.Option{
		narration.WithLogger(logger),
		narration.WithMetrics(a.metrics),
		narration.WithEvents(a.eventLog),
	}
	if a.discord.Enabled() {
		opts = append(opts, narration.WithQuotaAlerter(a.discord))
	}
	if cfg.RedisURL != "" {
		claimer, err := a.openClaimer(ctx)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, narration.WithClaimer(claimer))
	}

	a.pipeline = narration.New(newSpeechClient(cfg), assets, objects, narration.Config{
		MaxChunkChars: cfg.MaxChunkChars,
		SignedURLTTL:  cfg.SignedURLTTL,
		MinInterval:   cfg.MinInterval,
		Concurrency:   cfg.SynthConcurrency,
		ClaimWait:     cfg.ClaimWait,
	}, opts...)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (narration.AssetStore, error) {
	if a.cfg.DatabaseURL == "" {
		s, err := store.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.sqlite = s
		a.logger.Printf("app: using sqlite datastore at %s", a.cfg.SQLitePath)
		return s, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(pingCtx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	a.db = db

	s := store.New(db)
	if a.cfg.AutoMigrate {
		if err := s.Migrate(pingCtx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	a.eventLog = eventlog.New(db)
	return s, nil
}

func (a *App) openObjectStore(ctx context.Context) (narration.ObjectStore, error) {
	if a.cfg.StorageBackend == "s3" {
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          a.cfg.S3Bucket,
			Region:          a.cfg.S3Region,
			Endpoint:        a.cfg.S3Endpoint,
			Prefix:          a.cfg.S3Prefix,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		a.logger.Printf("app: storing audio in s3 bucket %s", a.cfg.S3Bucket)
		return s, nil
	}

	s, err := storage.NewLocalStore(a.cfg.StorageDir, a.cfg.PublicBaseURL, []byte(a.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}
	a.media = s
	a.logger.Printf("app: storing audio in %s", a.cfg.StorageDir)
	return s, nil
}

func (a *App) openClaimer(ctx context.Context) (*claim.RedisClaimer, error) {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		a.logger.Printf("app: redis ping failed, claims will proceed unclaimed until it recovers: %v", err)
	}
	return claim.New(a.redis, claim.WithTTL(a.cfg.ClaimTTL)), nil
}

// newSpeechClient shares one pooled HTTP client across all provider calls.
func newSpeechClient(cfg Config) tts.Client {
	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // single provider host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	if cfg.TTSProvider == "openai" {
		return tts.NewOpenAIClient(tts.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAITTSModel,
			HTTPClient: httpClient,
		})
	}
	return tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:         cfg.ElevenLabsAPIKey,
		ModelID:        cfg.ElevenLabsModelID,
		WithTimestamps: cfg.ElevenLabsTimestamps,
		HTTPClient:     httpClient,
	})
}

// Pipeline returns the narration pipeline for in-process callers.
func (a *App) Pipeline() *narration.Pipeline {
	return a.pipeline
}

// EventLog returns the job event log; nil without Postgres.
func (a *App) EventLog() *eventlog.Logger {
	return a.eventLog
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL: a.cfg.PublicBaseURL,
		JWTSecret:     a.cfg.JWTSecret,
	}

	var media httpapi.MediaStore
	if a.media != nil {
		media = a.media
	}
	var push httpapi.ReadyNotifier
	if a.apns != nil {
		push = a.apns
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.pipeline, media, push, a.metrics)
}

// StartJobs starts background jobs. Event retention needs Postgres.
func (a *App) StartJobs() {
	if a.eventLog == nil {
		return
	}
	retention := time.Duration(a.cfg.EventRetentionDays) * 24 * time.Hour
	j := jobs.NewEventRetentionJob(a.eventLog, a.discord, a.metrics, a.logger, retention, 0)
	j.Start()
	a.jobs = append(a.jobs, j)
}

func (a *App) Close() error {
	for _, j := range a.jobs {
		j.Stop()
	}
	a.jobs = nil
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.sqlite != nil {
		return a.sqlite.Close()
	}
	return nil
}
