package app

import (
	"time"

	"github.com/stagehand-app/stagehand-backend/internal/platform/envutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type Config struct {
	Port        string
	Environment string
	Version     string

	JWTSecret      string
	AccessTokenTTL time.Duration
	PairingCode    string

	// BriefingRequired hard-gates the consolidator on the briefer. Off, a
	// dead briefer degrades the ranking instead of blocking it.
	BriefingRequired bool
	KickLimit        int

	WorkerEnabled     bool
	WorkerConcurrency int
	WorkerPollEvery   time.Duration
	WorkerSweepEvery  time.Duration
	WorkerStaleAfter  time.Duration

	Scoring services.ScoringConfig
}

// LoadConfig reads everything from the environment. Zero values defer to the
// consumer's own defaults so the worker and scoring knobs stay optional.
func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		JWTSecret:      envutil.String("JWT_SECRET_KEY", ""),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", 0),
		PairingCode:    envutil.String("PAIRING_CODE", ""),

		BriefingRequired: envutil.Bool("PIPELINE_BRIEFING_REQUIRED", false),
		KickLimit:        envutil.Int("PIPELINE_KICK_LIMIT", 0),

		WorkerEnabled:     envutil.Bool("WORKER_ENABLED", true),
		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 0),
		WorkerPollEvery:   envutil.Duration("WORKER_POLL_EVERY", 0),
		WorkerSweepEvery:  envutil.Duration("WORKER_SWEEP_EVERY", 0),
		WorkerStaleAfter:  envutil.Duration("WORKER_STALE_AFTER", 0),

		Scoring: services.ScoringConfig{
			AssumedRate:        envutil.Float("SCORING_ASSUMED_RATE", 0),
			AssumedTripMinutes: envutil.Float("SCORING_ASSUMED_TRIP_MINUTES", 0),
			MinValuePerMinute:  envutil.Float("SCORING_MIN_VALUE_PER_MINUTE", 0),
			EnrichTimeout:      envutil.Duration("SCORING_ENRICH_TIMEOUT", 0),
			EnrichParallel:     envutil.Int("SCORING_ENRICH_PARALLEL", 0),
		},
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET_KEY is not set; auth service init will fail")
	}
	return cfg
}
