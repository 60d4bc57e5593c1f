package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the bot's full configuration surface, loaded from environment
// variables (optionally via a .env file).
type Config struct {
	Token               string
	MaxGames            int
	Perf                string
	MatchmakingInterval time.Duration
	RateLimitCooldown   time.Duration
	DrainTimeout        time.Duration
	ModelPath           string
	MovesFile           string
	LogLevel            string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		Token:               os.Getenv("LICHESS_TOKEN"),
		MaxGames:            getInt("MAX_GAMES", 5),
		Perf:                getEnv("RATING_PERF", "bullet"),
		MatchmakingInterval: getDuration("MATCHMAKING_INTERVAL", 5*time.Minute),
		RateLimitCooldown:   getDuration("RATE_LIMIT_COOLDOWN", 15*time.Minute),
		DrainTimeout:        getDuration("DRAIN_TIMEOUT", 30*time.Second),
		ModelPath:           os.Getenv("MODEL_PATH"),
		MovesFile:           os.Getenv("MOVES_FILE"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Token == "" {
		return nil, errors.New("LICHESS_TOKEN is required")
	}

	logger.Info().
		Int("max_games", cfg.MaxGames).
		Str("perf", cfg.Perf).
		Dur("matchmaking_interval", cfg.MatchmakingInterval).
		Dur("rate_limit_cooldown", cfg.RateLimitCooldown).
		Str("model_path", cfg.ModelPath).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
