package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alphabeth/lichessbot/bot"
	"github.com/alphabeth/lichessbot/engine"
	"github.com/alphabeth/lichessbot/internal/config"
	"github.com/alphabeth/lichessbot/internal/logger"
	"github.com/alphabeth/lichessbot/lichess"
)

var (
	tokenFile = flag.String("token_file", "", "file containing the lichess API token (overrides LICHESS_TOKEN)")
	modelPath = flag.String("model_path", "", "gob file containing trained policy weights (overrides MODEL_PATH)")
	movesFile = flag.String("moves_file", "", "file containing chess moves, one per line (overrides MOVES_FILE)")
	maxGames  = flag.Int("max_games", 0, "maximum number of concurrent games (overrides MAX_GAMES)")
	logLevel  = flag.String("log_level", "", "log level (overrides LOG_LEVEL)")
)

func main() {
	flag.Parse()

	log := logger.New(*logLevel)

	if *tokenFile != "" {
		token, err := os.ReadFile(*tokenFile)
		if err != nil {
			log.Fatal().Err(err).Msg("reading token file")
		}
		os.Setenv("LICHESS_TOKEN", strings.TrimSpace(string(token)))
	}

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if *logLevel == "" {
		log = logger.New(cfg.LogLevel)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *movesFile != "" {
		cfg.MovesFile = *movesFile
	}
	if *maxGames > 0 {
		cfg.MaxGames = *maxGames
	}

	oracle, err := buildOracle(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("loading move oracle")
	}

	client := lichess.NewClient(cfg.Token, cfg.RateLimitCooldown, log)
	b := bot.New(client, oracle, bot.Config{
		MaxGames:            cfg.MaxGames,
		Perf:                cfg.Perf,
		MatchmakingInterval: cfg.MatchmakingInterval,
		DrainTimeout:        cfg.DrainTimeout,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

// buildOracle prefers the trained policy network; without a model the bot
// still plays, on material greed alone.
func buildOracle(cfg *config.Config) (engine.Oracle, error) {
	if cfg.ModelPath == "" || cfg.MovesFile == "" {
		return engine.NewMaterial(), nil
	}
	return engine.LoadPolicy(cfg.ModelPath, cfg.MovesFile)
}
