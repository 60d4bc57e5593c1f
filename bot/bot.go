package bot

import (
	"context"
	"time"

	"github.com/notnil/chess"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alphabeth/lichessbot/engine"
	"github.com/alphabeth/lichessbot/lichess"
)

// API is the slice of the lichess client the bot depends on.
type API interface {
	Account(ctx context.Context) (*lichess.Account, error)
	StreamEvents(ctx context.Context) (<-chan lichess.Event, error)
	StreamGame(ctx context.Context, gameID string) (<-chan lichess.GameEvent, error)
	AcceptChallenge(ctx context.Context, challengeID string) error
	SendMove(ctx context.Context, gameID, move string) error
	SendChat(ctx context.Context, gameID, text, room string) error
	Challenge(ctx context.Context, opponentID string, limitSeconds int) error
	OnlineBots(ctx context.Context, max int) ([]lichess.Account, error)
}

// Config is the bot's behavioral knobs. Zero values fall back to defaults.
type Config struct {
	MaxGames            int           // bound on concurrent games
	Perf                string        // performance category for rating comparisons
	MatchmakingInterval time.Duration // periodic challenger tick
	DrainTimeout        time.Duration // shutdown grace for in-flight games
}

func (c *Config) applyDefaults() {
	if c.MaxGames <= 0 {
		c.MaxGames = 5
	}
	if c.Perf == "" {
		c.Perf = "bullet"
	}
	if c.MatchmakingInterval <= 0 {
		c.MatchmakingInterval = 5 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Bot drives the account-level event stream: it accepts challenges, spawns
// one bounded worker per started game and runs the periodic challenger in
// the background.
type Bot struct {
	client API
	oracle engine.Oracle
	chat   Chat
	conf   Config
	logger zerolog.Logger

	pool   *Pool
	selfID string

	// Game workers outlive the accept/matchmake context so that in-flight
	// games can drain on shutdown.
	gamesCtx    context.Context
	gamesCancel context.CancelFunc
}

func New(client API, oracle engine.Oracle, conf Config, logger zerolog.Logger) *Bot {
	conf.applyDefaults()
	return &Bot{
		client: client,
		oracle: oracle,
		conf:   conf,
		logger: logger,
		pool:   NewPool(conf.MaxGames, logger),
	}
}

// Run resolves the bot's identity, then processes the global event stream
// until ctx is cancelled or the stream dies. Losing the control channel is
// fatal; everything else is isolated and logged. On cancellation Run stops
// accepting new games, waits up to DrainTimeout for in-flight games and
// returns nil.
func (b *Bot) Run(ctx context.Context) error {
	acct, err := b.client.Account(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving bot identity")
	}
	b.selfID = acct.ID
	b.logger.Info().Str("id", acct.ID).Msg("logged in, listening for incoming challenges")

	events, err := b.client.StreamEvents(ctx)
	if err != nil {
		return errors.Wrap(err, "opening event stream")
	}

	b.gamesCtx, b.gamesCancel = context.WithCancel(context.Background())
	defer b.gamesCancel()

	mm := &Matchmaker{
		client:   b.client,
		pool:     b.pool,
		logger:   b.logger,
		selfID:   b.selfID,
		perf:     b.conf.Perf,
		interval: b.conf.MatchmakingInterval,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mm.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return b.loop(gctx, events)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		b.logger.Info().Msg("shutting down, draining active games")
		if !b.pool.Drain(b.conf.DrainTimeout) {
			b.logger.Warn().Int("active", b.pool.Len()).Msg("drain timeout elapsed with games still running")
		}
		return nil
	}
	return err
}

func (b *Bot) loop(ctx context.Context, events <-chan lichess.Event) error {
	for ev := range events {
		switch e := ev.(type) {
		case *lichess.ChallengeEvent:
			b.handleChallenge(ctx, e)
		case *lichess.ChallengeDeclinedEvent:
			b.logger.Info().Str("user", e.DestUserID).Msg("challenge declined")
		case *lichess.GameStartEvent:
			b.handleGameStart(e)
		case *lichess.GameFinishEvent:
			b.logFinish(e)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("event stream closed")
}

// handleChallenge accepts a challenge only for standard chess, from someone
// else, with a free slot. Anything else is left to expire: lichess times
// unanswered challenges out on its own.
func (b *Bot) handleChallenge(ctx context.Context, e *lichess.ChallengeEvent) {
	log := b.logger.With().Str("challenge", e.ID).Str("challenger", e.ChallengerID).Logger()
	if e.Variant != "standard" {
		log.Warn().Str("variant", e.Variant).Msg("ignoring non-standard challenge")
		return
	}
	if e.ChallengerID == b.selfID {
		log.Warn().Msg("ignoring our own challenge")
		return
	}
	// This check is only advisory: Admit at gameStart is the atomic guard,
	// so losing a race here at worst accepts a game that is later dropped.
	if !b.pool.HasCapacity() {
		log.Warn().Msg("too many active games, letting challenge expire")
		return
	}
	log.Info().Msg("accepting challenge")
	if err := b.client.AcceptChallenge(ctx, e.ID); err != nil {
		log.Warn().Err(err).Msg("failed to accept challenge")
	}
}

func (b *Bot) handleGameStart(e *lichess.GameStartEvent) {
	if !b.pool.Admit(e.GameID) {
		b.logger.Info().Str("game", e.GameID).Msg("max concurrent games reached, ignoring game")
		return
	}
	b.logger.Info().Str("game", e.GameID).Msg("game started")
	b.pool.Spawn(e.GameID, func() {
		if err := b.playGame(b.gamesCtx, e.GameID); err != nil {
			b.logger.Error().Err(err).Str("game", e.GameID).Msg("game worker failed")
		}
	})
}

// logFinish observes a global-stream game finish. It is purely
// observational: slot cleanup belongs to the worker, which exits on its own
// stream's terminal event, so racing with it is harmless.
func (b *Bot) logFinish(e *lichess.GameFinishEvent) {
	log := b.logger.With().Str("game", e.GameID).Str("status", e.Status).Str("opponent", e.OpponentID).Logger()
	if e.Status == "aborted" {
		log.Info().Msg("game aborted")
		return
	}

	winner, decisive, draw := resultFromFEN(e.FinalFEN)
	switch {
	case draw:
		log.Info().Msg("game over: draw")
	case decisive && winner == e.Color:
		log.Info().Msg("game over: we won")
	case decisive:
		log.Info().Msg("game over: we lost")
	default:
		log.Info().Msg("game over")
	}
}

// resultFromFEN derives the outcome visible in the final position. Only a
// position that is itself terminal (mate, stalemate, dead draw) is decisive;
// resignations and flag falls leave a live position and report nothing.
func resultFromFEN(fen string) (winner string, decisive, draw bool) {
	if fen == "" {
		return "", false, false
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return "", false, false
	}
	g := chess.NewGame(opt)
	switch g.Outcome() {
	case chess.WhiteWon:
		return "white", true, false
	case chess.BlackWon:
		return "black", true, false
	case chess.Draw:
		return "", false, true
	}
	return "", false, false
}
