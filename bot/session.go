package bot

import (
	"context"
	"strings"

	"github.com/notnil/chess"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/alphabeth/lichessbot/engine"
	"github.com/alphabeth/lichessbot/lichess"
)

// session is the per-game state machine. It is owned by exactly one worker
// goroutine, so nothing in it is locked.
type session struct {
	client API
	oracle engine.Oracle
	chat   Chat
	logger zerolog.Logger

	selfID string
	gameID string

	game          *chess.Game
	isWhite       bool
	colorKnown    bool
	lastResponded string
}

// playGame reads one game's stream to completion. The worker's lifetime is
// the stream's lifetime: the terminal event, stream end or a raised error
// all end the loop and let the pool release the slot.
func (b *Bot) playGame(ctx context.Context, gameID string) error {
	// The stream must not outlive this worker: leaving the loop early on a
	// terminal event still has to shut the decode goroutines down.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := b.client.StreamGame(ctx, gameID)
	if err != nil {
		return errors.Wrapf(err, "opening stream for game %s", gameID)
	}

	s := &session{
		client: b.client,
		oracle: b.oracle,
		chat:   b.chat,
		logger: b.logger.With().Str("game", gameID).Logger(),
		selfID: b.selfID,
		gameID: gameID,
	}
	return s.run(ctx, events)
}

func (s *session) run(ctx context.Context, events <-chan lichess.GameEvent) error {
	for ev := range events {
		switch e := ev.(type) {
		case *lichess.GameFullEvent:
			if err := s.handleFull(ctx, e); err != nil {
				return err
			}
		case *lichess.GameStateEvent:
			if err := s.handleState(ctx, e); err != nil {
				return err
			}
		case *lichess.ChatLineEvent:
			// No reactive chat behavior.
		case *lichess.GameStreamFinishEvent:
			s.logger.Info().Str("status", e.Status).Msg("game stream finished")
			return nil
		}
	}
	return nil
}

// handleFull consumes the one-off full snapshot: replay the move history,
// fix our color, greet the opponent and move if the position is ours.
func (s *session) handleFull(ctx context.Context, e *lichess.GameFullEvent) error {
	game, err := replay(e.Moves)
	if err != nil {
		return err
	}
	s.game = game
	s.isWhite = e.WhiteID == s.selfID
	s.colorKnown = true

	opponent := e.WhiteName
	if s.isWhite {
		opponent = e.BlackName
	}
	color := "black"
	if s.isWhite {
		color = "white"
	}
	s.logger.Info().Str("color", color).Str("opponent", opponent).Msg("we are playing")

	s.sendChat(ctx, s.chat.Greeting(opponent))

	if s.ourTurn() {
		if err := s.respond(ctx); err != nil {
			return err
		}
		s.recordResponse(e.Moves)
	}
	return nil
}

// handleState consumes a state update. The feed re-sends the complete move
// list each time, so the board is rebuilt from scratch rather than patched.
func (s *session) handleState(ctx context.Context, e *lichess.GameStateEvent) error {
	if !s.colorKnown {
		s.logger.Warn().Msg("game state received before determining color")
		return nil
	}

	game, err := replay(e.Moves)
	if err != nil {
		return err
	}
	s.game = game

	last := lastMove(e.Moves)
	if last != "" && last == s.lastResponded {
		// Duplicate or replayed notification; answering again would double
		// our move.
		s.logger.Debug().Str("move", last).Msg("ignoring duplicate game state")
		return nil
	}

	if s.ourTurn() {
		if err := s.respond(ctx); err != nil {
			return err
		}
		s.lastResponded = last
	}
	return nil
}

// respond plays the position: a closing chat line if the game is over on the
// board, otherwise the oracle's move. A rejected move is logged and the game
// carries on; the feed will tell us where we stand.
func (s *session) respond(ctx context.Context) error {
	if s.game.Outcome() != chess.NoOutcome {
		s.sendResultChat(ctx)
		return nil
	}

	move, err := s.oracle.ChooseMove(s.game)
	if err != nil {
		return errors.Wrap(err, "choosing move")
	}
	if err := s.client.SendMove(ctx, s.gameID, move); err != nil {
		s.logger.Warn().Err(err).Str("move", move).Msg("failed to send move")
		return nil
	}
	s.logger.Debug().Str("move", move).Msg("made move")
	return nil
}

func (s *session) sendResultChat(ctx context.Context) {
	switch outcome := s.game.Outcome(); {
	case outcome == chess.Draw:
		s.logger.Info().Msg("game over: draw")
		s.sendChat(ctx, s.chat.OnDraw())
	case (outcome == chess.WhiteWon) == s.isWhite:
		s.logger.Info().Msg("game over: we won")
		s.sendChat(ctx, s.chat.OnWin())
	default:
		s.logger.Info().Msg("game over: we lost")
		s.sendChat(ctx, s.chat.OnLoss())
	}
}

// sendChat is best effort: a dropped chat line never affects the game.
func (s *session) sendChat(ctx context.Context, text string) {
	if err := s.client.SendChat(ctx, s.gameID, text, "player"); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send chat")
	}
}

func (s *session) ourTurn() bool {
	white := s.game.Position().Turn() == chess.White
	return white == s.isWhite
}

func (s *session) recordResponse(moves string) {
	if last := lastMove(moves); last != "" {
		s.lastResponded = last
	}
}

// replay rebuilds a game from a space-joined UCI move list.
func replay(moves string) (*chess.Game, error) {
	game := chess.NewGame(chess.UseNotation(chess.UCINotation{}))
	for _, m := range strings.Fields(moves) {
		if err := game.MoveStr(m); err != nil {
			return nil, errors.Wrapf(err, "replaying move %q", m)
		}
	}
	return game, nil
}

func lastMove(moves string) string {
	fields := strings.Fields(moves)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
