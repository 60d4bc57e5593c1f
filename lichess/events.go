package lichess

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Event is a top-level (account stream) event. The set of implementations is
// closed; raw payloads never escape this package.
type Event interface {
	event()
}

// ChallengeEvent is an incoming challenge from another player.
type ChallengeEvent struct {
	ID           string
	Variant      string
	ChallengerID string
}

// ChallengeDeclinedEvent reports that a challenge we issued was declined.
type ChallengeDeclinedEvent struct {
	DestUserID string
}

// GameStartEvent announces that a game has begun and a per-game stream is
// available.
type GameStartEvent struct {
	GameID string
}

// GameFinishEvent announces on the account stream that a game is over. It is
// independent of the per-game stream's own terminal event.
type GameFinishEvent struct {
	GameID     string
	FinalFEN   string
	Color      string
	Status     string
	OpponentID string
}

func (*ChallengeEvent) event()         {}
func (*ChallengeDeclinedEvent) event() {}
func (*GameStartEvent) event()         {}
func (*GameFinishEvent) event()        {}

// GameEvent is a per-game stream event.
type GameEvent interface {
	gameEvent()
}

// GameFullEvent is the one-off full snapshot sent near game start. Moves is
// the complete space-joined move history.
type GameFullEvent struct {
	Moves     string
	WhiteID   string
	WhiteName string
	BlackID   string
	BlackName string
}

// GameStateEvent re-sends the complete move list after each ply. Despite the
// feed calling it a state update, it is never an incremental diff.
type GameStateEvent struct {
	Moves  string
	Status string
}

// ChatLineEvent is an incoming chat message.
type ChatLineEvent struct {
	Username string
	Text     string
	Room     string
}

// GameStreamFinishEvent terminates a per-game stream.
type GameStreamFinishEvent struct {
	Status string
}

func (*GameFullEvent) gameEvent()         {}
func (*GameStateEvent) gameEvent()        {}
func (*ChatLineEvent) gameEvent()         {}
func (*GameStreamFinishEvent) gameEvent() {}

type eventTag struct {
	Type string `json:"type"`
}

type wireUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireChallenge struct {
	Challenge struct {
		ID         string   `json:"id"`
		Challenger wireUser `json:"challenger"`
		DestUser   wireUser `json:"destUser"`
		Variant    struct {
			Key string `json:"key"`
		} `json:"variant"`
	} `json:"challenge"`
}

type wireGame struct {
	Game struct {
		ID     string `json:"id"`
		FEN    string `json:"fen"`
		Color  string `json:"color"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
		Opponent wireUser `json:"opponent"`
	} `json:"game"`
}

// decodeEvent turns one account-stream line into a typed event. Unknown
// types decode to (nil, nil) and are skipped by the stream loop.
func decodeEvent(line []byte) (Event, error) {
	var tag eventTag
	if err := json.Unmarshal(line, &tag); err != nil {
		return nil, errors.Wrap(err, "decoding event tag")
	}

	switch tag.Type {
	case "challenge":
		var w wireChallenge
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding challenge event")
		}
		return &ChallengeEvent{
			ID:           w.Challenge.ID,
			Variant:      w.Challenge.Variant.Key,
			ChallengerID: w.Challenge.Challenger.ID,
		}, nil

	case "challengeDeclined":
		var w wireChallenge
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding challengeDeclined event")
		}
		return &ChallengeDeclinedEvent{DestUserID: w.Challenge.DestUser.ID}, nil

	case "gameStart":
		var w wireGame
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding gameStart event")
		}
		return &GameStartEvent{GameID: w.Game.ID}, nil

	case "gameFinish":
		var w wireGame
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding gameFinish event")
		}
		return &GameFinishEvent{
			GameID:     w.Game.ID,
			FinalFEN:   w.Game.FEN,
			Color:      w.Game.Color,
			Status:     w.Game.Status.Name,
			OpponentID: w.Game.Opponent.ID,
		}, nil
	}
	return nil, nil
}

type wireGameFull struct {
	White wireUser `json:"white"`
	Black wireUser `json:"black"`
	State struct {
		Moves string `json:"moves"`
	} `json:"state"`
}

type wireGameState struct {
	Moves  string `json:"moves"`
	Status string `json:"status"`
}

type wireChatLine struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Room     string `json:"room"`
}

// decodeGameEvent turns one per-game stream line into a typed event.
func decodeGameEvent(line []byte) (GameEvent, error) {
	var tag eventTag
	if err := json.Unmarshal(line, &tag); err != nil {
		return nil, errors.Wrap(err, "decoding game event tag")
	}

	switch tag.Type {
	case "gameFull":
		var w wireGameFull
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding gameFull event")
		}
		return &GameFullEvent{
			Moves:     w.State.Moves,
			WhiteID:   w.White.ID,
			WhiteName: w.White.Name,
			BlackID:   w.Black.ID,
			BlackName: w.Black.Name,
		}, nil

	case "gameState":
		var w wireGameState
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding gameState event")
		}
		return &GameStateEvent{Moves: w.Moves, Status: w.Status}, nil

	case "chatLine":
		var w wireChatLine
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding chatLine event")
		}
		return &ChatLineEvent{Username: w.Username, Text: w.Text, Room: w.Room}, nil

	case "gameFinish":
		var w wireGameState
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, errors.Wrap(err, "decoding game finish event")
		}
		return &GameStreamFinishEvent{Status: w.Status}, nil
	}
	return nil, nil
}

// StreamEvents opens the persistent account-level event stream. The returned
// channel closes when the stream ends or ctx is cancelled. Blank lines
// produce nothing; malformed lines are logged and skipped rather than
// aborting the stream.
func (c *Client) StreamEvents(ctx context.Context) (<-chan Event, error) {
	res, err := c.do(ctx, "GET", "/stream/event", nil, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event)
	done := make(chan struct{})
	go func() {
		// Unblocks the scanner when the caller gives up; exits with the
		// reader otherwise, so a finished stream leaves nothing behind.
		select {
		case <-ctx.Done():
			res.Body.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(ch)
		defer close(done)
		defer res.Body.Close()

		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ev, err := decodeEvent([]byte(line))
			if err != nil {
				c.logger.Warn().Err(err).Msg("skipping malformed event line")
				continue
			}
			if ev == nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// StreamGame opens the persistent per-game event stream for one game. Same
// decode discipline as StreamEvents.
func (c *Client) StreamGame(ctx context.Context, gameID string) (<-chan GameEvent, error) {
	res, err := c.do(ctx, "GET", "/bot/game/stream/"+gameID, nil, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan GameEvent)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			res.Body.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(ch)
		defer close(done)
		defer res.Body.Close()

		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ev, err := decodeGameEvent([]byte(line))
			if err != nil {
				c.logger.Warn().Err(err).Str("game", gameID).Msg("skipping malformed game event line")
				continue
			}
			if ev == nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
