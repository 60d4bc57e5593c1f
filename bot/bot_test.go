package bot

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabeth/lichessbot/lichess"
)

// fakeAPI records outbound calls and feeds canned streams.
type fakeAPI struct {
	mu         sync.Mutex
	moves      []string
	chats      []string
	accepted   []string
	challenged []string

	account    *lichess.Account
	accountErr error
	bots       []lichess.Account
	botsErr    error
	moveErr    error

	events     chan lichess.Event
	gameEvents chan lichess.GameEvent
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		account:    &lichess.Account{ID: "mybot", Username: "MyBot", Perfs: map[string]lichess.Perf{"bullet": {Rating: 1500}}},
		events:     make(chan lichess.Event),
		gameEvents: make(chan lichess.GameEvent),
	}
}

func (f *fakeAPI) Account(ctx context.Context) (*lichess.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.account, nil
}

func (f *fakeAPI) StreamEvents(ctx context.Context) (<-chan lichess.Event, error) {
	return f.events, nil
}

func (f *fakeAPI) StreamGame(ctx context.Context, gameID string) (<-chan lichess.GameEvent, error) {
	return f.gameEvents, nil
}

func (f *fakeAPI) AcceptChallenge(ctx context.Context, challengeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, challengeID)
	return nil
}

func (f *fakeAPI) SendMove(ctx context.Context, gameID, move string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, fmt.Sprintf("%s:%s", gameID, move))
	return nil
}

func (f *fakeAPI) SendChat(ctx context.Context, gameID, text, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeAPI) Challenge(ctx context.Context, opponentID string, limitSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenged = append(f.challenged, opponentID)
	return nil
}

func (f *fakeAPI) OnlineBots(ctx context.Context, max int) ([]lichess.Account, error) {
	if f.botsErr != nil {
		return nil, f.botsErr
	}
	return f.bots, nil
}

func (f *fakeAPI) sentMoves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.moves...)
}

func (f *fakeAPI) sentChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chats...)
}

func TestResultFromFEN(t *testing.T) {
	// Fool's mate final position, black delivered mate.
	winner, decisive, draw := resultFromFEN("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	assert.True(t, decisive)
	assert.False(t, draw)
	assert.Equal(t, "black", winner)

	// Stalemate.
	_, decisive, draw = resultFromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	assert.False(t, decisive)
	assert.True(t, draw)

	// Live position: nothing decisive on the board.
	_, decisive, draw = resultFromFEN("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	assert.False(t, decisive)
	assert.False(t, draw)

	_, decisive, draw = resultFromFEN("")
	assert.False(t, decisive)
	assert.False(t, draw)
}

// newTestBot builds a bot around the fake client with its log output
// captured, so tests can assert on both sides.
func newTestBot(api *fakeAPI) (*Bot, *bytes.Buffer) {
	var buf bytes.Buffer
	b := New(api, firstLegal{}, Config{MaxGames: 1}, zerolog.New(&buf))
	b.selfID = "mybot"
	return b, &buf
}

func TestLogFinishAborted(t *testing.T) {
	api := newFakeAPI()
	b, buf := newTestBot(api)

	b.logFinish(&lichess.GameFinishEvent{GameID: "g1", Status: "aborted"})

	assert.Contains(t, buf.String(), "game aborted")
	assert.Empty(t, api.sentChats())
	assert.Empty(t, api.sentMoves())
}

func TestLogFinishReportsResult(t *testing.T) {
	// Fool's mate: black delivered mate on the board.
	const mateFEN = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"

	api := newFakeAPI()
	b, buf := newTestBot(api)

	b.logFinish(&lichess.GameFinishEvent{GameID: "g1", Status: "mate", Color: "black", FinalFEN: mateFEN})
	assert.Contains(t, buf.String(), "we won")

	buf.Reset()
	b.logFinish(&lichess.GameFinishEvent{GameID: "g2", Status: "mate", Color: "white", FinalFEN: mateFEN})
	assert.Contains(t, buf.String(), "we lost")

	buf.Reset()
	b.logFinish(&lichess.GameFinishEvent{GameID: "g3", Status: "stalemate", Color: "white", FinalFEN: "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"})
	assert.Contains(t, buf.String(), "draw")

	// Resignation leaves a live position: no result is read into it.
	buf.Reset()
	b.logFinish(&lichess.GameFinishEvent{GameID: "g4", Status: "resign", Color: "white", FinalFEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"})
	assert.Contains(t, buf.String(), "game over")
	assert.NotContains(t, buf.String(), "we won")
	assert.NotContains(t, buf.String(), "we lost")

	assert.Empty(t, api.sentChats())
}

func TestHandleChallengeAcceptsStandard(t *testing.T) {
	api := newFakeAPI()
	b, _ := newTestBot(api)

	b.handleChallenge(context.Background(), &lichess.ChallengeEvent{ID: "c1", Variant: "standard", ChallengerID: "rival"})

	require.Equal(t, []string{"c1"}, api.accepted)
}

func TestHandleChallengeIgnoresOwnChallenge(t *testing.T) {
	api := newFakeAPI()
	b, buf := newTestBot(api)

	b.handleChallenge(context.Background(), &lichess.ChallengeEvent{ID: "c1", Variant: "standard", ChallengerID: "mybot"})

	assert.Empty(t, api.accepted)
	assert.Contains(t, buf.String(), "own challenge")
}

func TestHandleChallengeIgnoresVariantsAndFullPool(t *testing.T) {
	api := newFakeAPI()
	b, buf := newTestBot(api)

	b.handleChallenge(context.Background(), &lichess.ChallengeEvent{ID: "c1", Variant: "atomic", ChallengerID: "rival"})
	assert.Empty(t, api.accepted)
	assert.Contains(t, buf.String(), "non-standard")

	buf.Reset()
	require.True(t, b.pool.Admit("g1"))
	b.handleChallenge(context.Background(), &lichess.ChallengeEvent{ID: "c2", Variant: "standard", ChallengerID: "rival"})
	assert.Empty(t, api.accepted)
	assert.Contains(t, buf.String(), "letting challenge expire")
}
