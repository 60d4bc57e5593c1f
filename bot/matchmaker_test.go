package bot

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabeth/lichessbot/lichess"
)

func ratedBot(id string, rating int) lichess.Account {
	return lichess.Account{
		ID:       id,
		Username: id,
		Perfs:    map[string]lichess.Perf{"bullet": {Rating: rating}},
	}
}

func newTestMatchmaker(api *fakeAPI) *Matchmaker {
	return &Matchmaker{
		client: api,
		pool:   NewPool(5, zerolog.Nop()),
		logger: zerolog.Nop(),
		selfID: "mybot",
		perf:   "bullet",
	}
}

func TestSelectOpponentKeepsClosestTenth(t *testing.T) {
	m := newTestMatchmaker(newFakeAPI())

	// A roster of 50: ourselves plus 49 rated opponents at increasing
	// distance from our rating. The candidate window is floor(49/10) = 4.
	ourRating := 1500
	roster := []lichess.Account{ratedBot("MyBot", ourRating)}
	closest := map[string]bool{}
	for i := 0; i < 49; i++ {
		id := fmt.Sprintf("bot%02d", i)
		roster = append(roster, ratedBot(id, ourRating+20+i*10))
		if i < 4 {
			closest[id] = true
		}
	}

	rnd := rand.New(rand.NewSource(1))
	picked := map[string]bool{}
	for trial := 0; trial < 200; trial++ {
		opp, err := m.selectOpponent(roster, ourRating, rnd)
		require.NoError(t, err)
		assert.True(t, closest[opp.ID], "picked %s outside the candidate window", opp.ID)
		picked[opp.ID] = true
	}
	// Uniform choice over 4 candidates should hit more than one of them in
	// 200 trials.
	assert.Greater(t, len(picked), 1)
}

func TestSelectOpponentExcludesSelfAndUnrated(t *testing.T) {
	m := newTestMatchmaker(newFakeAPI())

	roster := []lichess.Account{
		ratedBot("MyBot", 1500), // self, despite a perfect rating match
		{ID: "unrated", Username: "unrated", Perfs: map[string]lichess.Perf{"blitz": {Rating: 1500}}},
		ratedBot("other", 2900),
	}

	rnd := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		opp, err := m.selectOpponent(roster, 1500, rnd)
		require.NoError(t, err)
		assert.Equal(t, "other", opp.ID)
	}
}

func TestSelectOpponentEmptyRoster(t *testing.T) {
	m := newTestMatchmaker(newFakeAPI())
	rnd := rand.New(rand.NewSource(1))

	_, err := m.selectOpponent(nil, 1500, rnd)
	assert.Error(t, err)

	_, err = m.selectOpponent([]lichess.Account{ratedBot("MyBot", 1500)}, 1500, rnd)
	assert.Error(t, err)
}

func TestOwnRatingPrefersRosterEntry(t *testing.T) {
	api := newFakeAPI()
	api.accountErr = errors.New("account endpoint must not be hit")
	m := newTestMatchmaker(api)

	rating, err := m.ownRating(context.Background(), []lichess.Account{ratedBot("MyBot", 1777)})
	require.NoError(t, err)
	assert.Equal(t, 1777, rating)
}

func TestOwnRatingFallsBackToAccount(t *testing.T) {
	api := newFakeAPI()
	m := newTestMatchmaker(api)

	rating, err := m.ownRating(context.Background(), []lichess.Account{ratedBot("someone", 1200)})
	require.NoError(t, err)
	assert.Equal(t, 1500, rating)
}

func TestChallengeOnceIssuesChallenge(t *testing.T) {
	api := newFakeAPI()
	api.bots = []lichess.Account{
		ratedBot("MyBot", 1500),
		ratedBot("closest", 1510),
		ratedBot("far", 2500),
	}
	m := newTestMatchmaker(api)

	rnd := rand.New(rand.NewSource(1))
	require.NoError(t, m.challengeOnce(context.Background(), rnd))
	require.Len(t, api.challenged, 1)
	assert.Equal(t, "closest", api.challenged[0])
}

func TestChallengeOnceSkipsOnRosterFailure(t *testing.T) {
	api := newFakeAPI()
	api.botsErr = errors.New("roster unavailable")
	m := newTestMatchmaker(api)

	rnd := rand.New(rand.NewSource(1))
	assert.Error(t, m.challengeOnce(context.Background(), rnd))
	assert.Empty(t, api.challenged)
}
