package bot

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/alphabeth/lichessbot/lichess"
)

var clockLimits = []int{30, 45, 60}

const rosterSize = 200

// Matchmaker periodically challenges a rating-appropriate online bot
// whenever there is room for another game.
type Matchmaker struct {
	client API
	pool   *Pool
	logger zerolog.Logger

	selfID   string
	perf     string
	interval time.Duration
}

// Run loops until ctx is cancelled. A failed cycle is logged and skipped,
// never retried early.
func (m *Matchmaker) Run(ctx context.Context) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.pool.HasCapacity() {
				m.logger.Debug().Msg("active games ongoing, skipping challenge")
				continue
			}
			m.logger.Info().Msg("attempting to challenge an opponent")
			if err := m.challengeOnce(ctx, rnd); err != nil {
				m.logger.Warn().Err(err).Msg("matchmaking cycle skipped")
			}
		}
	}
}

func (m *Matchmaker) challengeOnce(ctx context.Context, rnd *rand.Rand) error {
	bots, err := m.client.OnlineBots(ctx, rosterSize)
	if err != nil {
		return errors.Wrap(err, "fetching online bots")
	}
	if len(bots) == 0 {
		return errors.New("no opponents found")
	}

	ourRating, err := m.ownRating(ctx, bots)
	if err != nil {
		return err
	}

	opponent, err := m.selectOpponent(bots, ourRating, rnd)
	if err != nil {
		return err
	}

	limit := clockLimits[rnd.Intn(len(clockLimits))]
	rating, _ := opponent.Rating(m.perf)
	if err := m.client.Challenge(ctx, opponent.ID, limit); err != nil {
		return errors.Wrapf(err, "challenging %s", opponent.ID)
	}
	m.logger.Info().
		Str("opponent", opponent.Username).
		Int("rating", rating).
		Int("clock_limit", limit).
		Msg("challenge sent")
	return nil
}

// ownRating prefers our own roster entry; if we are not among the streamed
// bots, one extra account lookup resolves it.
func (m *Matchmaker) ownRating(ctx context.Context, bots []lichess.Account) (int, error) {
	for i := range bots {
		if strings.EqualFold(bots[i].ID, m.selfID) {
			if r, ok := bots[i].Rating(m.perf); ok {
				return r, nil
			}
			break
		}
	}
	acct, err := m.client.Account(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "resolving own rating")
	}
	r, ok := acct.Rating(m.perf)
	if !ok {
		return 0, errors.Errorf("no %s rating on our account", m.perf)
	}
	return r, nil
}

// selectOpponent keeps the tenth of the rated roster closest to our rating
// (at least one candidate) and picks uniformly among them. Ourselves and
// bots without a rating for the category are never candidates.
func (m *Matchmaker) selectOpponent(bots []lichess.Account, ourRating int, rnd *rand.Rand) (*lichess.Account, error) {
	var candidates []*lichess.Account
	var distances []float64
	for i := range bots {
		if strings.EqualFold(bots[i].ID, m.selfID) {
			continue
		}
		rating, ok := bots[i].Rating(m.perf)
		if !ok {
			continue
		}
		candidates = append(candidates, &bots[i])
		distances = append(distances, math.Abs(float64(rating-ourRating)))
	}
	if len(candidates) == 0 {
		return nil, errors.New("no valid opponents")
	}

	order := make([]int, len(distances))
	floats.Argsort(distances, order)

	keep := len(candidates) / 10
	if keep < 1 {
		keep = 1
	}
	return candidates[order[rnd.Intn(keep)]], nil
}
