package engine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/pkg/errors"
)

var pieceValues = map[chess.PieceType]int{
	chess.Pawn:   1,
	chess.Knight: 3,
	chess.Bishop: 3,
	chess.Rook:   5,
	chess.Queen:  9,
}

// Material is a capture-greedy fallback oracle used when no trained model is
// configured: it grabs the most valuable capture on offer, otherwise plays a
// random legal move.
type Material struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMaterial() *Material {
	return &Material{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (o *Material) ChooseMove(g *chess.Game) (string, error) {
	legal := g.ValidMoves()
	if len(legal) == 0 {
		return "", errors.New("no legal moves")
	}

	board := g.Position().Board()
	best := -1
	var candidates []*chess.Move
	for _, mv := range legal {
		gain := 0
		if mv.HasTag(chess.Capture) {
			if mv.HasTag(chess.EnPassant) {
				gain = pieceValues[chess.Pawn]
			} else {
				gain = pieceValues[board.Piece(mv.S2()).Type()]
			}
		}
		if gain > best {
			best = gain
			candidates = candidates[:0]
		}
		if gain == best {
			candidates = append(candidates, mv)
		}
	}

	o.mu.Lock()
	pick := candidates[o.rnd.Intn(len(candidates))]
	o.mu.Unlock()
	return pick.String(), nil
}
