package engine

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// Moves is the oracle's action space: the set of UCI moves the network can
// emit, read from a file containing one move per line. The file covers
// 'almost' all possible UCI notation moves; a legal move missing from it is
// simply invisible to the network.
type Moves struct {
	byIndex []string
	byMove  map[string]int
}

// ReadMoves loads the action space from movesFile.
func ReadMoves(movesFile string) (*Moves, error) {
	f, err := os.Open(movesFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening moves file")
	}
	defer f.Close()

	m := &Moves{byMove: make(map[string]int)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		move := scanner.Text()
		if move == "" {
			continue
		}
		m.byMove[move] = len(m.byIndex)
		m.byIndex = append(m.byIndex, move)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading moves file")
	}
	return m, nil
}

// Len returns the number of permissible actions.
func (m *Moves) Len() int { return len(m.byIndex) }

// Move returns the UCI move at the given network output index.
func (m *Moves) Move(idx int) string { return m.byIndex[idx] }

// Index returns the network output index for a UCI move.
func (m *Moves) Index(uci string) (int, bool) {
	idx, ok := m.byMove[uci]
	return idx, ok
}
