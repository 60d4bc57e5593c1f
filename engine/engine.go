package engine

import "github.com/notnil/chess"

// Oracle chooses a move for the side to play in the given game. Moves are
// returned in UCI coordinate notation ("e2e4", "a7a8q").
type Oracle interface {
	ChooseMove(g *chess.Game) (string, error)
}
