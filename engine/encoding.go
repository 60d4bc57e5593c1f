package engine

import "github.com/notnil/chess"

const (
	RowNum = 8
	ColNum = 8

	// InputSize is the length of the encoded input: one board plane plus one
	// side-to-move plane.
	InputSize = 2 * RowNum * ColNum
)

// Encode encodes a position to neural input format.
func Encode(pos *chess.Position) []float32 {
	m := pos.Board().SquareMap()
	board := make([]float32, RowNum*ColNum)
	for k, v := range m {
		if v == chess.NoPiece {
			board[int8(k)] = 0.001
		} else {
			board[int8(k)] = float32(v)
		}
	}

	playerLayer := make([]float32, RowNum*ColNum)
	next := pos.Turn()
	for i := range playerLayer {
		playerLayer[i] = float32(next)
	}
	return append(board, playerLayer...)
}
