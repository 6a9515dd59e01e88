// Package rules adapts corentings/chess to the arena board contract.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/arena"
)

var ErrIllegalMove = errors.New("illegal move")

// Board is one authoritative game. Not safe for concurrent use; the arena
// loop is its only caller.
type Board struct {
	game *nchess.Game
}

// New returns a board at the standard starting position.
func New() arena.Engine { return &Board{game: nchess.NewGame()} }

// ApplyMove plays mv in UCI form. Illegal or undecodable moves leave the
// position unchanged.
func (b *Board) ApplyMove(mv arena.Move) error {
	uci := strings.ToLower(mv.From + mv.To + mv.Promotion)
	notation := nchess.UCINotation{}
	m, err := notation.Decode(b.game.Position(), uci)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	if err := b.game.Move(m, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	return nil
}

func (b *Board) Turn() arena.Side {
	if b.game.Position().Turn() == nchess.White {
		return arena.White
	}
	return arena.Black
}

// IsCheck reports whether the side to move is in check after the last move.
func (b *Board) IsCheck() bool {
	if b.game.Method() == nchess.Checkmate {
		return true
	}
	moves := b.game.Moves()
	if len(moves) == 0 {
		return false
	}
	return moves[len(moves)-1].HasTag(nchess.Check)
}

func (b *Board) IsCheckmate() bool { return b.game.Method() == nchess.Checkmate }

func (b *Board) IsStalemate() bool { return b.game.Method() == nchess.Stalemate }

func (b *Board) IsInsufficientMaterial() bool {
	return b.game.Method() == nchess.InsufficientMaterial
}

// IsThreefoldRepetition covers both the claimable threefold and the automatic
// fivefold draw.
func (b *Board) IsThreefoldRepetition() bool {
	if b.game.Method() == nchess.FivefoldRepetition {
		return true
	}
	return b.eligible(nchess.ThreefoldRepetition)
}

// IsDraw is true for any drawn outcome, including claimable threefold and
// fifty-move draws that the library leaves open.
func (b *Board) IsDraw() bool {
	if b.game.Outcome() == nchess.Draw {
		return true
	}
	return b.eligible(nchess.ThreefoldRepetition) || b.eligible(nchess.FiftyMoveRule)
}

func (b *Board) Reset() { b.game = nchess.NewGame() }

// FEN exposes the current position for diagnostics.
func (b *Board) FEN() string { return b.game.FEN() }

func (b *Board) eligible(method nchess.Method) bool {
	for _, m := range b.game.EligibleDraws() {
		if m == method {
			return true
		}
	}
	return false
}
