// Package tictactoe implements the rules of a single two-player match on a
// 3x3 grid. It is pure logic: no I/O, no locking. Callers (the session
// coordinator) serialize all access to a Match.
package tictactoe

import "errors"

type Piece string

const (
	PieceX Piece = "X"
	PieceO Piece = "O"
)

// Other returns the opposing piece.
func (p Piece) Other() Piece {
	if p == PieceX {
		return PieceO
	}
	return PieceX
}

// Cell is one square of the board: empty string, "X", or "O".
type Cell string

const CellEmpty Cell = ""

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

var (
	ErrAlreadyFull  = errors.New("match already has two players")
	ErrNotActive    = errors.New("match is not active")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrOutOfBounds  = errors.New("position out of bounds")
	ErrCellOccupied = errors.New("cell already occupied")
	ErrNotInMatch   = errors.New("player not in match")
)

type PlayerInfo struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

// Match holds the full state of one game. A cell, once set, never changes;
// turn alternates strictly between successful moves; exactly one of
// {winner set, tie, not finished} holds at any time.
type Match struct {
	ID      string
	Board   [3][3]Cell
	Turn    Piece
	Status  Status
	PlayerX PlayerInfo
	PlayerO *PlayerInfo // nil until a second player joins
	Winner  Piece       // "" unless Status is finished with a winner
	IsTie   bool
}

// NewMatch creates a match in waiting status with the creator as X.
func NewMatch(id, creatorID, creatorName string) *Match {
	return &Match{
		ID:      id,
		Turn:    PieceX,
		Status:  StatusWaiting,
		PlayerX: PlayerInfo{ClientID: creatorID, Name: creatorName},
	}
}

// Join assigns the O piece to the joiner and activates the match.
func (m *Match) Join(joinerID, joinerName string) error {
	if m.Status != StatusWaiting || m.PlayerO != nil {
		return ErrAlreadyFull
	}
	m.PlayerO = &PlayerInfo{ClientID: joinerID, Name: joinerName}
	m.Status = StatusActive
	return nil
}

// PieceOf returns the piece held by the given client in this match.
func (m *Match) PieceOf(clientID string) (Piece, bool) {
	if m.PlayerX.ClientID == clientID {
		return PieceX, true
	}
	if m.PlayerO != nil && m.PlayerO.ClientID == clientID {
		return PieceO, true
	}
	return "", false
}

// Player returns the participant holding the given piece.
func (m *Match) Player(p Piece) (PlayerInfo, bool) {
	if p == PieceX {
		return m.PlayerX, true
	}
	if m.PlayerO != nil {
		return *m.PlayerO, true
	}
	return PlayerInfo{}, false
}

// ApplyMove places piece at (y, x). Validation runs before any mutation,
// so a failed move leaves the match untouched. On success the move is
// applied in place: the match finishes if the move completes a line or
// fills the board, otherwise the turn flips.
func (m *Match) ApplyMove(piece Piece, y, x int) error {
	if m.Status != StatusActive {
		return ErrNotActive
	}
	if piece != m.Turn {
		return ErrNotYourTurn
	}
	if y < 0 || y >= 3 || x < 0 || x >= 3 {
		return ErrOutOfBounds
	}
	if m.Board[y][x] != CellEmpty {
		return ErrCellOccupied
	}

	m.Board[y][x] = Cell(piece)

	if m.hasWinningLine(piece) {
		m.Status = StatusFinished
		m.Winner = piece
		return nil
	}

	if m.boardFull() {
		m.Status = StatusFinished
		m.IsTie = true
		return nil
	}

	m.Turn = piece.Other()
	return nil
}

// Abandon finishes the match in favor of the given piece. Used when the
// opponent disconnects mid-game.
func (m *Match) Abandon(winner Piece) {
	m.Status = StatusFinished
	m.Winner = winner
	m.IsTie = false
}

// hasWinningLine checks the 8 winning lines (3 rows, 3 columns, 2
// diagonals) for three of the given piece.
func (m *Match) hasWinningLine(piece Piece) bool {
	c := Cell(piece)
	for i := 0; i < 3; i++ {
		if m.Board[i][0] == c && m.Board[i][1] == c && m.Board[i][2] == c {
			return true
		}
		if m.Board[0][i] == c && m.Board[1][i] == c && m.Board[2][i] == c {
			return true
		}
	}
	if m.Board[0][0] == c && m.Board[1][1] == c && m.Board[2][2] == c {
		return true
	}
	return m.Board[0][2] == c && m.Board[1][1] == c && m.Board[2][0] == c
}

func (m *Match) boardFull() bool {
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			if m.Board[y][x] == CellEmpty {
				return false
			}
		}
	}
	return true
}
