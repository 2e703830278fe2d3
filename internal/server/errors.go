package server

import (
	"errors"

	"tictactoe-server/internal/tictactoe"
)

// ErrorKind classifies request failures. Every failure is reported only to
// the requesting connection; none are fatal to the connection or process.
type ErrorKind string

const (
	ErrorKindProtocol ErrorKind = "protocol" // malformed/unknown action, bad payload
	ErrorKindState    ErrorKind = "state"    // request conflicts with registry state
	ErrorKindRule     ErrorKind = "rule"     // illegal move within a match
)

type apiError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

func protocolError(code, message string) *apiError {
	return &apiError{Kind: ErrorKindProtocol, Code: code, Message: message}
}

func stateError(code, message string) *apiError {
	return &apiError{Kind: ErrorKindState, Code: code, Message: message}
}

func ruleError(code, message string) *apiError {
	return &apiError{Kind: ErrorKindRule, Code: code, Message: message}
}

// fromMatchError maps the tictactoe package's sentinel errors onto the wire
// taxonomy.
func fromMatchError(err error) *apiError {
	switch {
	case errors.Is(err, tictactoe.ErrNotActive):
		return ruleError("NOT_ACTIVE", "Match is not active")
	case errors.Is(err, tictactoe.ErrNotYourTurn):
		return ruleError("NOT_YOUR_TURN", "It is not your turn")
	case errors.Is(err, tictactoe.ErrOutOfBounds):
		return ruleError("OUT_OF_BOUNDS", "Position is outside the board")
	case errors.Is(err, tictactoe.ErrCellOccupied):
		return ruleError("CELL_OCCUPIED", "Cell is already occupied")
	case errors.Is(err, tictactoe.ErrAlreadyFull):
		return stateError("ALREADY_FULL", "Match already has two players")
	case errors.Is(err, tictactoe.ErrNotInMatch):
		return ruleError("NOT_IN_MATCH", "You are not a player in this match")
	default:
		return stateError("INTERNAL", err.Error())
	}
}

// errorMessage builds the wire form of an apiError.
func errorMessage(err *apiError) ServerMessage {
	return ServerMessage{
		Action: "error",
		Payload: ErrorMessage{
			Kind:    err.Kind,
			Code:    err.Code,
			Message: err.Message,
		},
	}
}
