package server

import "tictactoe-server/internal/tictactoe"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// ============================================================================
// REGISTER (register)
// ============================================================================
type RegisterRequest struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

type RegisterResponse struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

// ============================================================================
// JOIN GAME (join_game)
// ============================================================================
type JoinGameRequest struct {
	MatchID string `json:"matchId"`
}

// ============================================================================
// MAKE MOVE (make_move)
// ============================================================================
type MoveRequest struct {
	MatchID string `json:"matchId"`
	Y       *int   `json:"y"`
	X       *int   `json:"x"`
}

// ============================================================================
// LOBBY LIST (lobby_update broadcast, also the list_games response)
// ============================================================================
type AvailableMatch struct {
	MatchID     string `json:"matchId"`
	CreatorName string `json:"creatorName"`
}

type LobbyUpdate struct {
	Matches []AvailableMatch `json:"matches"`
}

// ============================================================================
// MATCH STATE (match_state)
// ============================================================================
// MatchState is a full snapshot. Clients treat every match_state message as
// an authoritative replacement, never a patch.
type MatchState struct {
	MatchID string               `json:"matchId"`
	Board   [3][3]tictactoe.Cell `json:"board"`
	Turn    tictactoe.Piece      `json:"turn"`
	Status  tictactoe.Status     `json:"status"`
	Players MatchPlayers         `json:"players"`
	Winner  tictactoe.Piece      `json:"winner"`
	IsTie   bool                 `json:"isTie"`
}

type MatchPlayers struct {
	X *tictactoe.PlayerInfo `json:"X"`
	O *tictactoe.PlayerInfo `json:"O"`
}

// ============================================================================
// OPPONENT DISCONNECTED (opponent_disconnected)
// ============================================================================
type OpponentDisconnectedNotification struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

// ============================================================================
// SERVER SHUTDOWN (server_shutdown)
// ============================================================================
type ShutdownNotification struct {
	Message string `json:"message"`
}

// buildMatchState snapshots a match for the wire.
func buildMatchState(m *tictactoe.Match) MatchState {
	players := MatchPlayers{X: &tictactoe.PlayerInfo{
		ClientID: m.PlayerX.ClientID,
		Name:     m.PlayerX.Name,
	}}
	if m.PlayerO != nil {
		players.O = &tictactoe.PlayerInfo{
			ClientID: m.PlayerO.ClientID,
			Name:     m.PlayerO.Name,
		}
	}

	return MatchState{
		MatchID: m.ID,
		Board:   m.Board,
		Turn:    m.Turn,
		Status:  m.Status,
		Players: players,
		Winner:  m.Winner,
		IsTie:   m.IsTie,
	}
}
