package server

import (
	"log"
	"sync"

	"tictactoe-server/internal/tictactoe"
)

// outbound is one notification computed by the coordinator, to be sent by
// the caller after the lock is released.
type outbound struct {
	ConnectionID string
	Msg          ServerMessage
}

// Coordinator is the single writer over shared state. Every inbound event
// (requests and disconnects alike) acquires mu, validates against current
// registry state, mutates, and computes the complete set of outbound
// notifications. Network sends happen strictly after mu is released, so
// the lock is held only across in-memory read-modify-write.
//
// Validation order is fixed: registration check, then payload shape, then
// business rules. A failed request never mutates shared state and never
// triggers a broadcast.
type Coordinator struct {
	mu       sync.Mutex
	cm       *ConnectionManager
	registry *MatchRegistry
	inMatch  map[string]string // clientID → matchID of their live match
}

func NewCoordinator(cm *ConnectionManager) *Coordinator {
	return &Coordinator{
		cm:       cm,
		registry: NewMatchRegistry(),
		inMatch:  make(map[string]string),
	}
}

// Register binds a ClientID and display name to the connection. On success
// the sender gets an ack followed by the current lobby list.
func (c *Coordinator) Register(connectionID string, req RegisterRequest) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, bound := c.cm.ClientID(connectionID); bound {
		return errTo(connectionID, stateError("ALREADY_REGISTERED", "Connection is already registered")), false
	}
	if req.ClientID == "" {
		return errTo(connectionID, protocolError("MISSING_FIELD", "register requires a clientId")), false
	}
	if req.Name == "" {
		return errTo(connectionID, protocolError("MISSING_FIELD", "register requires a non-empty name")), false
	}

	if err := c.cm.Register(connectionID, req.ClientID, req.Name); err != nil {
		return errTo(connectionID, err), false
	}

	log.Printf("Client registered: %s (%s)", req.ClientID, req.Name)

	return []outbound{
		{connectionID, ServerMessage{Action: "registered", Payload: RegisterResponse{ClientID: req.ClientID, Name: req.Name}}},
		{connectionID, c.lobbyMessageLocked()},
	}, false
}

// ListGames returns the current available list to the sender.
func (c *Coordinator) ListGames(connectionID string) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.requireRegistered(connectionID); err != nil {
		return errTo(connectionID, err), false
	}

	return []outbound{{connectionID, c.lobbyMessageLocked()}}, false
}

// CreateGame opens a new waiting match with the sender as player X.
func (c *Coordinator) CreateGame(connectionID string) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID, name, err := c.requireRegistered(connectionID)
	if err != nil {
		return errTo(connectionID, err), false
	}
	if matchID, busy := c.inMatch[clientID]; busy {
		return errTo(connectionID, stateError("ALREADY_IN_MATCH", "You are already in match "+matchID)), false
	}

	match := c.registry.CreateMatch(clientID, name)
	c.inMatch[clientID] = match.ID

	log.Printf("Match %s created by %s (%s)", match.ID, clientID, name)

	return []outbound{
		{connectionID, ServerMessage{Action: "match_state", Payload: buildMatchState(match)}},
	}, true
}

// JoinGame seats the sender as player O. The availability check and the
// player assignment happen under one lock acquisition, so simultaneous
// joins on the same match resolve to exactly one winner.
func (c *Coordinator) JoinGame(connectionID string, req JoinGameRequest) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID, name, err := c.requireRegistered(connectionID)
	if err != nil {
		return errTo(connectionID, err), false
	}
	if req.MatchID == "" {
		return errTo(connectionID, protocolError("MISSING_FIELD", "join_game requires a matchId")), false
	}
	if matchID, busy := c.inMatch[clientID]; busy {
		return errTo(connectionID, stateError("ALREADY_IN_MATCH", "You are already in match "+matchID)), false
	}

	match, joinErr := c.registry.JoinMatch(NormalizeMatchID(req.MatchID), clientID, name)
	if joinErr != nil {
		return errTo(connectionID, joinErr), false
	}
	c.inMatch[clientID] = match.ID

	log.Printf("Match %s started: %s (X) vs %s (O)", match.ID, match.PlayerX.Name, name)

	return c.matchStateToPlayersLocked(match), true
}

// MakeMove applies a move to the named match and notifies both players
// with the updated snapshot. A finishing move also retires the match.
func (c *Coordinator) MakeMove(connectionID string, req MoveRequest) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID, _, err := c.requireRegistered(connectionID)
	if err != nil {
		return errTo(connectionID, err), false
	}
	if req.MatchID == "" {
		return errTo(connectionID, protocolError("MISSING_FIELD", "make_move requires a matchId")), false
	}
	if req.Y == nil || req.X == nil {
		return errTo(connectionID, protocolError("MISSING_FIELD", "make_move requires y and x coordinates")), false
	}

	match, exists := c.registry.Get(NormalizeMatchID(req.MatchID))
	if !exists {
		return errTo(connectionID, stateError("NOT_FOUND", "Match not found")), false
	}
	piece, participant := match.PieceOf(clientID)
	if !participant {
		return errTo(connectionID, ruleError("NOT_IN_MATCH", "You are not a player in this match")), false
	}

	if moveErr := match.ApplyMove(piece, *req.Y, *req.X); moveErr != nil {
		return errTo(connectionID, fromMatchError(moveErr)), false
	}

	msgs := c.matchStateToPlayersLocked(match)

	if match.Status == tictactoe.StatusFinished {
		log.Printf("Match %s finished (winner=%q tie=%v)", match.ID, match.Winner, match.IsTie)
		c.retireMatchLocked(match)
	}

	return msgs, false
}

// Disconnect funnels a transport-level close through the same serialized
// path as any request, so it cannot race a concurrent move on the same
// match. A live match is resolved in favor of the remaining player.
func (c *Coordinator) Disconnect(connectionID string) ([]outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID, wasRegistered := c.cm.Unregister(connectionID)
	if !wasRegistered {
		return nil, false
	}

	matchID, busy := c.inMatch[clientID]
	if !busy {
		log.Printf("Client unregistered: %s", clientID)
		return nil, false
	}
	delete(c.inMatch, clientID)

	match, exists := c.registry.Get(matchID)
	if !exists {
		return nil, false
	}

	if match.Status == tictactoe.StatusWaiting {
		// Nobody joined yet: just unlist the match.
		c.registry.Remove(matchID)
		log.Printf("Match %s discarded: creator %s disconnected", matchID, clientID)
		return nil, true
	}

	// Active match: remaining player wins by abandonment.
	piece, _ := match.PieceOf(clientID)
	leaverName, _ := match.Player(piece)
	winnerPiece := piece.Other()
	match.Abandon(winnerPiece)

	var msgs []outbound
	if opponent, ok := match.Player(winnerPiece); ok {
		delete(c.inMatch, opponent.ClientID)
		if oppConnID, connected := c.cm.ConnectionIDFor(opponent.ClientID); connected {
			msgs = append(msgs,
				outbound{oppConnID, ServerMessage{
					Action: "opponent_disconnected",
					Payload: OpponentDisconnectedNotification{
						MatchID: matchID,
						Message: leaverName.Name + " disconnected. Match ended.",
					},
				}},
				outbound{oppConnID, ServerMessage{Action: "match_state", Payload: buildMatchState(match)}},
				outbound{oppConnID, c.lobbyMessageLocked()},
			)
		}
	}

	c.registry.Remove(matchID)
	log.Printf("Match %s abandoned by %s; %s wins", matchID, clientID, winnerPiece)
	return msgs, false
}

// LobbyMessage snapshots the available list once for fan-out.
func (c *Coordinator) LobbyMessage() ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyMessageLocked()
}

// Stats reports live match counts for the health endpoint.
func (c *Coordinator) Stats() (matches, available int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Count(), len(c.registry.ListAvailable())
}

// Reset tears down all match state. Part of shutdown; connection teardown
// is the ConnectionManager's job.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Clear()
	c.inMatch = make(map[string]string)
}

func (c *Coordinator) requireRegistered(connectionID string) (clientID, name string, err *apiError) {
	clientID, bound := c.cm.ClientID(connectionID)
	if !bound {
		return "", "", stateError("NOT_REGISTERED", "Register before sending requests")
	}
	name, _ = c.cm.Name(clientID)
	return clientID, name, nil
}

func (c *Coordinator) lobbyMessageLocked() ServerMessage {
	return ServerMessage{
		Action:  "lobby_update",
		Payload: LobbyUpdate{Matches: c.registry.ListAvailable()},
	}
}

// matchStateToPlayersLocked addresses the same snapshot to every seated,
// connected player of a match.
func (c *Coordinator) matchStateToPlayersLocked(match *tictactoe.Match) []outbound {
	state := buildMatchState(match)
	var msgs []outbound
	for _, piece := range []tictactoe.Piece{tictactoe.PieceX, tictactoe.PieceO} {
		player, seated := match.Player(piece)
		if !seated {
			continue
		}
		if connID, connected := c.cm.ConnectionIDFor(player.ClientID); connected {
			msgs = append(msgs, outbound{connID, ServerMessage{Action: "match_state", Payload: state}})
		}
	}
	return msgs
}

// retireMatchLocked removes a finished match and returns its players to
// the lobby.
func (c *Coordinator) retireMatchLocked(match *tictactoe.Match) {
	delete(c.inMatch, match.PlayerX.ClientID)
	if match.PlayerO != nil {
		delete(c.inMatch, match.PlayerO.ClientID)
	}
	c.registry.Remove(match.ID)
}

func errTo(connectionID string, err *apiError) []outbound {
	return []outbound{{connectionID, errorMessage(err)}}
}
