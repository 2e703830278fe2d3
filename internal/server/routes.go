package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.HelloWorldHandler)

	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Hello World"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	matches, available := s.coordinator.Stats()
	resp, err := json.Marshal(map[string]interface{}{
		"status":            "ok",
		"connections":       s.connectionManager.ConnectionCount(),
		"registeredClients": s.connectionManager.RegisteredCount(),
		"matches":           matches,
		"availableMatches":  available,
		"uptimeSeconds":     int(time.Since(s.startedAt).Seconds()),
	})
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connectionManager.AddConnection(connectionID, socket)
	defer func() {
		// Disconnects go through the same serialized path as requests so
		// they cannot race a concurrent move on the same match.
		msgs, lobbyChanged := s.coordinator.Disconnect(connectionID)
		s.connectionManager.RemoveConnection(connectionID)
		s.rateLimiter.RemoveConnection(connectionID)
		log.Printf("Connection closed: %s", connectionID)

		s.deliver(msgs)
		if lobbyChanged {
			s.broadcastLobby()
		}
	}()

	for {
		msgType, data, err := socket.Read(ctx)

		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, protocolError("RATE_LIMIT_EXCEEDED", "Too many messages, slow down"))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(socket, ctx, protocolError("INVALID_JSON", "Invalid JSON"))
			continue
		}

		log.Printf("Action '%s' from %s", msg.Action, connectionID)

		var (
			msgs         []outbound
			lobbyChanged bool
		)

		// Route the message
		switch msg.Action {
		case "ping":
			s.handlePing(socket, ctx, connectionID)
			continue

		case "register":
			var req RegisterRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil && len(msg.Payload) > 0 {
				s.sendError(socket, ctx, protocolError("INVALID_PAYLOAD", "Invalid register payload"))
				continue
			}
			msgs, lobbyChanged = s.coordinator.Register(connectionID, req)

		case "list_games":
			msgs, lobbyChanged = s.coordinator.ListGames(connectionID)

		case "create_game":
			msgs, lobbyChanged = s.coordinator.CreateGame(connectionID)

		case "join_game":
			var req JoinGameRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil && len(msg.Payload) > 0 {
				s.sendError(socket, ctx, protocolError("INVALID_PAYLOAD", "Invalid join_game payload"))
				continue
			}
			msgs, lobbyChanged = s.coordinator.JoinGame(connectionID, req)

		case "make_move":
			var req MoveRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil && len(msg.Payload) > 0 {
				s.sendError(socket, ctx, protocolError("INVALID_PAYLOAD", "Invalid make_move payload"))
				continue
			}
			msgs, lobbyChanged = s.coordinator.MakeMove(connectionID, req)

		default:
			log.Printf("Unknown action '%s' from %s", msg.Action, connectionID)
			s.sendError(socket, ctx, protocolError("UNKNOWN_ACTION", fmt.Sprintf("Unknown action: %s", msg.Action)))
			continue
		}

		s.deliver(msgs)
		if lobbyChanged {
			s.broadcastLobby()
		}
	}
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := ServerMessage{
		Action:  "pong",
		Payload: struct{}{},
	}

	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send pong to %s: %v", connectionID, err)
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, apiErr *apiError) {
	if err := s.sendMessage(socket, ctx, errorMessage(apiErr)); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}

// deliver performs the sends the coordinator computed. Runs with no locks
// held; each send is best-effort.
func (s *Server) deliver(msgs []outbound) {
	for _, m := range msgs {
		s.connectionManager.SendToConnection(m.ConnectionID, m.Msg)
	}
}

// broadcastLobby computes one available-list snapshot and fans it out to
// every registered client. Single computation, never per-recipient.
func (s *Server) broadcastLobby() {
	msg := s.coordinator.LobbyMessage()
	s.connectionManager.Broadcast(msg, nil)
}
