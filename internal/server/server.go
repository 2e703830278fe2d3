package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port              int
	connectionManager *ConnectionManager
	coordinator       *Coordinator
	rateLimiter       *RateLimiter
	lobbyInterval     time.Duration
	startedAt         time.Time
	stopLobby         chan struct{}
}

func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}

	connectionManager := NewConnectionManager()

	NewServer := &Server{
		port:              port,
		connectionManager: connectionManager,
		coordinator:       NewCoordinator(connectionManager),
		rateLimiter:       NewRateLimiter(rateLimitFromEnv(), time.Second),
		lobbyInterval:     lobbyIntervalFromEnv(),
		startedAt:         time.Now(),
		stopLobby:         make(chan struct{}),
	}

	// Start background tasks
	go NewServer.lobbyBroadcastTask()

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return NewServer, server
}

// lobbyBroadcastTask pushes the available-match list to all registered
// clients on a fixed cadence. Create/join/disconnect paths broadcast
// opportunistically as well; the ticker bounds staleness for everyone
// else.
func (s *Server) lobbyBroadcastTask() {
	ticker := time.NewTicker(s.lobbyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopLobby:
			return
		case <-ticker.C:
			s.broadcastLobby()
		}
	}
}

// Shutdown notifies connected clients, closes every socket, and clears the
// registries. Registry state is initialized once at startup and torn down
// here; there is no re-initialization path.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopLobby)

	s.connectionManager.Broadcast(ServerMessage{
		Action:  "server_shutdown",
		Payload: ShutdownNotification{Message: "Server is shutting down"},
	}, nil)

	s.connectionManager.CloseAll()
	s.coordinator.Reset()

	log.Println("Server state cleared")
	return ctx.Err()
}

func rateLimitFromEnv() int {
	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 10
}

func lobbyIntervalFromEnv() time.Duration {
	if v := os.Getenv("LOBBY_BROADCAST_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Second
}
