package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"
)

type clientRecord struct {
	ConnectionID string
	Name         string
}

// ConnectionManager owns the live sockets and the ClientID bindings.
// Sockets are keyed by a server-internal connection ID; a connection gains
// a ClientID binding only after a successful register. Bindings are mutated
// exclusively through the session coordinator's serialized path; the
// internal lock exists so sends and broadcasts can read concurrently.
type ConnectionManager struct {
	connections map[string]*websocket.Conn // connectionID → socket
	clients     map[string]clientRecord    // clientID → binding
	byConn      map[string]string          // connectionID → clientID
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		clients:     make(map[string]clientRecord),
		byConn:      make(map[string]string),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

// RemoveConnection drops the socket handle. Any ClientID binding must be
// released separately via Unregister so the caller can react to the freed
// identity.
func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
}

// Register binds a ClientID and display name to a connection. A ClientID
// already bound to a different live connection is rejected rather than
// overwritten, so the prior session is never silently orphaned.
func (cm *ConnectionManager) Register(connectionID, clientID, name string) *apiError {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, bound := cm.byConn[connectionID]; bound {
		return stateError("ALREADY_REGISTERED", "Connection is already registered")
	}
	if existing, taken := cm.clients[clientID]; taken && existing.ConnectionID != connectionID {
		return stateError("DUPLICATE_CLIENT", "Client ID is already registered on another connection")
	}

	cm.clients[clientID] = clientRecord{ConnectionID: connectionID, Name: name}
	cm.byConn[connectionID] = clientID
	return nil
}

// Unregister releases the ClientID bound to a connection and returns it so
// the coordinator can clean up lobby and match state.
func (cm *ConnectionManager) Unregister(connectionID string) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	clientID, bound := cm.byConn[connectionID]
	if !bound {
		return "", false
	}
	delete(cm.byConn, connectionID)
	delete(cm.clients, clientID)
	return clientID, true
}

// ClientID returns the ClientID bound to a connection, if any.
func (cm *ConnectionManager) ClientID(connectionID string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	clientID, bound := cm.byConn[connectionID]
	return clientID, bound
}

// Name returns the display name registered for a client.
func (cm *ConnectionManager) Name(clientID string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	record, exists := cm.clients[clientID]
	return record.Name, exists
}

// ConnectionIDFor resolves a client's current connection.
func (cm *ConnectionManager) ConnectionIDFor(clientID string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	record, exists := cm.clients[clientID]
	return record.ConnectionID, exists
}

// Send delivers a message to a registered client. Sends are best-effort: a
// missing or broken connection is logged, never propagated.
func (cm *ConnectionManager) Send(clientID string, msg ServerMessage) {
	cm.mu.RLock()
	record, exists := cm.clients[clientID]
	var conn *websocket.Conn
	if exists {
		conn = cm.connections[record.ConnectionID]
	}
	cm.mu.RUnlock()

	if conn == nil {
		log.Printf("Send to %s skipped: client not connected", clientID)
		return
	}

	writeMessage(conn, msg)
}

// SendToConnection delivers a message to a connection that may not be
// registered yet (errors, registration acks).
func (cm *ConnectionManager) SendToConnection(connectionID string, msg ServerMessage) {
	cm.mu.RLock()
	conn := cm.connections[connectionID]
	cm.mu.RUnlock()

	if conn == nil {
		log.Printf("Send to connection %s skipped: connection gone", connectionID)
		return
	}

	writeMessage(conn, msg)
}

// Broadcast sends one message to every registered client matching the
// predicate (nil predicate matches all). The message is marshaled once; a
// failure on one socket never aborts delivery to the rest.
func (cm *ConnectionManager) Broadcast(msg ServerMessage, predicate func(clientID string) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Broadcast marshal error: %v", err)
		return
	}

	cm.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(cm.clients))
	for clientID, record := range cm.clients {
		if predicate != nil && !predicate(clientID) {
			continue
		}
		if conn := cm.connections[record.ConnectionID]; conn != nil {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			log.Printf("Broadcast write error: %v", err)
		}
	}
}

// RegisteredCount reports how many clients have completed registration.
func (cm *ConnectionManager) RegisteredCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// ConnectionCount reports open sockets, registered or not.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every socket. Used during shutdown after clients have
// been notified.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(cm.connections))
	for _, conn := range cm.connections {
		if conn != nil {
			conns = append(conns, conn)
		}
	}
	cm.connections = make(map[string]*websocket.Conn)
	cm.clients = make(map[string]clientRecord)
	cm.byConn = make(map[string]string)
	cm.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}
}

func writeMessage(conn *websocket.Conn, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Marshal error for %s message: %v", msg.Action, err)
		return
	}
	// Background context: sends never run under the coordinator lock and
	// never block a request on a peer.
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		log.Printf("Write error for %s message: %v", msg.Action, err)
	}
}
