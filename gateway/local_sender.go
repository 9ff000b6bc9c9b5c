package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/taskhive/taskhive/fanout"
)

var _ fanout.Sender = (*LocalSender)(nil)

// ServerMessage is the frame written to clients.
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type localConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// LocalSender tracks the physical websocket connections owned by this
// process, keyed by connection id. It is the process-local half of fan-out;
// delivery to connections owned by other processes goes through pub/sub.
type LocalSender struct {
	mu    sync.RWMutex
	conns map[string]*localConn
}

// NewLocalSender creates an empty LocalSender.
func NewLocalSender() *LocalSender {
	return &LocalSender{
		conns: make(map[string]*localConn),
	}
}

// Add registers a freshly upgraded connection under connID.
func (s *LocalSender) Add(connID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = &localConn{conn: conn}
}

// Remove forgets the connection. It does not close it.
func (s *LocalSender) Remove(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
}

// Owns reports whether this process holds the physical connection.
func (s *LocalSender) Owns(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[connID]
	return ok
}

// Send writes an event frame to the connection. A per-connection mutex
// serializes writes, gorilla allows only one concurrent writer.
func (s *LocalSender) Send(connID, event string, payload []byte) error {
	s.mu.RLock()
	lc, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s is not owned by this process", connID)
	}

	data, err := json.Marshal(ServerMessage{Event: event, Data: payload})
	if err != nil {
		return err
	}

	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	return lc.conn.WriteMessage(websocket.TextMessage, data)
}

// Count returns the number of connections this process currently owns.
func (s *LocalSender) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
