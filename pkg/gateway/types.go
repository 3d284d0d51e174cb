package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SecretHeader carries the shared secret on every request
const SecretHeader = "X-Arus-Secret"

// CreateRequest is the body of POST /v1/executions
type CreateRequest struct {
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
}

// CreateResponse is the body returned after creating an execution
type CreateResponse struct {
	ExecutionID string `json:"execution_id"`
}

// EventsResponse is the polling contract: events past the cursor plus the
// execution's current lifecycle flags.
type EventsResponse struct {
	Events      []map[string]interface{} `json:"events"`
	Cursor      float64                  `json:"cursor"`
	IsComplete  bool                     `json:"is_complete"`
	IsCancelled bool                     `json:"is_cancelled"`
	Error       string                   `json:"error,omitempty"`
}

// CancelResponse reports whether the cancel request took effect
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ErrorResponse is the envelope for HTTP error bodies
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventMessage is a server-initiated WebSocket notification
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Client is a connected WebSocket subscriber
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	writeMu sync.Mutex
}

// WriteMessage serializes writes to the connection. The websocket package
// allows only one concurrent writer, and broadcasts arrive from multiple
// handler goroutines.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// ClientInfo describes a connected client for status reporting
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
}
