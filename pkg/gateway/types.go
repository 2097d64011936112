package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/passivebridge/pkg/result"
)

// StreamType identifies typed streams delivered to gateway clients.
type StreamType string

const (
	StreamTypeLifecycle StreamType = "lifecycle"
	StreamTypeBridge    StreamType = "bridge"
)

// RPCRequest represents a JSON-RPC 2.0 request with positional params.
type RPCRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
	JSONRPC string            `json:"jsonrpc"`
}

// RPCResponse represents a JSON-RPC 2.0 response. A response with
// KeepCallback set is an intermediate value; more responses with the same id
// follow.
type RPCResponse struct {
	ID           string        `json:"id"`
	Result       interface{}   `json:"result,omitempty"`
	Error        *RPCError     `json:"error,omitempty"`
	JSONRPC      string        `json:"jsonrpc"`
	KeepCallback bool          `json:"keepCallback,omitempty"`
	Intermediate []interface{} `json:"intermediate,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	cause error
}

// NewRPCError attaches an RPC error code to err.
func NewRPCError(code int, err error) *RPCError {
	return &RPCError{Code: code, Message: err.Error(), cause: err}
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

func (e *RPCError) Unwrap() error {
	return e.cause
}

// EventMessage represents a server-initiated event
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Stream    StreamType  `json:"stream,omitempty"`
	Phase     string      `json:"phase,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// AuthChallenge represents an authentication challenge message
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse represents a client's authentication response
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// CommandHandler executes one command. It delivers values through reply,
// possibly after returning. A returned error becomes the terminal error
// reply unless reply already terminated.
type CommandHandler func(ctx context.Context, args Args, reply *result.Channel) error

// RPC error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
	NotConnected           = -32010
	NotFound               = -32011
)

// Client represents a connected WebSocket client
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	AuthAttempts  int
	RateLimiter   *ClientRateLimiter
	State         ClientState

	writeMu sync.Mutex
	closed  atomic.Bool
}

// WriteMessage serializes writes; gorilla connections allow one writer.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	if c.closed.Load() {
		return result.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Client) WriteJSON(v interface{}) error {
	if c.closed.Load() {
		return result.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Close marks the client gone and closes its connection.
func (c *Client) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	return c.closed.Load()
}
