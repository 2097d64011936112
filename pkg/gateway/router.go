package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/internal/tracing"
	"github.com/harun/passivebridge/pkg/result"
	"github.com/rs/zerolog"
)

type methodEntry struct {
	handler   CommandHandler
	streaming bool
}

// RPCRouter handles command registration and request routing
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]methodEntry
	logger  zerolog.Logger
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter(logger zerolog.Logger) *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]methodEntry),
		logger:  logger,
	}
}

// RegisterMethod registers a command that terminates its reply.
func (r *RPCRouter) RegisterMethod(name string, handler CommandHandler) error {
	return r.register(name, handler, false)
}

// RegisterStreamingMethod registers a command whose reply stays open for
// intermediate values, such as a listener registration.
func (r *RPCRouter) RegisterStreamingMethod(name string, handler CommandHandler) error {
	return r.register(name, handler, true)
}

func (r *RPCRouter) register(name string, handler CommandHandler, streaming bool) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = methodEntry{handler: handler, streaming: streaming}
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
		}
	}

	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// Execute runs the command for req, delivering every reply to sink. It
// returns when the handler returns; the reply channel may still be open
// afterwards. When allowStreaming is false, streaming commands are rejected.
func (r *RPCRouter) Execute(ctx context.Context, req *RPCRequest, sink result.Sink, allowStreaming bool) *result.Channel {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	reply := result.NewChannel(req.ID, sink, logger)

	r.mu.RLock()
	entry, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		_ = reply.Fail(&RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
		return reply
	}

	if entry.streaming && !allowStreaming {
		_ = reply.Fail(&RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Method %s streams results and needs a websocket connection", req.Method),
		})
		return reply
	}

	start := time.Now()
	err := r.invoke(ctx, entry.handler, req, reply)
	observability.RecordCommand(req.Method, time.Since(start), err == nil)

	if err != nil {
		logger.Warn().Err(err).Msg("Command failed")
		if reply.Terminated() {
			return reply
		}
		_ = reply.Fail(commandError(req.Method, err))
	}
	return reply
}

func (r *RPCRouter) invoke(ctx context.Context, handler CommandHandler, req *RPCRequest, reply *result.Channel) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return handler(ctx, Args(req.Params), reply)
}

// commandError wraps a handler error in the caller-facing form, keeping any
// RPC code the handler attached.
func commandError(method string, err error) *RPCError {
	code := InternalError
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		code = rpcErr.Code
	}
	return &RPCError{
		Code:    code,
		Message: fmt.Sprintf("Failed on action %s: %v", method, err),
		cause:   err,
	}
}

// ToResponse converts a channel reply to its wire form.
func ToResponse(id string, reply result.Reply) RPCResponse {
	resp := RPCResponse{ID: id, JSONRPC: "2.0", KeepCallback: reply.KeepCallback}

	if reply.Err != nil {
		var rpcErr *RPCError
		if errors.As(reply.Err, &rpcErr) {
			resp.Error = &RPCError{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
		} else {
			resp.Error = &RPCError{Code: InternalError, Message: reply.Err.Error()}
		}
		return resp
	}

	if reply.Payload != nil {
		resp.Result = reply.Payload.Value()
	}
	return resp
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// IsStreaming reports whether name is registered as a streaming method.
func (r *RPCRouter) IsStreaming(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.methods[name].streaming
}

// GetMethods returns all registered method names, sorted.
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}
