package gateway

import (
	"fmt"
	"sync"

	"github.com/harun/passivebridge/pkg/result"
)

// clientSink writes replies for one request to a websocket client.
type clientSink struct {
	client    *Client
	requestID string
}

func (s *clientSink) Send(reply result.Reply) error {
	if err := s.client.WriteJSON(ToResponse(s.requestID, reply)); err != nil {
		// a failed write means the connection is unusable
		return fmt.Errorf("%w: client %s: %v", result.ErrClosed, s.client.ID, err)
	}
	return nil
}

// collector gathers the replies of one HTTP request until the terminal one.
type collector struct {
	mu           sync.Mutex
	intermediate []interface{}
	terminal     *result.Reply
}

func (c *collector) Send(reply result.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reply.KeepCallback {
		var v interface{}
		if reply.Payload != nil {
			v = reply.Payload.Value()
		}
		c.intermediate = append(c.intermediate, v)
		return nil
	}
	r := reply
	c.terminal = &r
	return nil
}

// response builds the HTTP body. It must be called after the channel
// terminated.
func (c *collector) response(id string) RPCResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp RPCResponse
	if c.terminal == nil {
		resp = RPCResponse{ID: id, JSONRPC: "2.0", Error: &RPCError{Code: InternalError, Message: "request ended without a result"}}
	} else {
		resp = ToResponse(id, *c.terminal)
	}
	resp.Intermediate = c.intermediate
	return resp
}
