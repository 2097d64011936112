package result

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrProtocolViolation marks internal misuse of a Channel. It is a bug in
	// the caller, never a condition to report to the remote party.
	ErrProtocolViolation = errors.New("result channel protocol violation")
	// ErrAlreadyTerminated is returned when a Channel is used after its
	// terminal delivery.
	ErrAlreadyTerminated = fmt.Errorf("%w: channel already terminated", ErrProtocolViolation)
	// ErrInvalidPayload is returned for nil or unsupported payloads.
	ErrInvalidPayload = fmt.Errorf("%w: invalid payload", ErrProtocolViolation)
	// ErrClosed is returned by sinks whose transport is gone.
	ErrClosed = errors.New("result sink closed")
)

// Reply is a single delivery handed to a Sink.
type Reply struct {
	Payload      Payload
	Err          error
	KeepCallback bool
}

// Sink carries replies back to the caller that owns a Channel.
type Sink interface {
	Send(reply Reply) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(reply Reply) error

// Send implements Sink.
func (f SinkFunc) Send(reply Reply) error {
	return f(reply)
}

// Channel wraps one pending request. It forwards any number of Next values
// followed by exactly one Success or Error.
type Channel struct {
	id     string
	sink   Sink
	logger zerolog.Logger

	mu       sync.Mutex
	terminal bool
	done     chan struct{}
}

// NewChannel creates a channel delivering to sink.
func NewChannel(id string, sink Sink, logger zerolog.Logger) *Channel {
	return &Channel{
		id:     id,
		sink:   sink,
		logger: logger.With().Str("requestId", id).Logger(),
		done:   make(chan struct{}),
	}
}

// ID returns the request identifier.
func (c *Channel) ID() string {
	return c.id
}

// Next forwards an intermediate value.
func (c *Channel) Next(p Payload) error {
	return c.deliver(Reply{Payload: p, KeepCallback: true}, false)
}

// Success delivers the terminal value.
func (c *Channel) Success(p Payload) error {
	return c.deliver(Reply{Payload: p}, true)
}

// Error delivers a terminal failure with a human readable message.
func (c *Channel) Error(message string) error {
	return c.Fail(errors.New(message))
}

// Fail delivers a terminal failure carrying err.
func (c *Channel) Fail(err error) error {
	if err == nil {
		c.logger.Error().Msg("Fail called with nil error")
		return fmt.Errorf("%w: nil error", ErrProtocolViolation)
	}
	return c.deliver(Reply{Payload: Empty{}, Err: err}, true)
}

// Done is closed after the terminal delivery.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Terminated reports whether the terminal delivery happened.
func (c *Channel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

func (c *Channel) deliver(reply Reply, terminal bool) error {
	if reply.Payload == nil {
		c.logger.Error().Bool("terminal", terminal).Msg("Rejected nil payload")
		return ErrInvalidPayload
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal {
		c.logger.Error().Bool("terminal", terminal).Msg("Delivery after terminal reply")
		return ErrAlreadyTerminated
	}
	if terminal {
		c.terminal = true
		defer close(c.done)
	}

	if err := c.sink.Send(reply); err != nil {
		c.logger.Debug().Err(err).Bool("terminal", terminal).Msg("Failed to send reply")
		return err
	}
	return nil
}
