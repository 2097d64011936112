package simhost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyBound is returned by Bind while a binding is active.
var ErrAlreadyBound = errors.New("connection already bound")

// Connection binds a caller to target after a delay, the way a platform
// service connection completes asynchronously. Drop simulates the service
// dying: onUnbound runs and the connection rebinds after the same delay.
type Connection[B any] struct {
	name   string
	target B
	delay  time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	drops  chan struct{}
	bound  bool
	binds  int
	wg     sync.WaitGroup
}

func NewConnection[B any](name string, target B, delay time.Duration, logger zerolog.Logger) *Connection[B] {
	return &Connection[B]{
		name:   name,
		target: target,
		delay:  delay,
		logger: logger.With().Str("component", "connection").Str("service", name).Logger(),
	}
}

func (c *Connection[B]) Bind(onBound func(B), onUnbound func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyBound
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.drops = make(chan struct{}, 1)

	c.wg.Add(1)
	go c.run(ctx, c.drops, onBound, onUnbound)
	return nil
}

func (c *Connection[B]) run(ctx context.Context, drops <-chan struct{}, onBound func(B), onUnbound func()) {
	defer c.wg.Done()

	for {
		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.bound = true
		c.binds++
		c.mu.Unlock()

		c.logger.Debug().Msg("Service bound")
		onBound(c.target)

		select {
		case <-ctx.Done():
			return
		case <-drops:
		}

		c.mu.Lock()
		c.bound = false
		c.mu.Unlock()

		c.logger.Warn().Msg("Service connection lost")
		onUnbound()
	}
}

// Unbind cancels a pending or active binding. onUnbound is not called.
func (c *Connection[B]) Unbind() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.bound = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.logger.Debug().Msg("Service unbound")
	}
}

// Drop simulates the bound service going away. It reports false when
// nothing is bound.
func (c *Connection[B]) Drop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bound || c.drops == nil {
		return false
	}
	select {
	case c.drops <- struct{}{}:
	default:
	}
	return true
}

func (c *Connection[B]) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

// Binds counts successful binds, rebinds included.
func (c *Connection[B]) Binds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binds
}

// Wait blocks until every bind goroutine has exited.
func (c *Connection[B]) Wait() {
	c.wg.Wait()
}
