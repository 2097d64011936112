package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Topic is the single bus topic all notifications travel on, so subscribers
// see them in publish order.
const Topic = "passivebridge.broadcast"

const metadataAction = "action"

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("broadcast bus closed")

// Bus is the in-process broadcast source backed by a watermill gochannel.
// Publishing blocks until every subscriber acked the message, so a message is
// fully handled before the next one is sent.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus. Notifications published while nothing is subscribed
// are dropped.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			NewWatermillLogger(logger),
		),
		logger: logger,
	}
}

// Publish sends one raw notification.
func (b *Bus) Publish(n Notification) error {
	payload, err := json.Marshal(n.Extras)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	msg := message.NewMessage(ulid.Make().String(), payload)
	msg.Metadata.Set(metadataAction, string(n.Action))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", n.Action, err)
	}

	b.logger.Trace().Str("action", string(n.Action)).Str("messageId", msg.UUID).Msg("Notification published")
	return nil
}

// PublishEvent encodes and publishes a typed event.
func (b *Bus) PublishEvent(e Event) error {
	return b.Publish(Encode(e))
}

func (b *Bus) PublishRecordsSent(topic string, count int64) error {
	return b.Publish(Notification{
		Action: ActionRecordsSent,
		Extras: map[string]string{
			ExtraTopic: topic,
			ExtraCount: strconv.FormatInt(count, 10),
		},
	})
}

func (b *Bus) PublishServerStatus(status ServerStatus) error {
	return b.PublishEvent(status)
}

func (b *Bus) PublishSourceStatus(status SourceStatus) error {
	return b.PublishEvent(status)
}

func (b *Bus) PublishPluginsUpdated() error {
	return b.Publish(Notification{Action: ActionPluginsUpdated})
}

// Subscribe returns the message stream. The channel is closed when ctx is
// cancelled or the bus is closed. Every message must be acked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.pubsub.Close()
}

// ToNotification reads a bus message back into its raw form.
func ToNotification(msg *message.Message) (Notification, error) {
	n := Notification{Action: Action(msg.Metadata.Get(metadataAction))}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &n.Extras); err != nil {
			return n, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return n, nil
}
