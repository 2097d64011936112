// Package events carries status notifications from the session host to the
// bridge and decodes them into typed events.
package events

import (
	"errors"
	"fmt"
	"strconv"
)

// Action identifies the kind of a notification.
type Action string

const (
	ActionRecordsSent         Action = "records.sent"
	ActionServerStatusChanged Action = "server.status.changed"
	ActionSourceStatusChanged Action = "source.status.changed"
	ActionPluginsUpdated      Action = "plugins.updated"
)

// Notification extras.
const (
	ExtraTopic      = "topic"
	ExtraCount      = "count"
	ExtraStatus     = "status"
	ExtraPlugin     = "plugin"
	ExtraSourceName = "sourceName"
)

// ErrMalformed marks a notification that cannot be decoded.
var ErrMalformed = errors.New("malformed notification")

// Notification is the raw form published on the bus.
type Notification struct {
	Action Action            `json:"action"`
	Extras map[string]string `json:"extras,omitempty"`
}

// Event is a decoded notification.
type Event interface {
	Action() Action
}

// SendStatus reports the outcome of one upload batch. NumberOfRecords is only
// meaningful when Success is true.
type SendStatus struct {
	Topic           string
	Success         bool
	NumberOfRecords int64
}

// SourceStatus reports a plugin's source state.
type SourceStatus struct {
	Plugin     string
	State      SourceState
	SourceName *string
}

// PluginsUpdated signals that the active plugin list changed.
type PluginsUpdated struct{}

func (SendStatus) Action() Action     { return ActionRecordsSent }
func (ServerStatus) Action() Action   { return ActionServerStatusChanged }
func (SourceStatus) Action() Action   { return ActionSourceStatusChanged }
func (PluginsUpdated) Action() Action { return ActionPluginsUpdated }

// NewSendStatus applies the count sentinel: a negative count is a failed
// upload for topic.
func NewSendStatus(topic string, count int64) SendStatus {
	if count >= 0 {
		return SendStatus{Topic: topic, Success: true, NumberOfRecords: count}
	}
	return SendStatus{Topic: topic}
}

// Encode converts a typed event back to its raw notification.
func Encode(e Event) Notification {
	n := Notification{Action: e.Action(), Extras: map[string]string{}}

	switch ev := e.(type) {
	case SendStatus:
		n.Extras[ExtraTopic] = ev.Topic
		count := int64(-1)
		if ev.Success {
			count = ev.NumberOfRecords
		}
		n.Extras[ExtraCount] = strconv.FormatInt(count, 10)
	case ServerStatus:
		n.Extras[ExtraStatus] = strconv.Itoa(int(ev))
	case SourceStatus:
		n.Extras[ExtraPlugin] = ev.Plugin
		n.Extras[ExtraStatus] = strconv.Itoa(int(ev.State))
		if ev.SourceName != nil {
			n.Extras[ExtraSourceName] = *ev.SourceName
		}
	}
	return n
}

// Decode turns a raw notification into a typed event. Missing mandatory
// extras and out of range ordinals return an error wrapping ErrMalformed.
func Decode(n Notification) (Event, error) {
	switch n.Action {
	case ActionRecordsSent:
		topic, err := required(n, ExtraTopic)
		if err != nil {
			return nil, err
		}
		raw, err := required(n, ExtraCount)
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s count %q", ErrMalformed, n.Action, raw)
		}
		return NewSendStatus(topic, count), nil

	case ActionServerStatusChanged:
		ordinal, err := ordinal(n)
		if err != nil {
			return nil, err
		}
		status := ServerStatus(ordinal)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %s ordinal %d out of range", ErrMalformed, n.Action, ordinal)
		}
		return status, nil

	case ActionSourceStatusChanged:
		plugin, err := required(n, ExtraPlugin)
		if err != nil {
			return nil, err
		}
		ordinal, err := ordinal(n)
		if err != nil {
			return nil, err
		}
		state := SourceState(ordinal)
		if !state.Valid() {
			return nil, fmt.Errorf("%w: %s ordinal %d out of range", ErrMalformed, n.Action, ordinal)
		}
		status := SourceStatus{Plugin: plugin, State: state}
		if name, ok := n.Extras[ExtraSourceName]; ok {
			status.SourceName = &name
		}
		return status, nil

	case ActionPluginsUpdated:
		return PluginsUpdated{}, nil
	}

	return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, n.Action)
}

func required(n Notification, key string) (string, error) {
	v, ok := n.Extras[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s missing %s", ErrMalformed, n.Action, key)
	}
	return v, nil
}

func ordinal(n Notification) (int, error) {
	raw, err := required(n, ExtraStatus)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s status %q", ErrMalformed, n.Action, raw)
	}
	return v, nil
}
