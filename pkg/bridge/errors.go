package bridge

import "errors"

var (
	// ErrNotConnected is returned by operations that need a bound session
	// host while it is not bound. Calling Start again recovers.
	ErrNotConnected = errors.New("session host is not connected yet")

	// ErrDataHandlerInactive is returned by RecordsInCache before the data
	// handler runs.
	ErrDataHandlerInactive = &wrapped{msg: "Data handler is not active yet", cause: ErrNotConnected}

	ErrNotFound = errors.New("not found")

	// ErrEmptySettingKey rejects a configure batch containing an empty key.
	ErrEmptySettingKey = errors.New("setting key is required")
)

type wrapped struct {
	msg   string
	cause error
}

func (e *wrapped) Error() string { return e.msg }
func (e *wrapped) Unwrap() error { return e.cause }

// PluginNotFoundError is returned when no connected plugin has the given name.
type PluginNotFoundError struct {
	Plugin string
}

func (e *PluginNotFoundError) Error() string {
	return "Plugin " + e.Plugin + " not found to set source IDs for"
}

func (e *PluginNotFoundError) Unwrap() error { return ErrNotFound }
