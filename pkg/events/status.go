package events

import (
	"fmt"
	"strings"
)

// ServerStatus is the upload server connection state.
type ServerStatus int

const (
	ServerConnecting ServerStatus = iota
	ServerConnected
	ServerDisconnected
	ServerUploading
	ServerDisabled
	ServerReady
	ServerUploadingFailed
	ServerUnauthorized
)

var serverStatusNames = []string{
	"CONNECTING",
	"CONNECTED",
	"DISCONNECTED",
	"UPLOADING",
	"DISABLED",
	"READY",
	"UPLOADING_FAILED",
	"UNAUTHORIZED",
}

func (s ServerStatus) String() string {
	if s < 0 || int(s) >= len(serverStatusNames) {
		return fmt.Sprintf("ServerStatus(%d)", int(s))
	}
	return serverStatusNames[s]
}

// Valid reports whether s is one of the enumerated states.
func (s ServerStatus) Valid() bool {
	return s >= 0 && int(s) < len(serverStatusNames)
}

func (s ServerStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid server status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ServerStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseServerStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseServerStatus parses a status name, case-insensitively.
func ParseServerStatus(name string) (ServerStatus, error) {
	for i, n := range serverStatusNames {
		if strings.EqualFold(n, name) {
			return ServerStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown server status %q", name)
}

// SourceState is the connection state of one data source plugin.
type SourceState int

const (
	SourceUnavailable SourceState = iota
	SourceConnecting
	SourceDisconnecting
	SourceDisconnected
	SourceConnected
	SourceReady
	SourceDisabled
)

var sourceStateNames = []string{
	"UNAVAILABLE",
	"CONNECTING",
	"DISCONNECTING",
	"DISCONNECTED",
	"CONNECTED",
	"READY",
	"DISABLED",
}

func (s SourceState) String() string {
	if s < 0 || int(s) >= len(sourceStateNames) {
		return fmt.Sprintf("SourceState(%d)", int(s))
	}
	return sourceStateNames[s]
}

func (s SourceState) Valid() bool {
	return s >= 0 && int(s) < len(sourceStateNames)
}

func (s SourceState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid source state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *SourceState) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSourceState parses a state name, case-insensitively.
func ParseSourceState(name string) (SourceState, error) {
	for i, n := range sourceStateNames {
		if strings.EqualFold(n, name) {
			return SourceState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown source state %q", name)
}
