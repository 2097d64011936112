package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args are the positional parameters of a command.
type Args []json.RawMessage

func invalidParams(format string, a ...interface{}) error {
	return NewRPCError(InvalidParams, fmt.Errorf(format, a...))
}

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// IsNull reports whether argument i is missing or JSON null.
func (a Args) IsNull(i int) bool {
	if i >= len(a) {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(a[i]), []byte("null"))
}

// Raw returns argument i, or nil when it is absent.
func (a Args) Raw(i int) json.RawMessage {
	if i >= len(a) {
		return nil
	}
	return a[i]
}

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v interface{}) error {
	if i >= len(a) {
		return invalidParams("missing argument %d", i)
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return invalidParams("argument %d: %v", i, err)
	}
	return nil
}

func (a Args) String(i int) (string, error) {
	var s string
	if err := a.Decode(i, &s); err != nil {
		return "", err
	}
	return s, nil
}

func (a Args) Int(i int) (int, error) {
	var n int
	if err := a.Decode(i, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// OptInt returns argument i, or def when it is absent or null.
func (a Args) OptInt(i int, def int) (int, error) {
	if a.IsNull(i) {
		return def, nil
	}
	return a.Int(i)
}

func (a Args) Strings(i int) ([]string, error) {
	var s []string
	if err := a.Decode(i, &s); err != nil {
		return nil, err
	}
	return s, nil
}
