package result

import (
	"fmt"
)

// Payload is a value delivered through a Channel. The set of payload shapes is
// closed: Text, Record, List and Empty are the only implementations.
type Payload interface {
	isPayload()
	// Value returns the JSON-encodable form of the payload.
	Value() interface{}
}

// Text is a plain string payload.
type Text string

// Record is a structured key/value payload.
type Record map[string]interface{}

// List is an ordered payload.
type List []interface{}

// Empty carries no value.
type Empty struct{}

func (Text) isPayload()   {}
func (Record) isPayload() {}
func (List) isPayload()   {}
func (Empty) isPayload()  {}

func (t Text) Value() interface{}   { return string(t) }
func (r Record) Value() interface{} { return map[string]interface{}(r) }
func (l List) Value() interface{}   { return []interface{}(l) }
func (Empty) Value() interface{}    { return nil }

// Strings builds a List from a string slice.
func Strings(values []string) List {
	list := make(List, 0, len(values))
	for _, v := range values {
		list = append(list, v)
	}
	return list
}

// From converts a loosely typed value into a Payload. Values outside the
// supported shapes yield ErrInvalidPayload.
func From(v interface{}) (Payload, error) {
	switch value := v.(type) {
	case nil:
		return Empty{}, nil
	case Payload:
		return value, nil
	case string:
		return Text(value), nil
	case map[string]interface{}:
		return Record(value), nil
	case map[string]string:
		record := make(Record, len(value))
		for k, s := range value {
			record[k] = s
		}
		return record, nil
	case []interface{}:
		return List(value), nil
	case []string:
		return Strings(value), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidPayload, v)
	}
}
