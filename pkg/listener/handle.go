package listener

import (
	"github.com/harun/passivebridge/pkg/result"
)

type channelHandle[T any] struct {
	ch     *result.Channel
	encode func(T) result.Payload
}

// FromChannel adapts a result channel to a Handle, encoding every value with
// encode.
func FromChannel[T any](ch *result.Channel, encode func(T) result.Payload) Handle[T] {
	return &channelHandle[T]{ch: ch, encode: encode}
}

func (h *channelHandle[T]) Next(value T) error {
	return h.ch.Next(h.encode(value))
}

func (h *channelHandle[T]) Success(value T) error {
	return h.ch.Success(h.encode(value))
}

func (h *channelHandle[T]) Error(message string) error {
	return h.ch.Error(message)
}

// Funcs is an in-process Handle built from optional callbacks.
type Funcs[T any] struct {
	OnNext    func(T)
	OnSuccess func(T)
	OnError   func(string)
}

func (f *Funcs[T]) Next(value T) error {
	if f.OnNext != nil {
		f.OnNext(value)
	}
	return nil
}

func (f *Funcs[T]) Success(value T) error {
	if f.OnSuccess != nil {
		f.OnSuccess(value)
	}
	return nil
}

func (f *Funcs[T]) Error(message string) error {
	if f.OnError != nil {
		f.OnError(message)
	}
	return nil
}
