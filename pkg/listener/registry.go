// Package listener multiplexes asynchronous values to subscribers keyed by
// small integer ids.
//
// Invariants:
//   - Register with an existing id replaces the previous handle.
//   - A fanout (Dispatch, ResolveAll, FailAll) delivers to the snapshot of
//     handles taken when it starts; two fanouts on the same registry never
//     interleave their deliveries.
//   - ResolveAll and FailAll leave the registry empty.
package listener

import (
	"errors"
	"sort"
	"sync"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/pkg/result"
	"github.com/rs/zerolog"
)

// AutoID asks Register to pick the lowest unused non-negative id.
const AutoID = -1

// Handle receives values for one subscription.
type Handle[T any] interface {
	Next(value T) error
	Success(value T) error
	Error(message string) error
}

// Registry is a mutex-guarded table of handles for one event category.
type Registry[T any] struct {
	category string
	logger   zerolog.Logger

	mu      sync.Mutex
	handles map[int]*slot[T]

	// deliverMu serializes fanouts so per-listener order matches call order.
	deliverMu sync.Mutex
}

// New creates an empty registry for category.
func New[T any](category string, logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		category: category,
		logger:   logger.With().Str("category", category).Logger(),
		handles:  make(map[int]*slot[T]),
	}
}

// Category returns the registry's category name.
func (r *Registry[T]) Category() string {
	return r.category
}

// Register inserts h under id, replacing any existing handle, and returns the
// id used. Passing AutoID assigns the lowest free id.
func (r *Registry[T]) Register(id int, h Handle[T]) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 {
		id = 0
		for {
			if _, taken := r.handles[id]; !taken {
				break
			}
			id++
		}
	}
	r.handles[id] = &slot[T]{handle: h}
	observability.SetListeners(r.category, len(r.handles))

	r.logger.Debug().Int("listenerId", id).Int("count", len(r.handles)).Msg("Listener registered")
	return id
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *Registry[T]) Unregister(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[id]; !exists {
		return false
	}
	delete(r.handles, id)
	observability.SetListeners(r.category, len(r.handles))

	r.logger.Debug().Int("listenerId", id).Int("count", len(r.handles)).Msg("Listener unregistered")
	return true
}

// Dispatch sends value to every registered handle via Next and returns the
// number of successful deliveries.
func (r *Registry[T]) Dispatch(value T) int {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	entries := r.snapshot(false)
	observability.RecordDispatch(r.category, "next")
	return r.deliver(entries, func(h Handle[T]) error { return h.Next(value) }, true)
}

// ResolveAll sends value to every registered handle via Success and empties
// the registry.
func (r *Registry[T]) ResolveAll(value T) int {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	entries := r.snapshot(true)
	observability.RecordDispatch(r.category, "success")
	return r.deliver(entries, func(h Handle[T]) error { return h.Success(value) }, false)
}

// FailAll sends message to every registered handle via Error and empties the
// registry.
func (r *Registry[T]) FailAll(message string) int {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	entries := r.snapshot(true)
	observability.RecordDispatch(r.category, "error")
	return r.deliver(entries, func(h Handle[T]) error { return h.Error(message) }, false)
}

// Clear drops every handle without notifying it.
func (r *Registry[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.handles)
	r.handles = make(map[int]*slot[T])
	observability.SetListeners(r.category, 0)
	return count
}

// Len returns the number of registered handles.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// IDs returns the registered ids in ascending order.
func (r *Registry[T]) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// slot wraps a registered handle so a re-registration under the same id can
// be told apart by identity, whatever the handle's dynamic type.
type slot[T any] struct {
	handle Handle[T]
}

type entry[T any] struct {
	id   int
	slot *slot[T]
}

func (r *Registry[T]) snapshot(clear bool) []entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]entry[T], 0, len(r.handles))
	for id, s := range r.handles {
		entries = append(entries, entry[T]{id: id, slot: s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	if clear {
		r.handles = make(map[int]*slot[T])
		observability.SetListeners(r.category, 0)
	}
	return entries
}

func (r *Registry[T]) deliver(entries []entry[T], send func(Handle[T]) error, prune bool) int {
	delivered := 0
	for _, e := range entries {
		err := send(e.slot.handle)
		if err == nil {
			delivered++
			continue
		}

		gone := errors.Is(err, result.ErrClosed) || errors.Is(err, result.ErrAlreadyTerminated)
		if gone && prune {
			r.pruneIfSame(e)
			observability.RecordDeliveryError(r.category, "pruned")
			r.logger.Debug().Err(err).Int("listenerId", e.id).Msg("Pruned listener with closed transport")
			continue
		}

		observability.RecordDeliveryError(r.category, "failed")
		r.logger.Warn().Err(err).Int("listenerId", e.id).Msg("Failed to deliver to listener")
	}
	return delivered
}

// pruneIfSame removes e unless its id was re-registered with a new handle
// while the fanout was running.
func (r *Registry[T]) pruneIfSame(e entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.handles[e.id]; ok && current == e.slot {
		delete(r.handles, e.id)
		observability.SetListeners(r.category, len(r.handles))
	}
}
