// Package permission matches permission requests against registered
// requesters and correlates asynchronous platform prompts back to the
// caller through request codes.
package permission

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/rs/zerolog"
)

var (
	// ErrNoRequester is returned when no requester supports any of the
	// requested permissions.
	ErrNoRequester = errors.New("no permission requester supports the requested permissions")

	// ErrDenied is delivered when a prompt grants none of the remaining
	// permissions.
	ErrDenied = errors.New("permissions denied")
)

// Platform answers synchronous permission checks.
type Platform interface {
	IsGranted(permission string) bool
}

// Requester shows a permission prompt for a fixed capability set. Request
// must eventually lead to Negotiator.OnResult with the same code; it may do
// so before returning.
type Requester interface {
	Permissions() []string
	Request(code int, permissions []string) error
}

type pending struct {
	remaining      []string
	alreadyGranted []string
	handle         listener.Handle[[]string]
}

// Negotiator owns the request code counter and the outstanding prompts.
type Negotiator struct {
	platform Platform
	logger   zerolog.Logger

	mu         sync.Mutex
	requesters []Requester
	nextCode   int
	pending    map[int]*pending
}

func NewNegotiator(platform Platform, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		platform: platform,
		logger:   logger.With().Str("component", "permission").Logger(),
		nextCode: 1,
		pending:  make(map[int]*pending),
	}
}

// SetRequesters replaces the requester list. Order is the match priority.
func (n *Negotiator) SetRequesters(requesters []Requester) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requesters = append([]Requester(nil), requesters...)
}

// Supported returns each requester's capability list keyed by its index.
func (n *Negotiator) Supported() map[string][]string {
	n.mu.Lock()
	defer n.mu.Unlock()

	supported := make(map[string][]string, len(n.requesters))
	for i, r := range n.requesters {
		supported[strconv.Itoa(i)] = append([]string{}, r.Permissions()...)
	}
	return supported
}

// Request negotiates permissions for h. The first requester whose
// capabilities intersect permissions is used. If every matching permission is
// already granted h resolves immediately; otherwise a prompt is issued and h
// resolves when OnResult arrives. The returned code is 0 when no prompt was
// needed.
func (n *Negotiator) Request(permissions []string, h listener.Handle[[]string]) (int, error) {
	n.mu.Lock()
	requester, matched := n.match(permissions)
	n.mu.Unlock()

	if requester == nil {
		observability.RecordPermissionRequest("no_requester")
		return 0, fmt.Errorf("%w: %s", ErrNoRequester, strings.Join(permissions, ", "))
	}

	var granted, remaining []string
	for _, p := range matched {
		if n.platform.IsGranted(p) {
			granted = append(granted, p)
		} else {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		sort.Strings(granted)
		observability.RecordPermissionRequest("already_granted")
		return 0, h.Success(granted)
	}

	n.mu.Lock()
	code := n.nextCode
	n.nextCode++
	n.pending[code] = &pending{remaining: remaining, alreadyGranted: granted, handle: h}
	n.mu.Unlock()

	n.logger.Debug().
		Int("requestCode", code).
		Strs("permissions", remaining).
		Strs("alreadyGranted", granted).
		Msg("Requesting permissions")

	if err := requester.Request(code, remaining); err != nil {
		if p := n.take(code); p != nil {
			observability.RecordPermissionRequest("failed")
			_ = p.handle.Error(fmt.Sprintf("failed to request permissions: %v", err))
		}
		return code, fmt.Errorf("failed to request permissions: %w", err)
	}

	observability.RecordPermissionRequest("prompted")
	return code, nil
}

// OnResult completes the prompt identified by code. granted lists the
// permissions the user accepted. Unknown or already consumed codes are
// ignored and OnResult reports false.
func (n *Negotiator) OnResult(code int, granted []string, err error) bool {
	p := n.take(code)
	if p == nil {
		observability.RecordPermissionRequest("stale")
		n.logger.Debug().Int("requestCode", code).Msg("Ignoring permission result without pending request")
		return false
	}

	if err != nil {
		observability.RecordPermissionRequest("failed")
		_ = p.handle.Error(err.Error())
		return true
	}

	accepted := make(map[string]bool, len(granted))
	for _, g := range granted {
		accepted[g] = true
	}

	result := append([]string{}, p.alreadyGranted...)
	newly := 0
	for _, r := range p.remaining {
		if accepted[r] {
			result = append(result, r)
			newly++
		}
	}

	if newly == 0 {
		observability.RecordPermissionRequest("denied")
		_ = p.handle.Error(fmt.Sprintf("%v: %s", ErrDenied, strings.Join(p.remaining, ", ")))
		return true
	}

	sort.Strings(result)
	observability.RecordPermissionRequest("granted")
	_ = p.handle.Success(result)
	return true
}

// Pending returns the outstanding request codes.
func (n *Negotiator) Pending() []int {
	n.mu.Lock()
	defer n.mu.Unlock()

	codes := make([]int, 0, len(n.pending))
	for code := range n.pending {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Clear fails every outstanding prompt with message.
func (n *Negotiator) Clear(message string) int {
	n.mu.Lock()
	outstanding := n.pending
	n.pending = make(map[int]*pending)
	n.mu.Unlock()

	for _, p := range outstanding {
		_ = p.handle.Error(message)
	}
	return len(outstanding)
}

func (n *Negotiator) take(code int) *pending {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.pending[code]
	if !ok {
		return nil
	}
	delete(n.pending, code)
	return p
}

// match must be called with mu held.
func (n *Negotiator) match(permissions []string) (Requester, []string) {
	for _, r := range n.requesters {
		caps := make(map[string]bool)
		for _, c := range r.Permissions() {
			caps[c] = true
		}

		var matched []string
		seen := make(map[string]bool)
		for _, p := range permissions {
			if caps[p] && !seen[p] {
				matched = append(matched, p)
				seen[p] = true
			}
		}
		if len(matched) > 0 {
			return r, matched
		}
	}
	return nil, nil
}
