package simhost

import (
	"errors"
	"sort"
	"sync"

	"github.com/harun/passivebridge/internal/config"
)

// ErrNoResultHandler is returned by Request before a result handler is set.
var ErrNoResultHandler = errors.New("permission result handler not set")

// Platform is the set of granted permissions.
type Platform struct {
	mu      sync.RWMutex
	granted map[string]bool
}

func NewPlatform(granted ...string) *Platform {
	p := &Platform{granted: make(map[string]bool)}
	p.Grant(granted...)
	return p
}

func (p *Platform) IsGranted(permission string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[permission]
}

func (p *Platform) Grant(permissions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, perm := range permissions {
		p.granted[perm] = true
	}
}

func (p *Platform) Revoke(permissions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, perm := range permissions {
		delete(p.granted, perm)
	}
}

// Granted returns the granted permissions sorted.
func (p *Platform) Granted() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := make([]string, 0, len(p.granted))
	for perm := range p.granted {
		list = append(list, perm)
	}
	sort.Strings(list)
	return list
}

// ResultFunc receives the outcome of a prompt. It reports whether the code
// was still pending.
type ResultFunc func(code int, granted []string, err error) bool

// Requester answers permission prompts on a goroutine. With AutoGrant every
// requested permission is granted, otherwise the prompt is dismissed.
type Requester struct {
	permissions []string
	autoGrant   bool
	platform    *Platform

	mu       sync.Mutex
	onResult ResultFunc
	wg       sync.WaitGroup
}

func NewRequester(cfg config.RequesterConfig, platform *Platform) *Requester {
	return &Requester{
		permissions: append([]string(nil), cfg.Permissions...),
		autoGrant:   cfg.AutoGrant,
		platform:    platform,
	}
}

// SetResultHandler sets where prompt outcomes are delivered.
func (r *Requester) SetResultHandler(fn ResultFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = fn
}

func (r *Requester) Permissions() []string {
	return append([]string(nil), r.permissions...)
}

func (r *Requester) Request(code int, permissions []string) error {
	r.mu.Lock()
	onResult := r.onResult
	r.mu.Unlock()
	if onResult == nil {
		return ErrNoResultHandler
	}

	requested := append([]string(nil), permissions...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var granted []string
		if r.autoGrant {
			r.platform.Grant(requested...)
			granted = requested
		}
		onResult(code, granted, nil)
	}()
	return nil
}

// Wait blocks until every outstanding prompt has been answered.
func (r *Requester) Wait() {
	r.wg.Wait()
}
