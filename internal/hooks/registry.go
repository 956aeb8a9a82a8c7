// Package hooks implements HookRegistry — spec §4.8. Five synchronous
// lifecycle events support multiple listeners at two scopes (global,
// registered on the Sirannon registry, and local, registered per Database);
// global listeners always run before local ones.
package hooks

import (
	"context"
	"sync"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/rs/zerolog/log"
)

// Event names the five lifecycle hook points — spec §4.8.
type Event string

const (
	EventBeforeConnect Event = "beforeConnect"
	EventDatabaseOpen  Event = "databaseOpen"
	EventDatabaseClose Event = "databaseClose"
	EventBeforeQuery   Event = "beforeQuery"
	EventAfterQuery    Event = "afterQuery"
)

// Listener is one hook callback. Returning a non-nil error denies the
// operation for beforeConnect/beforeQuery; for the other three events the
// error is logged and swallowed.
type Listener func(ctx context.Context, payload any) error

// Registry holds listeners for one scope (global or local). A Database
// composes its own local Registry with the Sirannon registry's global one
// via FireDenying/FireSwallowing.
type Registry struct {
	mu        sync.RWMutex
	listeners map[Event][]Listener
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{listeners: make(map[Event][]Listener)}
}

// On registers a listener for event and returns a function that removes it.
func (r *Registry) On(event Event, listener Listener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners[event] = append(r.listeners[event], listener)
	idx := len(r.listeners[event]) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		existing := r.listeners[event]
		if idx < len(existing) {
			existing[idx] = nil // preserve indices of other unsubscribe closures
		}
	}
}

func (r *Registry) listenersFor(event Event) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, 0, len(r.listeners[event]))
	for _, l := range r.listeners[event] {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// FireDenying runs global then local listeners for event. The first
// listener error aborts the chain and is returned — wrapped as
// HOOK_DENIED unless it already carries a SirannonError code — spec §4.8.
// Used for beforeConnect and beforeQuery.
func FireDenying(ctx context.Context, global, local *Registry, event Event, payload any) error {
	for _, reg := range []*Registry{global, local} {
		if reg == nil {
			continue
		}
		for _, l := range reg.listenersFor(event) {
			if err := l(ctx, payload); err != nil {
				if se, ok := err.(*sirannonerr.Error); ok {
					return se
				}
				return sirannonerr.Wrap(sirannonerr.CodeHookDenied, "hook denied", err)
			}
		}
	}
	return nil
}

// FireSwallowing runs global then local listeners for event, logging and
// discarding any error or panic — spec §4.8. Used for databaseOpen,
// databaseClose, and afterQuery.
func FireSwallowing(ctx context.Context, global, local *Registry, event Event, payload any) {
	for _, reg := range []*Registry{global, local} {
		if reg == nil {
			continue
		}
		for _, l := range reg.listenersFor(event) {
			invokeSwallowing(ctx, l, event, payload)
		}
	}
}

func invokeSwallowing(ctx context.Context, l Listener, event Event, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(event)).Interface("panic", r).Msg("hook listener panicked")
		}
	}()
	if err := l(ctx, payload); err != nil {
		log.Error().Str("event", string(event)).Err(err).Msg("hook listener failed")
	}
}
