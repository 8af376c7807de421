// Package gods maps god names to the handlers that carry out their favor
// and wrath.
package gods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

var (
	// ErrNotRegistered is returned when no god answers to a name.
	ErrNotRegistered = errors.New("god not registered")
	// ErrDisabled is returned when a god is registered but switched off.
	ErrDisabled = errors.New("god disabled")
)

// Handler performs a god's favor (favor=true) or wrath. Announce asks the
// handler to send the player a letter describing what happened.
type Handler func(ctx context.Context, favor, announce bool) error

type god struct {
	handler Handler
	enabled bool
}

// Registry is the table of known gods. Registration normally happens once
// at start-up; enabling and disabling may happen at any time.
type Registry struct {
	mu   sync.RWMutex
	gods map[string]*god
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gods: make(map[string]*god)}
}

// Register adds or replaces a god. New gods start enabled.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gods[name] = &god{handler: h, enabled: true}
}

// Unregister removes a god.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gods, name)
}

// SetEnabled switches a registered god on or off.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gods[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	g.enabled = enabled
	return nil
}

// Enabled reports whether name is registered and switched on.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gods[name]
	return ok && g.enabled
}

// Names returns every registered god, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gods))
	for name := range r.gods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the named god. Unknown and disabled gods are logged and
// reported with ErrNotRegistered or ErrDisabled; the handler's own error is
// returned unchanged. Panics are left to the caller.
func (r *Registry) Invoke(ctx context.Context, name string, favor, announce bool) error {
	r.mu.RLock()
	g, ok := r.gods[name]
	var h Handler
	enabled := false
	if ok {
		h, enabled = g.handler, g.enabled
	}
	r.mu.RUnlock()

	if !ok {
		if suggestion, found := r.Suggest(name); found {
			slog.Warn("god not registered", "god", name, "did_you_mean", suggestion)
		} else {
			slog.Warn("god not registered", "god", name)
		}
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	if !enabled {
		slog.Info("god disabled, ignoring call", "god", name)
		return fmt.Errorf("%w: %q", ErrDisabled, name)
	}
	return h(ctx, favor, announce)
}

// Suggest returns the registered name closest to name, if one is within a
// small edit distance. Case differences alone count as a match.
func (r *Registry) Suggest(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := strings.ToLower(name)
	best, bestDist := "", -1
	for candidate := range r.gods {
		c := strings.ToLower(candidate)
		dist := levenshtein.ComputeDistance(want, c)
		if dist > distanceLimit(len(c)) {
			continue
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && candidate < best) {
			best, bestDist = candidate, dist
		}
	}
	return best, bestDist >= 0
}

func distanceLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}
