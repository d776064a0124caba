// Package registry maps command names to the factories building them.
//
// The registry is filled once at startup from the built-in table and the
// project configuration, then frozen. Resolution after Freeze needs no
// locking.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gekkophp/gekko/internal/model"
)

// Command is a runnable server command. Run blocks until the supervised
// process is gone and returns the exit code gekko itself should exit with.
type Command interface {
	Run(ctx context.Context, opts Options) (int, error)
}

// Options is one invocation: flag values which were set explicitly plus the
// extra directives given with --directive.
type Options struct {
	Flags      map[string]string
	Directives []model.Directive
	Args       []string
}

// Factory builds a fresh Command for a single invocation.
type Factory func() (Command, error)

type Descriptor struct {
	Name    string
	Short   string
	Factory Factory
}

var (
	errFrozen  = errors.New("registry is frozen")
	errInvalid = errors.New("command name and factory are required")
)

type Registry struct {
	mx      sync.Mutex
	frozen  atomic.Bool
	entries map[string]Descriptor
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Descriptor),
	}
}

// Register binds name to factory. Registering a name twice returns a
// DuplicateCommandError.
func (r *Registry) Register(d Descriptor) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.frozen.Load() {
		return errFrozen
	}
	if d.Name == "" || d.Factory == nil {
		return errInvalid
	}
	if _, ok := r.entries[d.Name]; ok {
		return &model.DuplicateCommandError{Name: d.Name}
	}
	r.entries[d.Name] = d
	slog.Debug("command registered", "name", d.Name)
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mx.Lock()
	r.frozen.Store(true)
	r.mx.Unlock()
}

// Resolve returns the descriptor registered under name or an
// UnknownCommandError listing the known names.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, &model.UnknownCommandError{Name: name, Known: r.Names()}
	}
	return d, nil
}

// Names returns registered command names in lexical order.
func (r *Registry) Names() []string {
	if !r.frozen.Load() {
		r.mx.Lock()
		defer r.mx.Unlock()
	}
	return slices.Sorted(maps.Keys(r.entries))
}

func (r *Registry) lookup(name string) (Descriptor, bool) {
	if !r.frozen.Load() {
		r.mx.Lock()
		defer r.mx.Unlock()
	}
	d, ok := r.entries[name]
	return d, ok
}
