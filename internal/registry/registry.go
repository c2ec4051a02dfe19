// Package registry maps stable callable names to invokers. Jobs reference a
// callable through an opaque Ref resolved once at registration time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotRegistered = errors.New("callable not registered")
	ErrDuplicate     = errors.New("callable already registered")
	ErrInvalidName   = errors.New("invalid callable name")
)

var namePattern = re2.MustCompile(`^[\p{L}\p{N}_.:-]{1,64}$`)

// Invoker runs one unit of work. The returned string is kept as run output.
type Invoker interface {
	Invoke(ctx context.Context) (string, error)
}

// Func adapts a plain function to Invoker.
type Func func(ctx context.Context) (string, error)

func (f Func) Invoke(ctx context.Context) (string, error) {
	return f(ctx)
}

// Ref is an opaque handle to a registered callable.
type Ref struct {
	name    string
	invoker Invoker
}

// Name returns the registry name the ref was resolved from.
func (r Ref) Name() string {
	return r.name
}

// Valid reports whether the ref points at an invoker.
func (r Ref) Valid() bool {
	return r.invoker != nil
}

// Invoke calls the underlying invoker.
func (r Ref) Invoke(ctx context.Context) (string, error) {
	if r.invoker == nil {
		return "", fmt.Errorf("%w: %q", ErrNotRegistered, r.name)
	}
	return r.invoker.Invoke(ctx)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Invoker
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{items: make(map[string]Invoker)}
}

// Register adds a callable under name.
func (r *Registry) Register(name string, inv Invoker) error {
	key, err := normalize(name)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("%w: %q has nil invoker", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, key)
	}
	r.items[key] = inv
	return nil
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) (string, error)) error {
	return r.Register(name, Func(fn))
}

// Resolve looks a callable up by name.
func (r *Registry) Resolve(name string) (Ref, error) {
	key, err := normalize(name)
	if err != nil {
		return Ref{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.items[key]
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrNotRegistered, key)
	}
	return Ref{name: key, invoker: inv}, nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) (string, error) {
	key := norm.NFC.String(strings.TrimSpace(name))
	if !namePattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return key, nil
}
