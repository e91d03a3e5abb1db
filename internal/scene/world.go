// Package scene is a minimal host environment: templates, the entities cloned
// from them, and the world that instantiates clones for the pool manager.
package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coachpo/spawnpool/internal/identity"
	"github.com/coachpo/spawnpool/internal/pool"
)

var (
	// ErrObjectBudget indicates the world refused to create more objects.
	ErrObjectBudget = errors.New("scene: object budget exceeded")
	// ErrForeignTemplate indicates a template was not created by this world.
	ErrForeignTemplate = errors.New("scene: template not owned by world")
)

// World creates templates and clones them on request. Templates and clones
// draw from one identity source, so no two objects share an identity.
type World struct {
	ids *identity.Source

	mu        sync.Mutex
	templates map[int]*Template
	budget    int
	objects   atomic.Int64
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithIdentitySource replaces the process-wide identity source.
func WithIdentitySource(ids *identity.Source) WorldOption {
	return func(w *World) {
		if ids != nil {
			w.ids = ids
		}
	}
}

// WithObjectBudget caps the number of clones the world will create. Zero
// means unlimited.
func WithObjectBudget(n int) WorldOption {
	return func(w *World) {
		w.budget = n
	}
}

// NewWorld constructs an empty world.
func NewWorld(opts ...WorldOption) *World {
	w := &World{
		ids:       identity.Process(),
		templates: make(map[int]*Template),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// NewTemplate registers a template whose clones are Entities.
func (w *World) NewTemplate(name string, poolCount int) *Template {
	return w.register(&Template{name: name, poolCount: poolCount})
}

// NewStaticTemplate registers a template whose clones are Props.
func (w *World) NewStaticTemplate(name string, poolCount int) *Template {
	return w.register(&Template{name: name, poolCount: poolCount, static: true})
}

func (w *World) register(t *Template) *Template {
	t.instanceID = w.ids.Next()
	w.mu.Lock()
	w.templates[t.instanceID] = t
	w.mu.Unlock()
	return t
}

// Template looks up a template by instance identity.
func (w *World) Template(id int) (*Template, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.templates[id]
	return t, ok
}

// Objects returns how many clones are currently held against the budget.
func (w *World) Objects() int {
	return int(w.objects.Load())
}

// Instantiate clones template under parent. Entities are created enabled,
// as copies of a live template would be.
func (w *World) Instantiate(ctx context.Context, template pool.Prefab, parent pool.Scope) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := template.(*Template)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignTemplate, template)
	}
	if owned, ok := w.Template(t.instanceID); !ok || owned != t {
		return nil, fmt.Errorf("%w: %s", ErrForeignTemplate, t.name)
	}

	created := w.objects.Add(1)
	if w.budget > 0 && created > int64(w.budget) {
		w.objects.Add(-1)
		return nil, fmt.Errorf("%w: %d", ErrObjectBudget, w.budget)
	}

	name := fmt.Sprintf("%s %d", t.name, parent.Index)
	if t.static {
		return &Prop{Label: name}, nil
	}
	return newEntity(w.ids, name, parent.Manager), nil
}

// Release returns the budget held by an Entity or Prop this world created.
// Other values are ignored.
func (w *World) Release(obj any) {
	switch obj.(type) {
	case *Entity, *Prop:
		w.objects.Add(-1)
	}
}
