package pool

import (
	"context"

	"github.com/coachpo/spawnpool/internal/identity"
	"github.com/coachpo/spawnpool/internal/spatial"
)

// Instance is the capability set every poolable object must expose. The
// manager keys the return path on OriginalID and CloneID only, so callers hand
// instances back opaquely.
type Instance interface {
	CloneID() int
	SetCloneID(id int)
	OriginalID() int
	SetOriginalID(id int)
	// BindPool records the originating prefab identity and assigns the
	// instance its clone identity. Called once, at pool construction.
	BindPool(originalID int)
	// Spawn applies the enabled flag and transform to the underlying object.
	Spawn(params spatial.SpawnParams)
	// Active reports the object's own enabled state.
	Active() bool
}

// Prefab describes a template the manager builds pools for.
type Prefab interface {
	Name() string
	// InstanceID is the stable handle the prefab identity is resolved from.
	InstanceID() int
	OriginalID() int
	SetOriginalID(id int)
	// PoolCount is the number of clones created for this prefab's pool.
	PoolCount() int
}

// Scope identifies the parent a clone is instantiated under.
type Scope struct {
	Manager string
	Index   int
}

// Instantiator creates an independent copy of template. The returned value
// must implement Instance to be pooled.
type Instantiator interface {
	Instantiate(ctx context.Context, template Prefab, parent Scope) (any, error)
}

// Releaser is implemented by instantiators that want their objects back when
// a pool build is abandoned. Release is called once per object created for
// the failed build, including the object that caused the failure.
type Releaser interface {
	Release(obj any)
}

// InstantiatorFunc adapts a plain function to Instantiator.
type InstantiatorFunc func(ctx context.Context, template Prefab, parent Scope) (any, error)

// Instantiate calls f.
func (f InstantiatorFunc) Instantiate(ctx context.Context, template Prefab, parent Scope) (any, error) {
	return f(ctx, template, parent)
}

// Handle implements the identity half of Instance. Embed it in poolable types
// and provide Spawn and Active.
type Handle struct {
	cloneID    int
	originalID int
	ids        *identity.Source
}

// NewHandle returns a handle drawing clone identities from ids. A nil source
// falls back to the process-wide one.
func NewHandle(ids *identity.Source) Handle {
	return Handle{ids: ids}
}

// CloneID returns the identity assigned at bind time.
func (h *Handle) CloneID() int { return h.cloneID }

// SetCloneID overrides the clone identity.
func (h *Handle) SetCloneID(id int) { h.cloneID = id }

// OriginalID returns the identity of the prefab this clone was made from.
func (h *Handle) OriginalID() int { return h.originalID }

// SetOriginalID overrides the originating prefab identity.
func (h *Handle) SetOriginalID(id int) { h.originalID = id }

// BindPool records originalID and assigns a fresh clone identity.
func (h *Handle) BindPool(originalID int) {
	h.originalID = originalID
	if h.ids != nil {
		h.cloneID = h.ids.Next()
		return
	}
	h.cloneID = identity.Next()
}
