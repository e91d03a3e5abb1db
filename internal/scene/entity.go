package scene

import (
	"github.com/coachpo/spawnpool/internal/identity"
	"github.com/coachpo/spawnpool/internal/pool"
	"github.com/coachpo/spawnpool/internal/spatial"
)

// Entity is a poolable scene object. Its enabled flag is the only record of
// whether it is issued.
type Entity struct {
	pool.Handle

	name     string
	parent   string
	position spatial.Vec3
	rotation spatial.Quat
	enabled  bool
	spawns   int
}

func newEntity(ids *identity.Source, name, parent string) *Entity {
	return &Entity{
		Handle:   pool.NewHandle(ids),
		name:     name,
		parent:   parent,
		rotation: spatial.Identity(),
		enabled:  true,
	}
}

// Spawn applies the enabled flag and transform.
func (e *Entity) Spawn(params spatial.SpawnParams) {
	e.enabled = params.Enabled
	e.position = params.Position
	e.rotation = params.Rotation
	if params.Enabled {
		e.spawns++
	}
}

// Active reports whether the entity is enabled.
func (e *Entity) Active() bool { return e.enabled }

// Name returns the clone's display name.
func (e *Entity) Name() string { return e.name }

// Parent returns the scope the entity was instantiated under.
func (e *Entity) Parent() string { return e.parent }

// Position returns the current world position.
func (e *Entity) Position() spatial.Vec3 { return e.position }

// Rotation returns the current orientation.
func (e *Entity) Rotation() spatial.Quat { return e.rotation }

// Spawns counts how many times the entity has been activated.
func (e *Entity) Spawns() int { return e.spawns }

// Translate moves the entity by delta.
func (e *Entity) Translate(delta spatial.Vec3) {
	e.position = e.position.Add(delta)
}

// Prop is a static scene object. It cannot be pooled.
type Prop struct {
	Label string
}
