// Package spatial holds the transform value types applied to spawned instances.
package spatial

import "fmt"

// Vec3 is a position in world space.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns the component-wise sum.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Quat is an orientation quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// Identity returns the rotation that leaves orientation unchanged.
func Identity() Quat {
	return Quat{W: 1}
}

// IsIdentity reports whether q is the identity rotation.
func (q Quat) IsIdentity() bool {
	return q == Identity()
}

// SpawnParams are applied to an instance when it is activated or deactivated.
type SpawnParams struct {
	Position Vec3
	Rotation Quat
	Enabled  bool
}

// DefaultSpawn activates at the origin with no rotation.
func DefaultSpawn() SpawnParams {
	return SpawnParams{Rotation: Identity(), Enabled: true}
}

// Despawn is applied to instances returned to their pool.
func Despawn() SpawnParams {
	return SpawnParams{Rotation: Identity()}
}

// At returns DefaultSpawn positioned at p.
func At(p Vec3) SpawnParams {
	params := DefaultSpawn()
	params.Position = p
	return params
}

// Normalised fills a zero rotation with Identity.
func (p SpawnParams) Normalised() SpawnParams {
	if p.Rotation == (Quat{}) {
		p.Rotation = Identity()
	}
	return p
}
