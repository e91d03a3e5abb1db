package spatial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSpawnIsEnabledAtOrigin(t *testing.T) {
	p := DefaultSpawn()
	require.True(t, p.Enabled)
	require.Equal(t, Vec3{}, p.Position)
	require.True(t, p.Rotation.IsIdentity())
}

func TestDespawnIsDisabled(t *testing.T) {
	p := Despawn()
	require.False(t, p.Enabled)
	require.True(t, p.Rotation.IsIdentity())
}

func TestNormalisedFillsZeroRotation(t *testing.T) {
	p := SpawnParams{Position: Vec3{X: 1}}.Normalised()
	require.True(t, p.Rotation.IsIdentity())

	custom := Quat{X: 0.5, W: 0.5}
	require.Equal(t, custom, SpawnParams{Rotation: custom}.Normalised().Rotation)
}

func TestAtAndAdd(t *testing.T) {
	p := At(Vec3{X: 1, Y: 2, Z: 3})
	require.Equal(t, Vec3{X: 2, Y: 4, Z: 6}, p.Position.Add(p.Position))
	require.Equal(t, "(1, 2, 3)", p.Position.String())
}
