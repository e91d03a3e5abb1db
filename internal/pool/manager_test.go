package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/spawnpool/errs"
	"github.com/coachpo/spawnpool/internal/pool"
	"github.com/coachpo/spawnpool/internal/scene"
	"github.com/coachpo/spawnpool/internal/spatial"
)

func newManager(t *testing.T, opts ...scene.WorldOption) (*pool.Manager, *scene.World) {
	t.Helper()
	world := scene.NewWorld(opts...)
	return pool.NewManager(world), world
}

func TestFirstSpawnsAreDistinctThenExhausted(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("bullet", 4)
	ctx := context.Background()

	seen := make(map[int]pool.Instance)
	for i := 0; i < 4; i++ {
		inst, err := pm.Get(ctx, prefab)
		require.NoError(t, err)
		require.True(t, inst.Active())
		_, dup := seen[inst.CloneID()]
		require.False(t, dup, "instance %d issued twice", inst.CloneID())
		seen[inst.CloneID()] = inst
	}

	inst, err := pm.Get(ctx, prefab)
	require.Nil(t, inst)
	require.ErrorIs(t, err, pool.ErrPoolExhausted)
	require.True(t, errs.HasCode(err, errs.CodeExhausted))

	stats, ok := pm.Record(prefab.OriginalID())
	require.True(t, ok)
	require.Equal(t, pool.RecordStats{ID: prefab.InstanceID(), Name: "bullet", Capacity: 4, Active: 4}, stats)
}

func TestRecycleScenarioReturnsFirstInactive(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("P", 3)
	ctx := context.Background()

	a, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	b, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	c, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	require.NotEqual(t, a.CloneID(), b.CloneID())
	require.NotEqual(t, b.CloneID(), c.CloneID())
	require.NotEqual(t, a.CloneID(), c.CloneID())

	require.NoError(t, pm.Return(b))
	require.False(t, b.Active())

	again, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	require.Same(t, b, again)
	require.True(t, a.Active())
	require.True(t, b.Active())
	require.True(t, c.Active())
}

func TestReturnThenGetYieldsSameInstance(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("spark", 2)
	ctx := context.Background()

	x, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	require.NoError(t, pm.Return(x))

	y, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	require.Same(t, x, y)
}

func TestSpawnAppliesParamsAndForcesEnabled(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("crate", 1)

	params := spatial.SpawnParams{
		Position: spatial.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: spatial.Quat{Y: 1},
		Enabled:  false,
	}
	inst, err := pm.Spawn(context.Background(), prefab, params)
	require.NoError(t, err)

	entity, ok := inst.(*scene.Entity)
	require.True(t, ok)
	require.True(t, entity.Active())
	require.Equal(t, params.Position, entity.Position())
	require.Equal(t, params.Rotation, entity.Rotation())

	require.NoError(t, pm.Return(entity))
	require.Equal(t, spatial.Vec3{}, entity.Position())
	require.True(t, entity.Rotation().IsIdentity())
}

func TestPoolBuiltOnceAndAllInactive(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("enemy", 5)
	ctx := context.Background()

	require.NoError(t, pm.Prewarm(ctx, prefab))
	require.Equal(t, 5, world.Objects())
	stats, ok := pm.Record(prefab.InstanceID())
	require.True(t, ok)
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 5, stats.Inactive)

	_, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	_, err = pm.Get(ctx, prefab)
	require.NoError(t, err)

	require.Equal(t, 1, pm.Len())
	require.Equal(t, 5, world.Objects())
	stats, _ = pm.Record(prefab.InstanceID())
	require.Equal(t, 5, stats.Capacity)
	require.Equal(t, 2, stats.Active)
}

func TestPoolCountChangeAfterBuildIgnored(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("coin", 2)
	ctx := context.Background()

	require.NoError(t, pm.Prewarm(ctx, prefab))
	prefab.SetPoolCount(10)
	_, err := pm.Get(ctx, prefab)
	require.NoError(t, err)

	stats, _ := pm.Record(prefab.InstanceID())
	require.Equal(t, 2, stats.Capacity)
}

func TestIdentityResolvedOnEveryCall(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("orb", 1)
	prefab.SetOriginalID(-99)

	inst, err := pm.Get(context.Background(), prefab)
	require.NoError(t, err)
	require.Equal(t, prefab.InstanceID(), prefab.OriginalID())
	require.Equal(t, prefab.InstanceID(), inst.OriginalID())
}

func TestCloneIdentitiesUniqueAcrossPools(t *testing.T) {
	pm, world := newManager(t)
	ctx := context.Background()
	templates := []*scene.Template{
		world.NewTemplate("a", 3),
		world.NewTemplate("b", 4),
		world.NewTemplate("c", 5),
	}

	seen := make(map[int]struct{})
	for _, tpl := range templates {
		seen[tpl.InstanceID()] = struct{}{}
	}
	for _, tpl := range templates {
		for i := 0; i < tpl.PoolCount(); i++ {
			inst, err := pm.Get(ctx, tpl)
			require.NoError(t, err)
			_, dup := seen[inst.CloneID()]
			require.False(t, dup, "clone identity %d reused", inst.CloneID())
			seen[inst.CloneID()] = struct{}{}
		}
	}
	require.Len(t, seen, 3+3+4+5)
	require.Len(t, pm.Stats(), 3)
}

func TestReturnUnknownInstanceDoesNotMutate(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("rock", 2)
	ctx := context.Background()

	issued, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	before := pm.Stats()

	otherManager, otherWorld := newManager(t)
	stranger := otherWorld.NewTemplate("stranger", 1)
	foreign, err := otherManager.Get(ctx, stranger)
	require.NoError(t, err)

	err = pm.Return(foreign)
	require.ErrorIs(t, err, pool.ErrPoolNotFound)
	require.True(t, errs.HasCode(err, errs.CodeNotFound))
	require.True(t, foreign.Active())
	require.Equal(t, before, pm.Stats())
	require.True(t, issued.Active())
}

func TestReturnUnknownCloneInKnownPool(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("tree", 2)
	ctx := context.Background()

	issued, err := pm.Get(ctx, prefab)
	require.NoError(t, err)

	forged := &scene.Entity{}
	forged.SetOriginalID(prefab.InstanceID())
	forged.SetCloneID(-1)

	err = pm.Return(forged)
	require.ErrorIs(t, err, pool.ErrPoolNotFound)
	require.True(t, issued.Active())
	stats, _ := pm.Record(prefab.InstanceID())
	require.Equal(t, 1, stats.Active)
}

func TestReturnNil(t *testing.T) {
	pm, _ := newManager(t)
	err := pm.Return(nil)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestDoubleReturnIsNoOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	world := scene.NewWorld()
	pm := pool.NewManager(world, pool.WithMetrics(pool.NewMetrics(reg)))
	prefab := world.NewTemplate("shell", 2)
	ctx := context.Background()

	inst, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	require.NoError(t, pm.Return(inst))
	require.NoError(t, pm.Return(inst))
	require.False(t, inst.Active())

	stats, _ := pm.Record(prefab.InstanceID())
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 2, stats.Inactive)
	series, err := testutil.GatherAndCount(reg,
		"spawnpool_pool_returns_total", "spawnpool_pool_redundant_returns_total")
	require.NoError(t, err)
	require.Equal(t, 2, series)
}

func TestStaticTemplateFailsConstruction(t *testing.T) {
	pm, world := newManager(t)
	prop := world.NewStaticTemplate("lamp", 3)

	inst, err := pm.Get(context.Background(), prop)
	require.Nil(t, inst)
	require.ErrorIs(t, err, pool.ErrCapabilityMissing)
	require.True(t, errs.HasCode(err, errs.CodeCapabilityMissing))
	require.Equal(t, 0, pm.Len())
	require.Equal(t, 0, world.Objects(), "abandoned props are released")
}

func TestInstantiateFailureLeavesNoPartialPool(t *testing.T) {
	pm, world := newManager(t, scene.WithObjectBudget(4))
	first := world.NewTemplate("first", 2)
	second := world.NewTemplate("second", 3)
	ctx := context.Background()

	_, err := pm.Get(ctx, first)
	require.NoError(t, err)

	_, err = pm.Get(ctx, second)
	require.ErrorIs(t, err, pool.ErrInstantiate)
	require.ErrorIs(t, err, scene.ErrObjectBudget)
	_, ok := pm.Record(second.InstanceID())
	require.False(t, ok)
	require.Equal(t, 1, pm.Len())
	require.Equal(t, 2, world.Objects(), "clones of the abandoned build are released")

	// manager stays usable and the released budget can be spent again
	_, err = pm.Get(ctx, first)
	require.NoError(t, err)
	third := world.NewTemplate("third", 2)
	_, err = pm.Get(ctx, third)
	require.NoError(t, err)
	require.Equal(t, 4, world.Objects())
}

func TestInvalidPoolCount(t *testing.T) {
	pm, world := newManager(t)
	for _, n := range []int{0, -3} {
		prefab := world.NewTemplate("empty", n)
		_, err := pm.Get(context.Background(), prefab)
		require.True(t, errs.HasCode(err, errs.CodeInvalid), "pool count %d", n)
	}
	require.Equal(t, 0, pm.Len())
}

func TestNilPrefabAndInstantiator(t *testing.T) {
	pm, world := newManager(t)
	_, err := pm.Get(context.Background(), nil)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	bare := pool.NewManager(nil)
	_, err = bare.Get(context.Background(), world.NewTemplate("x", 1))
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestTypedNilArgumentsRejected(t *testing.T) {
	pm, _ := newManager(t)
	ctx := context.Background()

	var tpl *scene.Template
	_, err := pm.Get(ctx, tpl)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	require.True(t, errs.HasCode(pm.Prewarm(ctx, tpl), errs.CodeInvalid))

	var entity *scene.Entity
	require.True(t, errs.HasCode(pm.Return(entity), errs.CodeInvalid))
	require.Equal(t, 0, pm.Len())
}

func TestCancelledContextRefusesSpawn(t *testing.T) {
	pm, world := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pm.Get(ctx, world.NewTemplate("late", 1))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, pm.Len())
}

func TestSpawnAsTypedHelper(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("typed", 1)
	ctx := context.Background()

	entity, err := pool.GetAs[*scene.Entity](ctx, pm, prefab)
	require.NoError(t, err)
	require.Equal(t, "typed 0", entity.Name())
	require.Equal(t, pm.Scope(), entity.Parent())
	require.NoError(t, pm.Return(entity))

	type other interface{ Unrelated() }
	_, err = pool.SpawnAs[other](ctx, pm, prefab, spatial.DefaultSpawn())
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	stats, _ := pm.Record(prefab.InstanceID())
	require.Equal(t, 0, stats.Active, "mistyped instance must be returned")
}

func TestShutdownRefusesSpawnsAndDrains(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("drain", 2)
	ctx := context.Background()

	inst, err := pm.Get(ctx, prefab)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = pm.Return(inst)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, pm.Shutdown(shutdownCtx))

	_, err = pm.Get(ctx, prefab)
	require.ErrorIs(t, err, pool.ErrManagerClosed)
	require.ErrorIs(t, pm.Prewarm(ctx, prefab), pool.ErrManagerClosed)
}

func TestShutdownTimesOutWithOutstanding(t *testing.T) {
	pm, world := newManager(t)
	prefab := world.NewTemplate("leak", 1)

	_, err := pm.Get(context.Background(), prefab)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = pm.Shutdown(ctx)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeUnavailable))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Contains(t, err.Error(), "1 pooled instances unreturned")
}

func TestMetricsCountTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := pool.NewMetrics(reg)
	world := scene.NewWorld()
	pm := pool.NewManager(world, pool.WithMetrics(metrics), pool.WithName("metrics"))
	prefab := world.NewTemplate("m", 1)
	ctx := context.Background()

	inst, err := pm.Get(ctx, prefab)
	require.NoError(t, err)
	_, err = pm.Get(ctx, prefab)
	require.Error(t, err)
	require.NoError(t, pm.Return(inst))
	require.Error(t, pm.Return(&scene.Entity{}))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[family.GetName()] += c.GetValue()
			}
		}
	}
	require.Equal(t, 1.0, values["spawnpool_pool_spawns_total"])
	require.Equal(t, 1.0, values["spawnpool_pool_exhausted_total"])
	require.Equal(t, 1.0, values["spawnpool_pool_returns_total"])
	require.Equal(t, 1.0, values["spawnpool_pool_unknown_returns_total"])
}
