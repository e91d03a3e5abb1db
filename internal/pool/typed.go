package pool

import (
	"context"
	"fmt"

	"github.com/coachpo/spawnpool/errs"
	"github.com/coachpo/spawnpool/internal/spatial"
)

// SpawnAs issues an instance of prefab and asserts it to T. If the instance
// is not a T it is returned to the pool and an invalid-request error is
// reported.
func SpawnAs[T any](ctx context.Context, m *Manager, prefab Prefab, params spatial.SpawnParams) (T, error) {
	var zero T
	if m == nil {
		return zero, errs.New(component, errs.CodeInvalid, errs.WithMessage("manager required"))
	}
	inst, err := m.Spawn(ctx, prefab, params)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		if rerr := m.Return(inst); rerr != nil {
			return zero, fmt.Errorf("return mistyped instance: %w", rerr)
		}
		return zero, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("unexpected instance type"),
			errs.WithField("type", fmt.Sprintf("%T", inst)),
		)
	}
	return typed, nil
}

// GetAs is SpawnAs with default spawn parameters.
func GetAs[T any](ctx context.Context, m *Manager, prefab Prefab) (T, error) {
	return SpawnAs[T](ctx, m, prefab, spatial.DefaultSpawn())
}
