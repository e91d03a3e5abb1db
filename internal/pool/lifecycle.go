package pool

import (
	"fmt"
	"reflect"

	"github.com/coachpo/spawnpool/errs"
	"github.com/coachpo/spawnpool/internal/spatial"
)

// resolveIdentity writes the prefab's stable handle back as its original
// identity. Runs on every request since any prefab may be new.
func resolveIdentity(prefab Prefab) int {
	id := prefab.InstanceID()
	prefab.SetOriginalID(id)
	return id
}

// activate issues inst with params. Issued instances are always enabled,
// otherwise they would be handed out again by the next scan.
func activate(inst Instance, params spatial.SpawnParams) error {
	params = params.Normalised()
	params.Enabled = true
	inst.Spawn(params)
	if inst.Active() {
		return nil
	}
	inst.Spawn(spatial.Despawn())
	return errs.New(component, errs.CodeCapabilityMissing,
		errs.WithMessage("instance did not report active after spawn"),
		errs.WithIntField("clone_id", inst.CloneID()),
		errs.WithField("type", fmt.Sprintf("%T", inst)),
		errs.WithCause(ErrCapabilityMissing),
	)
}

func deactivate(inst Instance) {
	inst.Spawn(spatial.Despawn())
}

// issue activates the first inactive instance in list order. Instances that
// refuse activation are reset and skipped. With no instance issued, the first
// refusal is returned if there was one; otherwise the pool is exhausted and
// both results are nil.
func issue(r *Record, params spatial.SpawnParams) (Instance, int, error) {
	refused := 0
	var firstErr error
	for _, inst := range r.Instances {
		if inst.Active() {
			continue
		}
		err := activate(inst, params)
		if err == nil {
			return inst, refused, nil
		}
		refused++
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, refused, firstErr
}

func lookupClone(r *Record, cloneID int) (Instance, bool) {
	slot, ok := r.slots[cloneID]
	if !ok {
		return nil, false
	}
	return r.Instances[slot], true
}

// isNil reports whether v is nil or an interface holding a nil pointer.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func statsOf(r *Record) RecordStats {
	stats := RecordStats{ID: r.ID, Name: r.Name, Capacity: r.Capacity}
	for _, inst := range r.Instances {
		if inst.Active() {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	return stats
}
