//go:build debug

package pool

import (
	"runtime/debug"
	"sync"
)

// debugState remembers where each active clone was spawned so leak reports
// at shutdown can point at the caller that never returned it.
type debugState struct {
	name   string
	mu     sync.Mutex
	stacks map[int]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:   name,
		stacks: make(map[int]string),
	}
}

func (d *debugState) recordAcquire(inst Instance) {
	if d == nil || inst == nil {
		return
	}
	stack := string(debug.Stack())
	d.mu.Lock()
	d.stacks[inst.CloneID()] = stack
	d.mu.Unlock()
}

func (d *debugState) recordRelease(inst Instance) {
	if d == nil || inst == nil {
		return
	}
	d.mu.Lock()
	delete(d.stacks, inst.CloneID())
	d.mu.Unlock()
}

func (d *debugState) stack(cloneID int) string {
	if d == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stacks[cloneID]
}
