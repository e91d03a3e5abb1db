//go:build !debug

package pool

type debugState struct{}

func newDebugState(string) *debugState { return nil }

func (d *debugState) recordAcquire(Instance) {}

func (d *debugState) recordRelease(Instance) {}

func (d *debugState) stack(int) string { return "" }
