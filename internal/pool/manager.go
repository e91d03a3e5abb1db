package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/coachpo/spawnpool/errs"
	"github.com/coachpo/spawnpool/internal/spatial"
)

const (
	component              = "pool"
	defaultShutdownTimeout = 5 * time.Second
	drainInitialInterval   = 5 * time.Millisecond
	drainMaxInterval       = 250 * time.Millisecond
)

var (
	// ErrPoolNotFound indicates a returned instance matches no pool or clone.
	ErrPoolNotFound = errors.New("pool manager: owning pool not found")
	// ErrPoolExhausted indicates every instance of a pool is active.
	ErrPoolExhausted = errors.New("pool manager: pool exhausted")
	// ErrCapabilityMissing indicates an object does not behave as an Instance.
	ErrCapabilityMissing = errors.New("pool manager: instance capability missing")
	// ErrIdentityConflict indicates two clones reported the same identity.
	ErrIdentityConflict = errors.New("pool manager: clone identity conflict")
	// ErrInstantiate indicates the instantiator failed to produce a clone.
	ErrInstantiate = errors.New("pool manager: instantiate failed")
	// ErrManagerClosed indicates the manager is shutting down and cannot service spawns.
	ErrManagerClosed = errors.New("pool manager: shutdown in progress")
)

// Manager owns one Record per prefab identity and serves spawn and return
// requests against them. Records are built lazily, all at once, on the first
// request for a prefab and live for the manager's lifetime.
//
// A single mutex guards the record table, so the first-inactive scan and the
// activation that follows it are atomic with respect to other callers.
type Manager struct {
	mu           sync.Mutex
	name         string
	scope        string
	instantiator Instantiator
	records      map[int]*Record
	order        []int
	// clone identity -> owning record identity, across all records
	clones map[int]int
	closed bool

	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	debug   *debugState
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for misuse and lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used around pool construction.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithName labels the manager in logs and stats.
func WithName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}

// NewManager constructs a manager that creates clones through instantiator.
func NewManager(instantiator Instantiator, opts ...Option) *Manager {
	m := new(Manager)
	m.name = "default"
	m.scope = uuid.NewString()
	m.instantiator = instantiator
	m.records = make(map[int]*Record)
	m.clones = make(map[int]int)
	m.logger = zap.NewNop()
	m.tracer = otel.Tracer("github.com/coachpo/spawnpool/internal/pool")
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.debug = newDebugState(m.name)
	m.logger = m.logger.With(zap.String("manager", m.name), zap.String("scope", m.scope))
	return m
}

// Name returns the manager's label.
func (m *Manager) Name() string { return m.name }

// Scope returns the identifier clones are parented under.
func (m *Manager) Scope() string { return m.scope }

// Get issues an instance of prefab with default spawn parameters.
func (m *Manager) Get(ctx context.Context, prefab Prefab) (Instance, error) {
	return m.Spawn(ctx, prefab, spatial.DefaultSpawn())
}

// Spawn issues the first inactive instance of prefab's pool, building the pool
// on first use. The instance is always enabled; params supply its transform.
// When every instance is active Spawn fails with ErrPoolExhausted and the
// pool is left unchanged.
func (m *Manager) Spawn(ctx context.Context, prefab Prefab, params spatial.SpawnParams) (Instance, error) {
	if isNil(prefab) {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("prefab required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pool manager: spawn %s: %w", prefab.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, closedError()
	}

	id := resolveIdentity(prefab)
	record, err := m.ensureRecordLocked(ctx, prefab, id)
	if err != nil {
		return nil, err
	}

	inst, refused, err := issue(record, params)
	if refused > 0 {
		m.logger.Warn("instances refused activation",
			zap.String("pool", record.Name),
			zap.Int("refused", refused),
		)
	}
	if err != nil {
		return nil, err
	}
	if inst == nil {
		m.metrics.incExhausted(record.Name)
		m.logger.Warn("pool exhausted",
			zap.String("pool", record.Name),
			zap.Int("original_id", id),
			zap.Int("capacity", record.Capacity),
		)
		return nil, errs.New(component, errs.CodeExhausted,
			errs.WithMessage("no inactive instance available"),
			errs.WithField("pool", record.Name),
			errs.WithIntField("original_id", id),
			errs.WithIntField("capacity", record.Capacity),
			errs.WithRemediation("return instances before spawning more or raise the prefab pool count"),
			errs.WithCause(ErrPoolExhausted),
		)
	}

	m.debug.recordAcquire(inst)
	m.metrics.incSpawn(record.Name)
	return inst, nil
}

// Prewarm builds prefab's pool without issuing an instance.
func (m *Manager) Prewarm(ctx context.Context, prefab Prefab) error {
	if isNil(prefab) {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("prefab required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return closedError()
	}
	_, err := m.ensureRecordLocked(ctx, prefab, resolveIdentity(prefab))
	return err
}

// Return deactivates the pooled instance matching inst's original and clone
// identities. An instance that is already inactive is deactivated again, which
// is harmless. Instances this manager never issued yield ErrPoolNotFound and
// nothing is mutated. Returns are accepted during shutdown.
func (m *Manager) Return(inst Instance) error {
	if isNil(inst) {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("instance required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	originalID, cloneID := inst.OriginalID(), inst.CloneID()
	record, ok := m.records[originalID]
	var stored Instance
	if ok {
		stored, ok = lookupClone(record, cloneID)
	}
	if !ok {
		m.metrics.incUnknownReturn()
		m.logger.Warn("owning pool not found",
			zap.Int("original_id", originalID),
			zap.Int("clone_id", cloneID),
			zap.String("type", fmt.Sprintf("%T", inst)),
		)
		return errs.New(component, errs.CodeNotFound,
			errs.WithMessage("owning pool not found"),
			errs.WithIntField("original_id", originalID),
			errs.WithIntField("clone_id", cloneID),
			errs.WithRemediation("return only instances issued by this manager"),
			errs.WithCause(ErrPoolNotFound),
		)
	}

	if !stored.Active() {
		m.metrics.incRedundantReturn(record.Name)
		m.logger.Debug("instance already inactive", zap.String("pool", record.Name), zap.Int("clone_id", cloneID))
		deactivate(stored)
		return nil
	}

	deactivate(stored)
	m.debug.recordRelease(stored)
	m.metrics.incReturn(record.Name)
	return nil
}

// Record returns occupancy for the pool with the given prefab identity.
func (m *Manager) Record(id int) (RecordStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return RecordStats{}, false
	}
	return statsOf(record), true
}

// Stats returns occupancy for every pool in creation order.
func (m *Manager) Stats() []RecordStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordStats, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, statsOf(m.records[id]))
	}
	return out
}

// Len returns the number of pools built so far.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Shutdown stops serving spawns and waits for outstanding instances to be
// returned, or until ctx is done (5 seconds when ctx has no deadline).
// Instances still active at the deadline are logged as leak candidates.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = drainInitialInterval
	wait.MaxInterval = drainMaxInterval
	wait.Reset()

	for {
		remaining := m.outstanding()
		if remaining == 0 {
			m.logger.Info("pool manager drained")
			return nil
		}
		sleep := wait.NextBackOff()
		if sleep == backoff.Stop {
			sleep = drainMaxInterval
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logOutstanding(remaining)
			return errs.New(component, errs.CodeUnavailable,
				errs.WithMessage(fmt.Sprintf("shutdown timeout: %d pooled instances unreturned", remaining)),
				errs.WithCause(ctx.Err()),
			)
		case <-timer.C:
		}
	}
}

func (m *Manager) ensureRecordLocked(ctx context.Context, prefab Prefab, id int) (*Record, error) {
	if record, ok := m.records[id]; ok {
		return record, nil
	}

	name := prefab.Name()
	capacity := prefab.PoolCount()
	if capacity <= 0 {
		return nil, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("pool count must be positive"),
			errs.WithField("pool", name),
			errs.WithIntField("pool_count", capacity),
		)
	}
	if m.instantiator == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("instantiator required"))
	}

	ctx, span := m.tracer.Start(ctx, "pool.build", trace.WithAttributes(
		attribute.String("pool.name", name),
		attribute.Int("pool.original_id", id),
		attribute.Int("pool.capacity", capacity),
	))
	defer span.End()

	started := time.Now()
	record, err := m.buildRecord(ctx, prefab, id, name, capacity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pool construction failed")
		m.logger.Error("pool construction failed", zap.String("pool", name), zap.Int("original_id", id), zap.Error(err))
		return nil, err
	}

	m.records[id] = record
	m.order = append(m.order, id)
	for cloneID := range record.slots {
		m.clones[cloneID] = id
	}
	m.metrics.observeBuild(name, started)
	m.logger.Debug("pool built",
		zap.String("pool", name),
		zap.Int("original_id", id),
		zap.Int("capacity", capacity),
		zap.Duration("elapsed", time.Since(started)),
	)
	return record, nil
}

// buildRecord instantiates and binds every clone. Nothing is stored unless all
// of them succeed; objects created for an abandoned build are handed back to
// the instantiator when it implements Releaser.
func (m *Manager) buildRecord(ctx context.Context, prefab Prefab, id int, name string, capacity int) (record *Record, err error) {
	created := make([]any, 0, capacity)
	defer func() {
		if err != nil {
			m.release(created)
		}
	}()

	instances := make([]Instance, 0, capacity)
	slots := make(map[int]int, capacity)

	for i := 0; i < capacity; i++ {
		obj, ierr := m.instantiator.Instantiate(ctx, prefab, Scope{Manager: m.scope, Index: i})
		if ierr != nil {
			return nil, errs.New(component, errs.CodeInternal,
				errs.WithMessage("instantiate clone"),
				errs.WithField("pool", name),
				errs.WithIntField("index", i),
				errs.WithCause(errors.Join(ErrInstantiate, ierr)),
			)
		}
		created = append(created, obj)

		inst, ok := obj.(Instance)
		if !ok || isNil(inst) {
			return nil, missingCapability(name, i, obj, "instantiated object does not implement Instance")
		}

		inst.BindPool(id)
		cloneID := inst.CloneID()
		if inst.OriginalID() != id {
			return nil, identityConflict(name, i, cloneID, "clone did not keep its originating identity")
		}
		if cloneID == id {
			return nil, identityConflict(name, i, cloneID, "clone identity equals prefab identity")
		}
		if _, dup := slots[cloneID]; dup {
			return nil, identityConflict(name, i, cloneID, "clone identity repeated within pool")
		}
		if owner, dup := m.clones[cloneID]; dup {
			return nil, identityConflict(name, i, cloneID, fmt.Sprintf("clone identity already owned by pool %d", owner))
		}

		deactivate(inst)
		if inst.Active() {
			return nil, missingCapability(name, i, obj, "clone still reports active after despawn")
		}
		slots[cloneID] = len(instances)
		instances = append(instances, inst)
	}

	return &Record{
		ID:        id,
		Name:      name,
		Capacity:  capacity,
		Instances: instances,
		slots:     slots,
	}, nil
}

func (m *Manager) release(created []any) {
	releaser, ok := m.instantiator.(Releaser)
	if !ok {
		return
	}
	for _, obj := range created {
		releaser.Release(obj)
	}
}

func (m *Manager) outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, record := range m.records {
		total += statsOf(record).Active
	}
	return total
}

func (m *Manager) logOutstanding(remaining int) {
	if remaining <= 0 {
		return
	}
	m.logger.Error("shutdown timed out with instances outstanding", zap.Int("remaining", remaining))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		record := m.records[id]
		for _, inst := range record.Instances {
			if !inst.Active() {
				continue
			}
			fields := []zap.Field{
				zap.String("pool", record.Name),
				zap.Int("clone_id", inst.CloneID()),
			}
			if stack := m.debug.stack(inst.CloneID()); stack != "" {
				fields = append(fields, zap.String("acquired_at", stack))
			}
			m.logger.Error("leak candidate", fields...)
		}
	}
}

func missingCapability(pool string, index int, obj any, msg string) error {
	return errs.New(component, errs.CodeCapabilityMissing,
		errs.WithMessage(msg),
		errs.WithField("pool", pool),
		errs.WithIntField("index", index),
		errs.WithField("type", fmt.Sprintf("%T", obj)),
		errs.WithCause(ErrCapabilityMissing),
	)
}

func identityConflict(pool string, index, cloneID int, msg string) error {
	return errs.New(component, errs.CodeConflict,
		errs.WithMessage(msg),
		errs.WithField("pool", pool),
		errs.WithIntField("index", index),
		errs.WithIntField("clone_id", cloneID),
		errs.WithCause(ErrIdentityConflict),
	)
}

func closedError() error {
	return errs.New(component, errs.CodeUnavailable, errs.WithCause(ErrManagerClosed))
}
