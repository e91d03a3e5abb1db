// Package simulation drives a pool manager with a paced spawn and return load.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coachpo/spawnpool/config"
	"github.com/coachpo/spawnpool/internal/pool"
	"github.com/coachpo/spawnpool/internal/spatial"
)

// ErrNoTemplates is returned when a driver has nothing to spawn.
var ErrNoTemplates = errors.New("simulation: no templates")

// Report tallies one run.
type Report struct {
	Attempts  int64         `json:"attempts"`
	Spawned   int64         `json:"spawned"`
	Returned  int64         `json:"returned"`
	Exhausted int64         `json:"exhausted"`
	Failed    int64         `json:"failed"`
	Drained   int64         `json:"drained"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Driver spawns instances of its templates in round-robin order and hands a
// share of them back after each spawn.
type Driver struct {
	manager   *pool.Manager
	templates []pool.Prefab
	cfg       config.SimulationConfig
	limit     int64
	logger    *zap.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxAttempts stops the run after n spawn attempts across all workers.
// Zero means no limit.
func WithMaxAttempts(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.limit = int64(n)
		}
	}
}

// New constructs a driver over manager and templates.
func New(manager *pool.Manager, templates []pool.Prefab, cfg config.SimulationConfig, opts ...Option) (*Driver, error) {
	if manager == nil {
		return nil, fmt.Errorf("simulation: manager required")
	}
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("simulation: rate must be >0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	d := &Driver{
		manager:   manager,
		templates: append([]pool.Prefab(nil), templates...),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

type tally struct {
	attempts  atomic.Int64
	spawned   atomic.Int64
	returned  atomic.Int64
	exhausted atomic.Int64
	failed    atomic.Int64
	drained   atomic.Int64

	errOnce  sync.Once
	firstErr error
}

func (t *tally) fail(err error) {
	t.failed.Add(1)
	t.errOnce.Do(func() { t.firstErr = err })
}

// Run drives the manager until ctx ends, the configured duration elapses or
// the attempt limit is reached. Instances still held when a worker stops are
// returned before Run does. Exhaustion is counted, not treated as failure.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	if d.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Duration)
		defer cancel()
	}

	started := time.Now()
	limiter := rate.NewLimiter(rate.Limit(d.cfg.Rate), d.cfg.Burst)
	var t tally

	var wg conc.WaitGroup
	for w := 0; w < d.cfg.Workers; w++ {
		wg.Go(func() {
			d.work(ctx, w, limiter, &t)
		})
	}
	wg.Wait()

	report := Report{
		Attempts:  t.attempts.Load(),
		Spawned:   t.spawned.Load(),
		Returned:  t.returned.Load(),
		Exhausted: t.exhausted.Load(),
		Failed:    t.failed.Load(),
		Drained:   t.drained.Load(),
		Elapsed:   time.Since(started),
	}
	d.logger.Info("simulation finished",
		zap.String("manager", d.manager.Name()),
		zap.Int64("attempts", report.Attempts),
		zap.Int64("spawned", report.Spawned),
		zap.Int64("returned", report.Returned),
		zap.Int64("exhausted", report.Exhausted),
		zap.Int64("failed", report.Failed),
		zap.Duration("elapsed", report.Elapsed))
	return report, t.firstErr
}

func (d *Driver) work(ctx context.Context, worker int, limiter *rate.Limiter, t *tally) {
	var held []pool.Instance
	credit := 0.0

	release := func() bool {
		if len(held) == 0 {
			return false
		}
		inst := held[0]
		held = held[1:]
		if err := d.manager.Return(inst); err != nil {
			t.fail(err)
			return false
		}
		t.returned.Add(1)
		return true
	}

	defer func() {
		for _, inst := range held {
			if err := d.manager.Return(inst); err != nil {
				t.fail(err)
				continue
			}
			t.drained.Add(1)
		}
	}()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		n := t.attempts.Add(1)
		if d.limit > 0 && n > d.limit {
			t.attempts.Add(-1)
			return
		}

		template := d.templates[int(n-1)%len(d.templates)]
		params := spatial.At(spatial.Vec3{X: float32(worker), Z: float32(n)})
		inst, err := d.manager.Spawn(ctx, template, params)
		switch {
		case err == nil:
			t.spawned.Add(1)
			held = append(held, inst)
		case errors.Is(err, pool.ErrPoolExhausted):
			t.exhausted.Add(1)
			release()
			continue
		case ctx.Err() != nil:
			return
		default:
			d.logger.Warn("spawn failed",
				zap.Int("worker", worker),
				zap.String("template", template.Name()),
				zap.Error(err))
			t.fail(err)
			return
		}

		credit += d.cfg.ReturnRatio
		for credit >= 1 && release() {
			credit--
		}
	}
}
