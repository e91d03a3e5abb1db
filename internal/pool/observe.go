package pool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ObserveManager registers observable gauges reporting capacity, active and
// idle instance counts for every pool the manager has built. A nil meter uses
// the global meter provider.
func ObserveManager(m *Manager, meter metric.Meter) error {
	if m == nil {
		return nil
	}
	if meter == nil {
		meter = otel.Meter("spawnpool.pool")
	}

	capacity, err := meter.Int64ObservableGauge("spawnpool_pool_capacity",
		metric.WithDescription("Configured instance count per pool"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return fmt.Errorf("register capacity gauge: %w", err)
	}
	active, err := meter.Int64ObservableGauge("spawnpool_pool_instances_active",
		metric.WithDescription("Instances currently issued to callers"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return fmt.Errorf("register active gauge: %w", err)
	}
	idle, err := meter.Int64ObservableGauge("spawnpool_pool_instances_idle",
		metric.WithDescription("Instances ready to be spawned"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return fmt.Errorf("register idle gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		for _, stats := range m.Stats() {
			attrs := metric.WithAttributes(
				attribute.String("manager", m.Name()),
				attribute.String("pool", stats.Name),
				attribute.Int("original_id", stats.ID),
			)
			observer.ObserveInt64(capacity, int64(stats.Capacity), attrs)
			observer.ObserveInt64(active, int64(stats.Active), attrs)
			observer.ObserveInt64(idle, int64(stats.Inactive), attrs)
		}
		return nil
	}, capacity, active, idle)
	if err != nil {
		return fmt.Errorf("register pool gauge callback: %w", err)
	}
	return nil
}
