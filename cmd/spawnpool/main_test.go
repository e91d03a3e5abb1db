package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coachpo/spawnpool/config"
	"github.com/coachpo/spawnpool/internal/pool"
	"github.com/coachpo/spawnpool/internal/scene"
)

const testConfig = `
logging:
  level: error
  outputPaths: ["stderr"]
prefabs:
  - name: bullet
    poolCount: 4
  - name: enemy
    poolCount: 2
simulation:
  rate: 1000
  burst: 50
  workers: 2
  duration: 100ms
  returnRatio: 0.5
`

func TestRunPrintsSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spawnpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path}, &out))

	var got summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, managerName, got.Snapshot.Manager)
	require.Len(t, got.Snapshot.Pools, 2)
	require.Equal(t, 6, got.Snapshot.Capacity)
	require.Zero(t, got.Snapshot.Active)
	require.Positive(t, got.Report.Attempts)
	require.Equal(t, got.Report.Spawned, got.Report.Returned+got.Report.Drained)
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	err := run(context.Background(), []string{"-nope"}, io.Discard)
	require.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prefabs:\n  - name: x\n    poolCount: 0\n"), 0o600))
	err := run(context.Background(), []string{"-config", path}, io.Discard)
	require.Error(t, err)
}

func TestMuxServesMetricsAndSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	world := scene.NewWorld()
	manager := pool.NewManager(world, pool.WithName("http"), pool.WithMetrics(pool.NewMetrics(registry)))
	_, err := prewarm(context.Background(), world, manager, []config.PrefabConfig{{Name: "orb", PoolCount: 2}})
	require.NoError(t, err)

	srv := httptest.NewServer(newMux(registry, manager))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/debug/pools")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap pool.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, "http", snap.Manager)
	require.Equal(t, 2, snap.Capacity)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "spawnpool_pool_build_duration_seconds")
}

func TestShutdownRunsEveryStep(t *testing.T) {
	var calls []string
	err := shutdown(zap.NewNop(), shutdownPlan{
		telemetry: func(context.Context) error {
			calls = append(calls, "telemetry")
			return nil
		},
		manager: pool.NewManager(scene.NewWorld()),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"telemetry"}, calls)
}
