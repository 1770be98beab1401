package builders

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/artifact"
	"github.com/rushteam/pricekit/config"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/registry"
)

const ridgeModel = `{
  "flavor": "linear",
  "family": "Ridge",
  "linear": {"intercept": 50000, "coefficients": [100, 10, 0, 1000, 0, 0, 5, 50]}
}`

func TestSupportedBackends(t *testing.T) {
	require.Equal(t, []string{"memory", "mlflow", "postgres", "redis", "sqlite"}, config.SupportedTrackingBackends())
	require.Equal(t, []string{"file", "memory", "redis"}, config.SupportedArtifactStores())
}

func TestBuildService_SQLiteAndFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mlflow.db")
	root := filepath.Join(dir, "mlruns")

	require.NoError(t, registry.Migrate(ctx, registry.DialectSQLite, dbPath))
	db, err := registry.OpenSQL(ctx, registry.DialectSQLite, dbPath, false)
	require.NoError(t, err)
	writer := registry.NewSQLBackend(db, registry.DialectSQLite)
	require.NoError(t, writer.PutExperiment(ctx, &core.Experiment{ID: "3", Name: "House_Price_Prediction"}))
	run := &core.RunRecord{
		RunID: registry.NewRunID(), ExperimentID: "3", Family: core.FamilyRidge,
		StartTime: time.Now(), Metrics: map[string]float64{"test_r2": 0.6},
	}
	require.NoError(t, writer.PutRun(ctx, run))
	require.NoError(t, writer.Close())

	path := filepath.Join(root, filepath.FromSlash(artifact.ArtifactPath(run, core.FamilyRidge)))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(ridgeModel), 0o644))

	cfg := config.Defaults()
	cfg.Tracking.Backend = "sqlite"
	cfg.Tracking.DSN = dbPath
	cfg.Artifacts.Root = root
	cfg.Artifacts.CacheTTL = time.Minute

	rt, err := config.BuildService(ctx, &cfg, config.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer rt.Close()

	out := rt.Service.PredictByName(ctx, "Ridge", map[string]any{
		"company_rating":          80,
		"crew":                    4,
		"d_check_complete":        "true",
		"engines":                 2,
		"iata_approved":           "1",
		"moon_clearance_complete": 0,
		"passenger_capacity":      20,
		"review_scores_rating":    90,
	})
	require.True(t, out.Succeeded(), "failure: %+v", out.Failure)
	// 50000 + 8000 + 40 + 2000 + 100 + 4500
	require.InDelta(t, 64640.0, out.Prediction.Value, 1e-9)
	m, _ := out.Prediction.Metrics.Get("cv_r2_mean")
	require.False(t, m.Available)

	out = rt.Service.PredictByName(ctx, "Lasso", map[string]any{})
	require.Equal(t, core.FailureNoRunsFound, out.Kind())
}

func TestBuildService_UnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tracking.Backend = "dynamodb"
	_, err := config.BuildService(context.Background(), &cfg)
	require.True(t, core.IsConfiguration(err))
	require.ErrorContains(t, err, "supported: [memory mlflow postgres redis sqlite]")
}

func TestBuildService_SchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  - name: crew\n    kind: nonnegative_numeric\n"), 0o644))

	cfg := config.Defaults()
	cfg.Tracking.Backend = "memory"
	cfg.Artifacts.Backend = "memory"
	cfg.Schema.File = path

	rt, err := config.BuildService(context.Background(), &cfg)
	require.NoError(t, err)
	defer rt.Close()
	require.Equal(t, []string{"crew"}, rt.Service.Schema().Names())

	out := rt.Service.Predict(context.Background(), core.FamilyOLS, map[string]any{"crew": 3})
	require.Equal(t, core.FailureConfiguration, out.Kind())
}

func TestBuildService_MissingDSN(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tracking.Backend = "sqlite"
	_, err := config.BuildService(context.Background(), &cfg)
	require.True(t, core.IsConfiguration(err))
}
