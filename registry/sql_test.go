package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/core"
)

// setupSQLite 建表并写入数据，返回只读打开的后端
func setupSQLite(t *testing.T, runs ...*core.RunRecord) *SQLBackend {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mlflow.db")
	require.NoError(t, Migrate(ctx, DialectSQLite, path))
	require.NoError(t, Migrate(ctx, DialectSQLite, path), "migrations must be idempotent")

	rw, err := OpenSQL(ctx, DialectSQLite, path, false)
	require.NoError(t, err)
	writer := NewSQLBackend(rw, DialectSQLite)
	require.NoError(t, writer.PutExperiment(ctx, &core.Experiment{ID: "719", Name: DefaultExperiment}))
	for _, run := range runs {
		run.ExperimentID = "719"
		require.NoError(t, writer.PutRun(ctx, run))
	}
	require.NoError(t, writer.Close())

	ro, err := OpenSQL(ctx, DialectSQLite, path, true)
	require.NoError(t, err)
	b := NewSQLBackend(ro, DialectSQLite)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLBackend_LatestRun(t *testing.T) {
	b := setupSQLite(t,
		&core.RunRecord{RunID: "r-old", Family: core.FamilyOLS, StartTime: t0, Metrics: map[string]float64{"test_r2": 0.6}},
		&core.RunRecord{RunID: "r-new", Family: core.FamilyOLS, StartTime: t0.Add(time.Minute),
			Metrics: map[string]float64{"test_r2": 0.81, "cv_r2_mean": 0.78}, Params: map[string]string{"fit_intercept": "true"}},
		&core.RunRecord{RunID: "r-rf", Family: core.FamilyRandomForest, StartTime: t0.Add(time.Hour)},
	)

	run, err := NewClient(b).LatestRun(context.Background(), core.FamilyOLS)
	require.NoError(t, err)
	require.Equal(t, "r-new", run.RunID)
	require.Equal(t, "719", run.ExperimentID)
	require.Equal(t, core.FamilyOLS, run.Family)
	require.Equal(t, "true", run.Params["fit_intercept"])
	require.Equal(t, 0.78, run.Metrics["cv_r2_mean"])
	require.Equal(t, t0.Add(time.Minute).UnixMilli(), run.StartTime.UnixMilli())

	_, err = NewClient(b).LatestRun(context.Background(), core.FamilyRidge)
	require.True(t, core.IsNotFound(err))
}

func TestSQLBackend_NativeOrder(t *testing.T) {
	b := setupSQLite(t,
		&core.RunRecord{RunID: "b", Family: core.FamilyLasso, StartTime: t0},
		&core.RunRecord{RunID: "a", Family: core.FamilyLasso, StartTime: t0},
		&core.RunRecord{RunID: "c", Family: core.FamilyLasso, StartTime: t0.Add(time.Second)},
	)
	runs, err := b.SearchRuns(context.Background(), "719", core.RunFilter{
		Params: map[string]string{core.ParamModelType: "Lasso"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "c", runs[0].RunID)
	require.Equal(t, "a", runs[1].RunID)
	require.Equal(t, "b", runs[2].RunID)
}

func TestSQLBackend_GetRunAndExperiment(t *testing.T) {
	b := setupSQLite(t, &core.RunRecord{RunID: "r1", Family: core.FamilyRidge, StartTime: t0})
	ctx := context.Background()

	run, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, core.FamilyRidge, run.Family)
	require.Empty(t, run.Metrics)

	_, err = b.GetRun(ctx, "missing")
	require.True(t, core.IsNotFound(err))

	_, err = b.GetExperimentByName(ctx, "Other")
	require.True(t, core.IsNotFound(err))
}

func TestSQLBackend_ReadOnly(t *testing.T) {
	b := setupSQLite(t)
	err := b.PutExperiment(context.Background(), &core.Experiment{ID: "1", Name: "x"})
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := NewSQLBackend(nil, DialectPostgres)
	require.Equal(t, "SELECT 1 WHERE a = $1 AND b IN ($2,$3)", pg.rebind("SELECT 1 WHERE a = ? AND b IN (?,?)"))
	lite := NewSQLBackend(nil, DialectSQLite)
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "file:/tmp/x.db?mode=ro", sqliteDSN("/tmp/x.db", true))
	require.Equal(t, "file:/tmp/x.db", sqliteDSN("/tmp/x.db", false))
	require.Equal(t, "file:x.db?cache=shared&mode=ro", sqliteDSN("file:x.db?cache=shared", true))
}

func TestUpMigrationsOrdered(t *testing.T) {
	files, err := upMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, uint64(1), files[0].version)
}
