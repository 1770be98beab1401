package inference

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/artifact"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/registry"
	"github.com/rushteam/pricekit/store"
)

const experimentID = "719251958895265794"

// 1000 + 10*company_rating + 5*crew + 100*d_check + 50*engines + 20*iata + 30*moon + 2*capacity + 1*review
const olsModel = `{
  "flavor": "linear",
  "family": "OLS",
  "feature_names": ["company_rating", "crew", "d_check_complete", "engines",
                    "iata_approved", "moon_clearance_complete", "passenger_capacity", "review_scores_rating"],
  "linear": {"intercept": 1000, "coefficients": [10, 5, 100, 50, 20, 30, 2, 1]}
}`

func validInput() map[string]any {
	return map[string]any{
		"company_rating":          90,
		"crew":                    10,
		"d_check_complete":        true,
		"engines":                 2,
		"iata_approved":           false,
		"moon_clearance_complete": true,
		"passenger_capacity":      100,
		"review_scores_rating":    80,
	}
}

// spyLoader 记录 Load 调用次数
type spyLoader struct {
	next  artifact.ModelLoader
	calls atomic.Int32
}

func (s *spyLoader) Load(ctx context.Context, run *core.RunRecord, family core.ModelFamily) (*artifact.LoadedModel, error) {
	s.calls.Add(1)
	return s.next.Load(ctx, run, family)
}

type fixture struct {
	tracking  *registry.KVBackend
	artifacts *store.MemoryStore
	loader    *spyLoader
	service   *Service
	metrics   *Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		tracking:  registry.NewKVBackend(store.NewMemoryStore()),
		artifacts: store.NewMemoryStore(),
		metrics:   NewMetrics(),
	}
	t.Cleanup(func() {
		f.tracking.Close()
		f.artifacts.Close()
	})
	require.NoError(t, f.tracking.PutExperiment(ctx, &core.Experiment{ID: experimentID, Name: registry.DefaultExperiment}))
	f.loader = &spyLoader{next: artifact.NewLoader(f.artifacts)}
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.service = NewService(registry.NewClient(f.tracking), f.loader, opts...)
	return f
}

func (f *fixture) addRun(t *testing.T, run *core.RunRecord, model string) {
	t.Helper()
	ctx := context.Background()
	run.ExperimentID = experimentID
	require.NoError(t, f.tracking.PutRun(ctx, run))
	if model != "" {
		require.NoError(t, f.artifacts.Set(ctx, artifact.ArtifactPath(run, run.Family), []byte(model)))
	}
}

func TestPredict_OLS(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{
		RunID: "old", Family: core.FamilyOLS, StartTime: time.Unix(1700000000, 0),
		Metrics: map[string]float64{"test_r2": 0.5, "cv_r2_mean": 0.4},
	}, `{"flavor": "linear", "linear": {"intercept": 0, "coefficients": [0,0,0,0,0,0,0,0]}}`)
	f.addRun(t, &core.RunRecord{
		RunID: "latest", Family: core.FamilyOLS, StartTime: time.Unix(1700003600, 0),
		Metrics: map[string]float64{"test_r2": 0.81, "cv_r2_mean": 0.78},
	}, olsModel)

	out := f.service.Predict(context.Background(), core.FamilyOLS, validInput())
	require.True(t, out.Succeeded(), "failure: %+v", out.Failure)
	require.Nil(t, out.Failure)
	require.Equal(t, "latest", out.Prediction.RunID)
	require.Equal(t, core.FamilyOLS, out.Prediction.Family)
	require.InDelta(t, 2460.0, out.Prediction.Value, 1e-9)

	testR2, ok := out.Prediction.Metrics.Get("test_r2")
	require.True(t, ok)
	require.Equal(t, "0.810", testR2.String())
	cv, ok := out.Prediction.Metrics.Get("cv_r2_mean")
	require.True(t, ok)
	require.Equal(t, "0.780", cv.String())

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, out))
	require.Equal(t, "Predicted Price: $2,460.00\nModel Metrics:\nR2 Score (Test): 0.810\nR2 Score (CV): 0.780\n", buf.String())

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.predictionsTotal.WithLabelValues("OLS", "success")))
}

func TestPredict_NoRunsDoesNotLoad(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "ols", Family: core.FamilyOLS, StartTime: time.Now()}, olsModel)

	out := f.service.Predict(context.Background(), core.FamilyRidge, validInput())
	require.False(t, out.Succeeded())
	require.Equal(t, core.FailureNoRunsFound, out.Kind())
	require.Equal(t, "No runs found for model type Ridge", out.Failure.Message)
	require.True(t, errors.Is(out.Failure, registry.ErrNoRuns))
	require.Equal(t, int32(0), f.loader.calls.Load())

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.predictionsTotal.WithLabelValues("Ridge", "NoRunsFound")))
}

func TestPredict_MissingMetricsNotAvailable(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyOLS, StartTime: time.Now(),
		Metrics: map[string]float64{"test_r2": 0.81}}, olsModel)

	out := f.service.Predict(context.Background(), core.FamilyOLS, validInput())
	require.True(t, out.Succeeded())
	cv, _ := out.Prediction.Metrics.Get("cv_r2_mean")
	require.False(t, cv.Available)
	require.Equal(t, "not available", cv.String())

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, out))
	require.Contains(t, buf.String(), "R2 Score (CV): not available\n")
}

func TestPredict_AbsentArtifact(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyLasso, StartTime: time.Now()}, "")

	out := f.service.Predict(context.Background(), core.FamilyLasso, validInput())
	require.Equal(t, core.FailureModelLoadError, out.Kind())
	require.Nil(t, out.Prediction)
	require.True(t, strings.HasPrefix(out.Failure.Message, "Failed to load Lasso model from run r1: model artifact "), out.Failure.Message)
	require.Contains(t, out.Failure.Message, "lasso_model/model.json not found")
}

func TestPredict_CorruptArtifactMessage(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyOLS, StartTime: time.Now()}, `{"flavor": "linear"`)

	out := f.service.Predict(context.Background(), core.FamilyOLS, validInput())
	require.Equal(t, core.FailureModelLoadError, out.Kind())
	require.Contains(t, out.Failure.Message, "is corrupt")
}

func TestPredict_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyOLS, StartTime: time.Now()}, olsModel)

	raw := validInput()
	delete(raw, "crew")
	out := f.service.Predict(context.Background(), core.FamilyOLS, raw)
	require.Equal(t, core.FailureInvalidInput, out.Kind())
	require.Equal(t, "crew", out.Failure.Feature)

	raw = validInput()
	raw["company_rating"] = 101
	out = f.service.Predict(context.Background(), core.FamilyOLS, raw)
	require.Equal(t, core.FailureInvalidInput, out.Kind())
	require.Equal(t, "company_rating", out.Failure.Feature)
}

func TestPredict_BoundaryRatingsAccepted(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyOLS, StartTime: time.Now()}, olsModel)

	raw := validInput()
	raw["company_rating"] = 0
	raw["review_scores_rating"] = 100
	out := f.service.Predict(context.Background(), core.FamilyOLS, raw)
	require.True(t, out.Succeeded(), "failure: %+v", out.Failure)
}

type panicPredictor struct{}

func (panicPredictor) Flavor() string   { return "panic" }
func (panicPredictor) NumFeatures() int { return 8 }
func (panicPredictor) Predict(context.Context, [][]float64) ([]float64, error) {
	panic("shape mismatch")
}

type stubLoader struct{ model *artifact.LoadedModel }

func (s stubLoader) Load(ctx context.Context, run *core.RunRecord, family core.ModelFamily) (*artifact.LoadedModel, error) {
	m := *s.model
	m.RunID = run.RunID
	return &m, nil
}

func TestPredict_InferencePanic(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyRandomForest, StartTime: time.Now()}, "")

	loader := stubLoader{model: &artifact.LoadedModel{
		Family:       core.FamilyRandomForest,
		FeatureNames: f.service.Schema().Names(),
		Predictor:    panicPredictor{},
	}}
	svc := NewService(registry.NewClient(f.tracking), loader)

	out := svc.Predict(context.Background(), core.FamilyRandomForest, validInput())
	require.Equal(t, core.FailureInferenceError, out.Kind())
	require.Contains(t, out.Failure.Message, "Prediction failed")
}

type fakeRegistry struct {
	latestErr error
	run       *core.RunRecord
	getErr    error
}

func (r *fakeRegistry) LatestRun(ctx context.Context, family core.ModelFamily) (*core.RunRecord, error) {
	return r.run, r.latestErr
}

func (r *fakeRegistry) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.run, nil
}

func TestPredict_LookupFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.FailureKind
	}{
		{name: "unavailable", err: core.NewDomainError(core.ModuleRegistry, core.ErrorCodeUnavailable, "connection refused"), want: core.FailureBackendUnavailable},
		{name: "unclassified", err: errors.New("boom"), want: core.FailureBackendUnavailable},
		{name: "missing experiment", err: core.NewDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration, `experiment "House_Price_Prediction" not found`), want: core.FailureConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeRegistry{latestErr: tt.err}, stubLoader{})
			out := svc.Predict(context.Background(), core.FamilyOLS, validInput())
			require.Equal(t, tt.want, out.Kind())
			require.NotEmpty(t, out.Failure.Message)
		})
	}
}

func TestPredict_MetricsRefreshFallback(t *testing.T) {
	ctx := context.Background()
	artifacts := store.NewMemoryStore()
	defer artifacts.Close()

	run := &core.RunRecord{RunID: "r1", ExperimentID: experimentID, Family: core.FamilyOLS,
		Metrics: map[string]float64{"test_r2": 0.7}}
	require.NoError(t, artifacts.Set(ctx, artifact.ArtifactPath(run, core.FamilyOLS), []byte(olsModel)))

	reg := &fakeRegistry{run: run, getErr: core.NewDomainError(core.ModuleRegistry, core.ErrorCodeUnavailable, "timeout")}
	out := NewService(reg, artifact.NewLoader(artifacts)).Predict(ctx, core.FamilyOLS, validInput())
	require.True(t, out.Succeeded())
	m, _ := out.Prediction.Metrics.Get("test_r2")
	require.Equal(t, "0.700", m.String())
}

func TestPredictByName(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, &core.RunRecord{RunID: "r1", Family: core.FamilyOLS, StartTime: time.Now()}, olsModel)

	out := f.service.PredictByName(context.Background(), "ols", validInput())
	require.True(t, out.Succeeded())

	out = f.service.PredictByName(context.Background(), "XGBoost", validInput())
	require.Equal(t, core.FailureInvalidInput, out.Kind())
	require.Equal(t, int32(1), f.loader.calls.Load())
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := NewMetrics()
	require.NoError(t, m1.Register(reg))
	m2 := NewMetrics()
	require.NoError(t, m2.Register(reg))
	require.Same(t, m1.predictionsTotal, m2.predictionsTotal)
}

func TestPredict_InvalidFamilySharesMetricLabel(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"XGBoost", "xgb-v2", "../etc"} {
		out := f.service.Predict(context.Background(), core.ModelFamily(name), validInput())
		require.Equal(t, core.FailureInvalidInput, out.Kind())
	}

	require.Equal(t, 3.0, testutil.ToFloat64(f.metrics.predictionsTotal.WithLabelValues("unknown", "InvalidInput")))
	require.Equal(t, 1, testutil.CollectAndCount(f.metrics.predictionsTotal))
	require.Equal(t, 1, testutil.CollectAndCount(f.metrics.predictDuration))
}
