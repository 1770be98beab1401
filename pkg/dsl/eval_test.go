package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/core"
)

func testRuns() []*core.RunRecord {
	return []*core.RunRecord{
		{
			RunID:   "a",
			Family:  core.FamilyOLS,
			Params:  map[string]string{"model_type": "OLS"},
			Metrics: map[string]float64{"test_r2": 0.81, "cv_r2_mean": 0.78},
		},
		{
			RunID:   "b",
			Family:  core.FamilyRidge,
			Params:  map[string]string{"model_type": "Ridge", "alpha": "1.0"},
			Metrics: map[string]float64{"test_r2": 0.42},
		},
		{
			RunID:     "c",
			Family:    core.FamilyOLS,
			Params:    map[string]string{"model_type": "OLS"},
			StartTime: time.Unix(1700000000, 0),
		},
	}
}

func runIDs(runs []*core.RunRecord) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	return ids
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{name: "empty keeps all", expr: "", want: []string{"a", "b", "c"}},
		{name: "param equality", expr: `params.model_type == "OLS"`, want: []string{"a", "c"}},
		{name: "metric threshold skips runs without metric", expr: `metrics.test_r2 > 0.5`, want: []string{"a"}},
		{name: "presence check", expr: `"cv_r2_mean" in metrics`, want: []string{"a"}},
		{name: "run attribute", expr: `run.family == "Ridge" && params.alpha == "1.0"`, want: []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(tt.expr, testRuns())
			require.NoError(t, err)
			require.Equal(t, tt.want, runIDs(got))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(`params.model_type ==`)
	require.Error(t, err)

	_, err = Compile(`metrics.test_r2 + 1.0`)
	require.Error(t, err)
}

func TestCompile_Cached(t *testing.T) {
	a, err := Compile(`params.model_type == "Lasso"`)
	require.NoError(t, err)
	b, err := Compile(`params.model_type == "Lasso"`)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, `params.model_type == "Lasso"`, a.String())
}
