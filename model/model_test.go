package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/core"
)

const linearArtifact = `{
  "flavor": "linear",
  "family": "OLS",
  "feature_names": ["a", "b", "c"],
  "linear": {"intercept": 10, "coefficients": [1, 2, -0.5]}
}`

// 两棵树：
//
//	tree0: a <= 5 ? 100 : 200
//	tree1: b <= 1 ? (c <= 0 ? 10 : 20) : 30
const forestArtifact = `{
  "flavor": "random_forest",
  "family": "RandomForest",
  "feature_names": ["a", "b", "c"],
  "forest": {
    "n_features": 3,
    "trees": [
      {
        "children_left":  [1, -1, -1],
        "children_right": [2, -1, -1],
        "feature":        [0, -2, -2],
        "threshold":      [5, -2, -2],
        "value":          [0, 100, 200]
      },
      {
        "children_left":  [1, 2, -1, -1, -1],
        "children_right": [4, 3, -1, -1, -1],
        "feature":        [1, 2, -2, -2, -2],
        "threshold":      [1, 0, -2, -2, -2],
        "value":          [0, 0, 10, 20, 30]
      }
    ]
  }
}`

func TestDecode_Linear(t *testing.T) {
	d, err := Decode([]byte(linearArtifact))
	require.NoError(t, err)
	require.Equal(t, FlavorLinear, d.Flavor)
	require.Equal(t, core.FamilyOLS, d.Family)
	require.Equal(t, []string{"a", "b", "c"}, d.FeatureNames)
	require.Equal(t, 3, d.Predictor.NumFeatures())

	out, err := d.Predictor.Predict(context.Background(), [][]float64{{1, 2, 4}, {0, 0, 0}})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{13, 10}, out, 1e-9)

	_, err = d.Predictor.Predict(context.Background(), [][]float64{{1, 2}})
	require.Error(t, err)
}

func TestDecode_Forest(t *testing.T) {
	d, err := Decode([]byte(forestArtifact))
	require.NoError(t, err)
	require.Equal(t, FlavorRandomForest, d.Predictor.Flavor())

	tests := []struct {
		row  []float64
		want float64
	}{
		{row: []float64{5, 1, 0}, want: (100 + 10) / 2.0}, // 阈值相等走左侧
		{row: []float64{6, 1, 1}, want: (200 + 20) / 2.0},
		{row: []float64{0, 2, 0}, want: (100 + 30) / 2.0},
	}
	for _, tt := range tests {
		out, err := d.Predictor.Predict(context.Background(), [][]float64{tt.row})
		require.NoError(t, err)
		require.InDelta(t, tt.want, out[0], 1e-9, "row %v", tt.row)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `not json`},
		{name: "unknown flavor", data: `{"flavor": "onnx"}`},
		{name: "unknown field", data: `{"flavor": "linear", "linear": {"intercept": 1, "coefficients": [1]}, "extra": 1}`},
		{name: "unknown family", data: `{"flavor": "linear", "family": "XGBoost", "linear": {"intercept": 1, "coefficients": [1]}}`},
		{name: "missing section", data: `{"flavor": "linear"}`},
		{name: "no coefficients", data: `{"flavor": "linear", "linear": {"intercept": 1, "coefficients": []}}`},
		{name: "width mismatch", data: `{"flavor": "linear", "feature_names": ["a"], "linear": {"intercept": 1, "coefficients": [1, 2]}}`},
		{name: "duplicate feature", data: `{"flavor": "linear", "feature_names": ["a", "a"], "linear": {"intercept": 1, "coefficients": [1, 2]}}`},
		{name: "forest without trees", data: `{"flavor": "random_forest", "forest": {"n_features": 1, "trees": []}}`},
		{name: "forest cycle", data: `{"flavor": "random_forest", "forest": {"n_features": 1, "trees": [
			{"children_left": [0], "children_right": [0], "feature": [0], "threshold": [1], "value": [1]}]}}`},
		{name: "forest feature out of range", data: `{"flavor": "random_forest", "forest": {"n_features": 1, "trees": [
			{"children_left": [1, -1, -1], "children_right": [2, -1, -1], "feature": [3, -2, -2], "threshold": [1, 0, 0], "value": [0, 1, 2]}]}}`},
		{name: "forest ragged arrays", data: `{"flavor": "random_forest", "forest": {"n_features": 1, "trees": [
			{"children_left": [-1], "children_right": [-1], "feature": [], "threshold": [0], "value": [1]}]}}`},
		{name: "remote without endpoint", data: `{"flavor": "remote", "remote": {"n_features": 2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestRPCModel_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req struct {
			Instances [][]float64 `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		preds := make([]float64, len(req.Instances))
		for i, row := range req.Instances {
			for _, v := range row {
				preds[i] += v
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": preds})
	}))
	defer srv.Close()

	d, err := Decode([]byte(`{"flavor": "remote", "feature_names": ["a", "b"], "remote": {"endpoint": "` + srv.URL + `"}}`))
	require.NoError(t, err)
	require.Equal(t, 2, d.Predictor.NumFeatures())

	out, err := d.Predictor.Predict(context.Background(), [][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.Equal(t, []float64{3, 7}, out)
}

func TestRPCModel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewRPCModel(srv.URL, 0, 1)
	_, err := m.Predict(context.Background(), [][]float64{{1}})
	require.ErrorContains(t, err, "status=500")
}

func TestRegisterFlavor(t *testing.T) {
	RegisterFlavor("constant", func(env *Envelope) (core.Predictor, error) {
		return &LinearModel{Intercept: 42, Coefficients: make([]float64, len(env.FeatureNames))}, nil
	})
	require.Contains(t, Flavors(), "constant")

	d, err := Decode([]byte(`{"flavor": "constant", "feature_names": ["a"]}`))
	require.NoError(t, err)
	out, err := d.Predictor.Predict(context.Background(), [][]float64{{7}})
	require.NoError(t, err)
	require.Equal(t, []float64{42}, out)
}
