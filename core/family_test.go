package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelFamily_ArtifactNameIsTotalAndInjective(t *testing.T) {
	seen := make(map[string]ModelFamily)
	for _, f := range Families() {
		name := f.ArtifactName()
		require.NotEmpty(t, name, "family %s has no artifact name", f)
		if other, dup := seen[name]; dup {
			t.Fatalf("artifact name %q shared by %s and %s", name, other, f)
		}
		seen[name] = f
	}
	require.Len(t, seen, 4)
}

func TestModelFamily_ArtifactNames(t *testing.T) {
	require.Equal(t, "ols_model", FamilyOLS.ArtifactName())
	require.Equal(t, "ridge_model", FamilyRidge.ArtifactName())
	require.Equal(t, "lasso_model", FamilyLasso.ArtifactName())
	require.Equal(t, "rf_model", FamilyRandomForest.ArtifactName())
	require.Empty(t, ModelFamily("XGBoost").ArtifactName())
}

func TestParseModelFamily(t *testing.T) {
	tests := []struct {
		in      string
		want    ModelFamily
		wantErr bool
	}{
		{in: "OLS", want: FamilyOLS},
		{in: "Ridge", want: FamilyRidge},
		{in: " Lasso ", want: FamilyLasso},
		{in: "RandomForest", want: FamilyRandomForest},
		{in: "rf", want: FamilyRandomForest},
		{in: "ridge", want: FamilyRidge},
		{in: "xgboost", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseModelFamily(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.True(t, got.Valid())
		})
	}
}

func TestDomainError_WrappedClassification(t *testing.T) {
	base := WrapDomainError(ModuleRegistry, ErrorCodeUnavailable, "tracking backend unavailable", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("latest run: %w", base)

	require.True(t, IsUnavailable(wrapped))
	require.False(t, IsNotFound(wrapped))
	require.Equal(t, ModuleRegistry, GetDomainError(wrapped).Module)
	require.Contains(t, wrapped.Error(), "dial tcp: refused")
	require.True(t, IsStoreNotFound(fmt.Errorf("get: %w", ErrStoreNotFound)))
	require.False(t, IsDomainError(errors.New("plain")))
}

func TestMetricValue_String(t *testing.T) {
	require.Equal(t, "0.810", MetricValue{Name: "test_r2", Value: 0.81, Available: true}.String())
	require.Equal(t, "not available", MetricValue{Name: "cv_r2_mean"}.String())

	ms := Metrics{{Name: "test_r2", Value: 0.81, Available: true}, {Name: "cv_r2_mean"}}
	require.Equal(t, map[string]float64{"test_r2": 0.81}, ms.Values())
	m, ok := ms.Get("cv_r2_mean")
	require.True(t, ok)
	require.False(t, m.Available)
}
