package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictFollowsFeatureOrder(t *testing.T) {
	m := &Model{
		Coefficients: []float64{2.0, -1.0},
		Intercept:    0.5,
		FeatureOrder: []string{"a", "b"},
	}

	got := m.Predict(map[string]float64{"a": 1.0, "b": 2.0})
	want := 1.0 / (1.0 + math.Exp(-(2.0*1.0 - 1.0*2.0 + 0.5)))
	assert.InDelta(t, want, got, 1e-12)
}

func TestPredictMissingFeatureDefaultsToZero(t *testing.T) {
	m := &Model{
		Coefficients: []float64{3.0, 5.0},
		Intercept:    0,
		FeatureOrder: []string{"present", "absent"},
	}

	got := m.Predict(map[string]float64{"present": 1.0})
	want := 1.0 / (1.0 + math.Exp(-3.0))
	assert.InDelta(t, want, got, 1e-12)
}

func TestPredictExtraFeaturesIgnored(t *testing.T) {
	m := &Model{
		Coefficients: []float64{1.0},
		FeatureOrder: []string{"a"},
	}

	base := m.Predict(map[string]float64{"a": 0.7})
	withExtra := m.Predict(map[string]float64{"a": 0.7, "unknown": 99})
	assert.Equal(t, base, withExtra)
}

func TestPredictBounds(t *testing.T) {
	m := &Model{
		Coefficients: []float64{100, -100},
		FeatureOrder: []string{"a", "b"},
	}

	high := m.Predict(map[string]float64{"a": 1})
	low := m.Predict(map[string]float64{"b": 1})

	assert.Greater(t, high, 0.99)
	assert.Less(t, low, 0.01)
	assert.LessOrEqual(t, high, 1.0)
	assert.GreaterOrEqual(t, low, 0.0)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.CurrentVersion(ctx)
	assert.ErrorIs(t, err, ErrNoModel)

	m := &Model{ModelVersion: "lr-test-1", AUC: 0.8, FeatureOrder: FeatureOrder}
	require.NoError(t, store.PutModel(ctx, m))
	require.NoError(t, store.Promote(ctx, "lr-test-1"))

	current, err := Current(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "lr-test-1", current.ModelVersion)

	assert.Error(t, store.Promote(ctx, "unknown-version"))
}
