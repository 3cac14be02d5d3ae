package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thera-pipeline/matcher/internal/storage/models"
)

// separableRows builds a synthetic set where positives always have much
// higher embedding similarity than negatives.
func separableRows(n int) []models.TrainingRow {
	rows := make([]models.TrainingRow, n)
	for i := range rows {
		label := 0
		sim := 0.1 + 0.02*float64(i%10)
		if i%2 == 0 {
			label = 1
			sim = 0.8 + 0.02*float64(i%10)
		}
		rows[i] = models.TrainingRow{
			Event: models.MatchEvent{
				EventID:             fmt.Sprintf("event-%d", i),
				EmbeddingSimilarity: sim,
				IndustryGeoScore:    0.5,
				ApolloScore:         0.5,
				RuleFeatures:        map[string]float64{"industry_match": float64(label)},
			},
			Candidate: models.CandidateProfile{
				DomainHealthScore:    0.5,
				ContentRichnessScore: 0.5,
			},
			Label: label,
		}
	}
	return rows
}

func TestTrainRejectsTooFewRows(t *testing.T) {
	trainer := NewTrainer(NewMemoryStore(), DefaultTrainerConfig())

	_, err := trainer.Train(separableRows(50))
	assert.ErrorIs(t, err, ErrNotEnoughRows)
}

func TestTrainSeparableData(t *testing.T) {
	trainer := NewTrainer(NewMemoryStore(), DefaultTrainerConfig())

	m, err := trainer.Train(separableRows(200))
	require.NoError(t, err)

	assert.Greater(t, m.AUC, 0.95)
	assert.Greater(t, m.PRAUC, 0.95)
	assert.Equal(t, FeatureOrder, m.FeatureOrder)
	assert.Len(t, m.Coefficients, len(FeatureOrder))
	assert.Equal(t, 40, m.TestRows)
	assert.Equal(t, 160, m.TrainingRows)
	assert.NotEmpty(t, m.ModelVersion)
}

func TestTrainIsDeterministic(t *testing.T) {
	trainer := NewTrainer(NewMemoryStore(), DefaultTrainerConfig())
	rows := separableRows(200)

	first, err := trainer.Train(rows)
	require.NoError(t, err)
	second, err := trainer.Train(rows)
	require.NoError(t, err)

	assert.Equal(t, first.Coefficients, second.Coefficients)
	assert.Equal(t, first.Intercept, second.Intercept)
	assert.Equal(t, first.AUC, second.AUC)
}

func TestTrainAndPromoteColdStart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	trainer := NewTrainer(store, DefaultTrainerConfig())

	m, promoted, err := trainer.TrainAndPromote(ctx, separableRows(200))
	require.NoError(t, err)
	assert.True(t, promoted)

	current, err := Current(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, m.ModelVersion, current.ModelVersion)
}

func TestPromotionRejectedOnAUCRegression(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	incumbent := &Model{ModelVersion: "lr-incumbent", AUC: 0.99, FeatureOrder: FeatureOrder}
	require.NoError(t, store.PutModel(ctx, incumbent))
	require.NoError(t, store.Promote(ctx, "lr-incumbent"))

	trainer := NewTrainer(store, DefaultTrainerConfig())

	candidate := &Model{ModelVersion: "lr-candidate", AUC: 0.90}
	ok, err := trainer.shouldPromote(ctx, candidate)
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := Current(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "lr-incumbent", current.ModelVersion)
}

func TestPromotionAllowedWithinEpsilon(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	incumbent := &Model{ModelVersion: "lr-incumbent", AUC: 0.90, FeatureOrder: FeatureOrder}
	require.NoError(t, store.PutModel(ctx, incumbent))
	require.NoError(t, store.Promote(ctx, "lr-incumbent"))

	trainer := NewTrainer(store, DefaultTrainerConfig())

	// 0.895 is within the 0.01 epsilon of 0.90.
	ok, err := trainer.shouldPromote(ctx, &Model{ModelVersion: "lr-candidate", AUC: 0.895})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name     string
		labels   []float64
		scores   []float64
		expected float64
	}{
		{
			name:     "perfect separation",
			labels:   []float64{1, 1, 0, 0},
			scores:   []float64{0.9, 0.8, 0.2, 0.1},
			expected: 1.0,
		},
		{
			name:     "inverted separation",
			labels:   []float64{1, 1, 0, 0},
			scores:   []float64{0.1, 0.2, 0.8, 0.9},
			expected: 0.0,
		},
		{
			name:     "all tied scores",
			labels:   []float64{1, 0, 1, 0},
			scores:   []float64{0.5, 0.5, 0.5, 0.5},
			expected: 0.5,
		},
		{
			name:     "single class defaults to half",
			labels:   []float64{1, 1},
			scores:   []float64{0.9, 0.1},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, rocAUC(tt.labels, tt.scores), 1e-9)
		})
	}
}

func TestPRAUCPerfectRanking(t *testing.T) {
	labels := []float64{1, 1, 0, 0}
	scores := []float64{0.9, 0.8, 0.2, 0.1}
	assert.InDelta(t, 1.0, prAUC(labels, scores), 1e-9)
}
