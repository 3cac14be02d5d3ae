package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thera-pipeline/matcher/internal/storage/models"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1, 2, 3},
			b:        []float32{1, 2, 3},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 0.0,
		},
		{
			name:     "opposite vectors clamp to zero",
			a:        []float32{1, 0},
			b:        []float32{-1, 0},
			expected: 0.0,
		},
		{
			name:     "zero vector",
			a:        []float32{0, 0},
			b:        []float32{1, 1},
			expected: 0.0,
		},
		{
			name:     "dimension mismatch",
			a:        []float32{1, 2},
			b:        []float32{1, 2, 3},
			expected: 0.0,
		},
		{
			name:     "empty vectors",
			a:        nil,
			b:        nil,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.5, 0.1, 0.8, -0.2}

	sim := CosineSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestIndustryGeoScore(t *testing.T) {
	candidate := models.CandidateProfile{Industry: "fintech", Country: "DE"}

	tests := []struct {
		name     string
		query    models.MatchQuery
		expected float64
	}{
		{
			name:     "both filters match",
			query:    models.MatchQuery{Industry: "fintech", Country: "DE"},
			expected: 1.0,
		},
		{
			name:     "only industry matches",
			query:    models.MatchQuery{Industry: "fintech", Country: "US"},
			expected: 0.5,
		},
		{
			name:     "only country matches",
			query:    models.MatchQuery{Industry: "biotech", Country: "DE"},
			expected: 0.5,
		},
		{
			name:     "neither matches",
			query:    models.MatchQuery{Industry: "biotech", Country: "US"},
			expected: 0.0,
		},
		{
			name:     "single filter matching",
			query:    models.MatchQuery{Industry: "fintech"},
			expected: 1.0,
		},
		{
			name:     "single filter not matching",
			query:    models.MatchQuery{Country: "US"},
			expected: 0.0,
		},
		{
			name:     "no filters is neutral",
			query:    models.MatchQuery{},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IndustryGeoScore(tt.query, candidate))
		})
	}
}

func TestRuleFeatures(t *testing.T) {
	candidate := models.CandidateProfile{
		Industry:             "fintech",
		Country:              "DE",
		DomainHealthScore:    0.8,
		ContentRichnessScore: 0.6,
	}

	features := RuleFeatures(models.MatchQuery{Industry: "fintech", Country: "US"}, candidate)

	assert.Equal(t, 1.0, features["industry_match"])
	assert.Equal(t, 0.0, features["geo_match"])
	assert.Equal(t, 0.8, features["domain_health_score"])
	assert.Equal(t, 0.6, features["content_richness_score"])
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights())
	assert.InDelta(t, 1.0, WeightEmbedding+WeightIndustryGeo+WeightApollo+WeightML, 1e-9)
}
