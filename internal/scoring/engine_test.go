package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thera-pipeline/matcher/internal/embedding"
	"github.com/thera-pipeline/matcher/internal/storage/models"
)

// simVector builds a unit vector whose cosine against (1,0) is exactly sim.
func simVector(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func newTestArena(t *testing.T, sims map[string]float64) *embedding.Arena {
	t.Helper()
	arena := embedding.NewArena(2)
	for key, sim := range sims {
		require.NoError(t, arena.Add(key, simVector(sim)))
	}
	return arena
}

func TestScoreRanking(t *testing.T) {
	arena := newTestArena(t, map[string]float64{
		"acme": 0.9,
		"beta": 0.5,
		"gamo": 0.2,
	})

	// All candidates match both filters, so industry_geo is 1.0; with
	// apollo 0.5 and no model (ml 0.5) the blend is fully determined by
	// similarity: 0.84, 0.60, 0.42.
	candidates := []models.CandidateProfile{
		{CompanyKey: "gamo", Industry: "fintech", Country: "DE", ApolloScore: 0.5},
		{CompanyKey: "acme", Industry: "fintech", Country: "DE", ApolloScore: 0.5},
		{CompanyKey: "beta", Industry: "fintech", Country: "DE", ApolloScore: 0.5},
	}
	query := models.MatchQuery{Industry: "fintech", Country: "DE"}

	engine := NewEngine(arena, 2, 20)
	results, partial := engine.Score(context.Background(), simVector(1.0), query, candidates, nil)

	require.False(t, partial)
	require.Len(t, results, 3)

	assert.Equal(t, "acme", results[0].CompanyKey)
	assert.Equal(t, "beta", results[1].CompanyKey)
	assert.Equal(t, "gamo", results[2].CompanyKey)

	assert.InDelta(t, 0.84, results[0].FinalScore, 1e-6)
	assert.InDelta(t, 0.60, results[1].FinalScore, 1e-6)
	assert.InDelta(t, 0.42, results[2].FinalScore, 1e-6)
}

func TestScoreNeutralMLWithoutModel(t *testing.T) {
	arena := newTestArena(t, map[string]float64{"acme": 0.8})
	candidates := []models.CandidateProfile{
		{CompanyKey: "acme", ApolloScore: 0.3},
	}

	engine := NewEngine(arena, 1, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, candidates, nil)

	require.Len(t, results, 1)
	r := results[0]

	assert.Equal(t, NeutralMLScore, r.MLScore)

	// Four-term formula with ml_score pinned at 0.5, never renormalized.
	expected := WeightEmbedding*r.EmbeddingSimilarity +
		WeightIndustryGeo*r.IndustryGeoScore +
		WeightApollo*r.ApolloScore +
		WeightML*NeutralMLScore
	assert.InDelta(t, expected, r.FinalScore, 1e-12)
}

func TestScoreTieBreakByCompanyKey(t *testing.T) {
	arena := newTestArena(t, map[string]float64{
		"zulu":  0.5,
		"alpha": 0.5,
		"mike":  0.5,
	})

	candidates := []models.CandidateProfile{
		{CompanyKey: "zulu", ApolloScore: 0.5},
		{CompanyKey: "mike", ApolloScore: 0.5},
		{CompanyKey: "alpha", ApolloScore: 0.5},
	}

	engine := NewEngine(arena, 2, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, candidates, nil)

	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].CompanyKey)
	assert.Equal(t, "mike", results[1].CompanyKey)
	assert.Equal(t, "zulu", results[2].CompanyKey)
}

func TestScoreTruncatesToTopK(t *testing.T) {
	sims := map[string]float64{}
	var candidates []models.CandidateProfile
	for i := 0; i < 30; i++ {
		key := string(rune('a'+i%26)) + string(rune('a'+i/26))
		sims[key] = float64(i) / 30.0
		candidates = append(candidates, models.CandidateProfile{CompanyKey: key, ApolloScore: 0.5})
	}

	engine := NewEngine(newTestArena(t, sims), 4, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, candidates, nil)

	assert.Len(t, results, 20)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].FinalScore, results[i].FinalScore)
	}
}

func TestScoreDeterministicAcrossWorkerCounts(t *testing.T) {
	sims := map[string]float64{}
	var candidates []models.CandidateProfile
	for i := 0; i < 57; i++ {
		key := string(rune('a'+i%26)) + string(rune('a'+(i*7)%26)) + string(rune('a'+i/26))
		sims[key] = float64((i*37)%100) / 100.0
		candidates = append(candidates, models.CandidateProfile{CompanyKey: key, ApolloScore: 0.5})
	}
	arena := newTestArena(t, sims)
	query := models.MatchQuery{}

	base, _ := NewEngine(arena, 1, 20).Score(context.Background(), simVector(1.0), query, candidates, nil)

	for _, workers := range []int{2, 4, 8} {
		results, _ := NewEngine(arena, workers, 20).Score(context.Background(), simVector(1.0), query, candidates, nil)
		require.Len(t, results, len(base))
		for i := range base {
			assert.Equal(t, base[i].CompanyKey, results[i].CompanyKey, "workers=%d rank=%d", workers, i)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	arena := newTestArena(t, map[string]float64{"acme": 1.0})
	candidates := []models.CandidateProfile{
		{CompanyKey: "acme", Industry: "fintech", Country: "DE", ApolloScore: 1.0},
	}

	engine := NewEngine(arena, 1, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0),
		models.MatchQuery{Industry: "fintech", Country: "DE"}, candidates, nil)

	require.Len(t, results, 1)
	r := results[0]
	for _, v := range []float64{r.EmbeddingSimilarity, r.IndustryGeoScore, r.ApolloScore, r.MLScore, r.FinalScore} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestScoreMissingVectorScoresZeroSimilarity(t *testing.T) {
	arena := newTestArena(t, map[string]float64{"acme": 0.9})
	candidates := []models.CandidateProfile{
		{CompanyKey: "acme", ApolloScore: 0.5},
		{CompanyKey: "ghost", ApolloScore: 0.5},
	}

	engine := NewEngine(arena, 1, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, candidates, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "acme", results[0].CompanyKey)
	assert.Equal(t, "ghost", results[1].CompanyKey)
	assert.Equal(t, 0.0, results[1].EmbeddingSimilarity)
}

func TestScoreEmptyPool(t *testing.T) {
	engine := NewEngine(newTestArena(t, nil), 2, 20)
	results, partial := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, nil, nil)

	assert.Empty(t, results)
	assert.False(t, partial)
}

func TestReasonSelection(t *testing.T) {
	tests := []struct {
		name     string
		computed map[string]float64
		expected string
	}{
		{
			name:     "dominant high similarity",
			computed: map[string]float64{SignalEmbedding: 0.9, SignalIndustryGeo: 0.5, SignalApollo: 0.5, SignalML: 0.5},
			expected: "strong semantic match",
		},
		{
			name:     "dominant moderate similarity",
			computed: map[string]float64{SignalEmbedding: 0.6, SignalIndustryGeo: 0.5, SignalApollo: 0.5, SignalML: 0.5},
			expected: "semantic match",
		},
		{
			name:     "rules dominate weak similarity",
			computed: map[string]float64{SignalEmbedding: 0.1, SignalIndustryGeo: 1.0, SignalApollo: 0.5, SignalML: 0.5},
			expected: "industry/geography match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, reasonFor(DefaultSignals(), tt.computed))
		})
	}
}

// boostSignal is a fixed-value extra signal used to prove the blend and the
// reason selection follow the engine's signal list.
type boostSignal struct{ value float64 }

func (boostSignal) Name() string                { return "partner_boost" }
func (boostSignal) Weight() float64             { return 0.5 }
func (boostSignal) Reason() string              { return "partner program boost" }
func (s boostSignal) Score(SignalInput) float64 { return s.value }

func TestCustomSignalExtendsBlend(t *testing.T) {
	arena := newTestArena(t, map[string]float64{"acme": 0.4})
	candidates := []models.CandidateProfile{
		{CompanyKey: "acme", ApolloScore: 0.5},
	}

	signals := append(DefaultSignals(), boostSignal{value: 1.0})
	engine := NewEngineWithSignals(arena, signals, 1, 20)
	results, _ := engine.Score(context.Background(), simVector(1.0), models.MatchQuery{}, candidates, nil)

	require.Len(t, results, 1)
	r := results[0]

	base := WeightEmbedding*r.EmbeddingSimilarity +
		WeightIndustryGeo*r.IndustryGeoScore +
		WeightApollo*r.ApolloScore +
		WeightML*r.MLScore
	assert.InDelta(t, base+0.5, r.FinalScore, 1e-12)

	// The 0.5-weighted boost out-weighs every default contribution.
	assert.Equal(t, "partner program boost", r.Reason)
}

func TestValidateSignalWeights(t *testing.T) {
	assert.NoError(t, ValidateSignalWeights(DefaultSignals()))
	assert.Error(t, ValidateSignalWeights(append(DefaultSignals(), boostSignal{value: 1.0})))
}
