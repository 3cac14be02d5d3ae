package scoring

import (
	"math"

	"github.com/thera-pipeline/matcher/internal/storage/models"
)

// Signal names. They double as keys in the computed-score map and as the
// feature names fed to the ML model.
const (
	SignalEmbedding   = "embedding_similarity"
	SignalIndustryGeo = "industry_geo_score"
	SignalApollo      = "apollo_score"
	SignalML          = "ml_score"
)

// strongSimilarityThreshold upgrades the embedding reason template when the
// similarity alone makes the match obvious.
const strongSimilarityThreshold = 0.75

// SignalInput carries everything a signal may read for one candidate.
// Signals run in declaration order; Computed holds the rule features plus the
// values of every signal scored so far, so a later signal (the ML one) can
// build on its predecessors.
type SignalInput struct {
	Query           models.MatchQuery
	Candidate       *models.CandidateProfile
	QueryVector     []float32
	CandidateVector []float32
	Model           MLModel
	Computed        map[string]float64
}

// Signal is one component of the blended score. Adding a signal means
// appending it to the engine's signal list; the blend and the reason
// selection pick it up without further changes.
type Signal interface {
	Name() string
	Weight() float64
	Reason() string
	Score(in SignalInput) float64
}

// DefaultSignals is the production blend. Only the ML signal is
// order-sensitive: it must run last so Computed already holds the others.
func DefaultSignals() []Signal {
	return []Signal{
		embeddingSignal{},
		industryGeoSignal{},
		apolloSignal{},
		mlSignal{},
	}
}

type embeddingSignal struct{}

func (embeddingSignal) Name() string    { return SignalEmbedding }
func (embeddingSignal) Weight() float64 { return WeightEmbedding }
func (embeddingSignal) Reason() string  { return "semantic match" }
func (embeddingSignal) Score(in SignalInput) float64 {
	return CosineSimilarity(in.QueryVector, in.CandidateVector)
}

type industryGeoSignal struct{}

func (industryGeoSignal) Name() string    { return SignalIndustryGeo }
func (industryGeoSignal) Weight() float64 { return WeightIndustryGeo }
func (industryGeoSignal) Reason() string  { return "industry/geography match" }
func (industryGeoSignal) Score(in SignalInput) float64 {
	return IndustryGeoScore(in.Query, *in.Candidate)
}

type apolloSignal struct{}

func (apolloSignal) Name() string    { return SignalApollo }
func (apolloSignal) Weight() float64 { return WeightApollo }
func (apolloSignal) Reason() string  { return "high data quality profile" }
func (apolloSignal) Score(in SignalInput) float64 {
	return in.Candidate.ApolloScore
}

type mlSignal struct{}

func (mlSignal) Name() string    { return SignalML }
func (mlSignal) Weight() float64 { return WeightML }
func (mlSignal) Reason() string  { return "model predicts strong fit" }
func (mlSignal) Score(in SignalInput) float64 {
	if in.Model == nil {
		return NeutralMLScore
	}
	return in.Model.Predict(in.Computed)
}

// reasonFor names the signal with the largest weighted contribution.
// Templates are fixed so the same scores always produce the same explanation.
func reasonFor(signals []Signal, computed map[string]float64) string {
	var best Signal
	var bestValue float64
	for _, s := range signals {
		v := s.Weight() * computed[s.Name()]
		if best == nil || v > bestValue {
			best = s
			bestValue = v
		}
	}
	if best == nil {
		return ""
	}

	if best.Name() == SignalEmbedding && computed[SignalEmbedding] >= strongSimilarityThreshold {
		return "strong semantic match"
	}
	return best.Reason()
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [0,1]. Negative cosines map to 0 so downstream blending never
// sees a negative signal. Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// IndustryGeoScore is the rule-based filter overlap: 1.0 when every filter
// the query specified matches, 0.5 when one of two matches, 0.0 otherwise.
// A query with no filters gets the neutral 0.5.
func IndustryGeoScore(q models.MatchQuery, c models.CandidateProfile) float64 {
	hasIndustry := q.Industry != ""
	hasCountry := q.Country != ""

	if !hasIndustry && !hasCountry {
		return 0.5
	}

	matches := 0
	specified := 0
	if hasIndustry {
		specified++
		if c.Industry == q.Industry {
			matches++
		}
	}
	if hasCountry {
		specified++
		if c.Country == q.Country {
			matches++
		}
	}

	switch {
	case matches == specified:
		return 1.0
	case matches > 0:
		return 0.5
	default:
		return 0.0
	}
}

// RuleFeatures builds the auxiliary feature map fed to the ML model and
// persisted on match events.
func RuleFeatures(q models.MatchQuery, c models.CandidateProfile) map[string]float64 {
	features := map[string]float64{
		"industry_match":         0,
		"geo_match":              0,
		"domain_health_score":    c.DomainHealthScore,
		"content_richness_score": c.ContentRichnessScore,
	}

	if q.Industry != "" && c.Industry == q.Industry {
		features["industry_match"] = 1
	}
	if q.Country != "" && c.Country == q.Country {
		features["geo_match"] = 1
	}

	return features
}
