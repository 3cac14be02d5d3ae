package scoring

import (
	"context"
	"sort"
	"sync"

	"github.com/thera-pipeline/matcher/internal/storage/models"
)

// NeutralMLScore is served whenever no model is available. A missing model
// must never fail a query.
const NeutralMLScore = 0.5

// MLModel scores a feature map into [0,1]. Implementations must be safe for
// concurrent use; nil means no model is promoted.
type MLModel interface {
	Predict(features map[string]float64) float64
}

// VectorSource resolves a company key to its cached embedding.
type VectorSource interface {
	Vector(companyKey string) ([]float32, bool)
}

// ScoredCandidate is one ranked result with every component signal exposed,
// so callers can audit and explain the blend.
type ScoredCandidate struct {
	CompanyKey          string             `json:"company_key"`
	CompanyName         string             `json:"company_name"`
	FinalScore          float64            `json:"final_score"`
	EmbeddingSimilarity float64            `json:"embedding_similarity"`
	IndustryGeoScore    float64            `json:"industry_geo_score"`
	ApolloScore         float64            `json:"apollo_score"`
	MLScore             float64            `json:"ml_score"`
	Reason              string             `json:"reason"`
	RuleFeatures        map[string]float64 `json:"-"`
}

// Engine ranks a candidate pool against a query vector. Candidates are
// sharded across workers, each computing a partial top-K, merged with a final
// sort. Sharding is an internal optimization and never changes the ranking.
type Engine struct {
	vectors VectorSource
	signals []Signal
	workers int
	topK    int
}

func NewEngine(vectors VectorSource, workers, topK int) *Engine {
	return NewEngineWithSignals(vectors, DefaultSignals(), workers, topK)
}

// NewEngineWithSignals builds an engine with a custom signal list. The blend
// and the reason selection follow the list, so callers can extend the ranking
// without touching the engine.
func NewEngineWithSignals(vectors VectorSource, signals []Signal, workers, topK int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		vectors: vectors,
		signals: signals,
		workers: workers,
		topK:    topK,
	}
}

// Score ranks candidates descending by final score, ties broken by ascending
// company key. The returned flag is true when the context expired before all
// candidates were scored; the ranking then covers only the scored subset.
func (e *Engine) Score(ctx context.Context, queryVector []float32, q models.MatchQuery, candidates []models.CandidateProfile, model MLModel) ([]ScoredCandidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	workers := e.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}

	shardSize := (len(candidates) + workers - 1) / workers
	shards := make([][]ScoredCandidate, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * shardSize
		end := start + shardSize
		if end > len(candidates) {
			end = len(candidates)
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(w int, chunk []models.CandidateProfile) {
			defer wg.Done()
			shards[w] = e.scoreShard(ctx, queryVector, q, chunk, model)
		}(w, candidates[start:end])
	}
	wg.Wait()

	var scored []ScoredCandidate
	for _, shard := range shards {
		scored = append(scored, shard...)
	}

	// Shards trim to their local top-K, so a full run still yields at least
	// topK rows when the pool has them; fewer than that after a deadline hit
	// means the ranking is best-effort.
	partial := ctx.Err() != nil

	sortRanking(scored)

	if len(scored) > e.topK {
		scored = scored[:e.topK]
	}

	return scored, partial
}

// scoreShard scores one chunk, keeping only its local top-K to bound the
// merge. It stops early when the context expires.
func (e *Engine) scoreShard(ctx context.Context, queryVector []float32, q models.MatchQuery, chunk []models.CandidateProfile, model MLModel) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(chunk))

	for i := range chunk {
		if ctx.Err() != nil {
			break
		}
		scored = append(scored, e.scoreOne(queryVector, q, &chunk[i], model))
	}

	if len(scored) > e.topK {
		sortRanking(scored)
		scored = scored[:e.topK]
	}
	return scored
}

func (e *Engine) scoreOne(queryVector []float32, q models.MatchQuery, c *models.CandidateProfile, model MLModel) ScoredCandidate {
	vec, _ := e.vectors.Vector(c.CompanyKey)
	ruleFeatures := RuleFeatures(q, *c)

	in := SignalInput{
		Query:           q,
		Candidate:       c,
		QueryVector:     queryVector,
		CandidateVector: vec,
		Model:           model,
		Computed:        make(map[string]float64, len(ruleFeatures)+len(e.signals)),
	}
	for k, v := range ruleFeatures {
		in.Computed[k] = v
	}

	var final float64
	for _, s := range e.signals {
		v := s.Score(in)
		in.Computed[s.Name()] = v
		final += s.Weight() * v
	}

	return ScoredCandidate{
		CompanyKey:          c.CompanyKey,
		CompanyName:         c.CompanyName,
		FinalScore:          final,
		EmbeddingSimilarity: in.Computed[SignalEmbedding],
		IndustryGeoScore:    in.Computed[SignalIndustryGeo],
		ApolloScore:         in.Computed[SignalApollo],
		MLScore:             in.Computed[SignalML],
		Reason:              reasonFor(e.signals, in.Computed),
		RuleFeatures:        ruleFeatures,
	}
}

func sortRanking(scored []ScoredCandidate) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].CompanyKey < scored[j].CompanyKey
	})
}
