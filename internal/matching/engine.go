package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/embedding"
	"github.com/thera-pipeline/matcher/internal/metrics"
	"github.com/thera-pipeline/matcher/internal/model"
	"github.com/thera-pipeline/matcher/internal/retrieval"
	"github.com/thera-pipeline/matcher/internal/scoring"
	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

const (
	StatusOK           = "ok"
	StatusPartial      = "partial"
	StatusNoCandidates = "no_candidates"
)

// EventLog is the append-only audit sink for scored pairs.
type EventLog interface {
	AppendMatchEvents(ctx context.Context, events []models.MatchEvent) error
}

type MatchResponse struct {
	ChallengeID string                    `json:"challenge_id"`
	Results     []scoring.ScoredCandidate `json:"results"`
	Status      string                    `json:"status"`
	LatencyMS   int64                     `json:"latency_ms"`
}

// Engine runs one match query end to end: embed, retrieve, score, audit.
type Engine struct {
	provider  embedding.Provider
	retriever *retrieval.Retriever
	scorer    *scoring.Engine
	artifacts model.ArtifactStore
	events    EventLog
	deadline  time.Duration

	// The promoted model is re-resolved lazily so queries never wait on the
	// artifact store more than once per refresh window.
	modelMu        sync.Mutex
	cachedModel    *model.Model
	modelFetchedAt time.Time
	modelTTL       time.Duration
}

func NewEngine(provider embedding.Provider, retriever *retrieval.Retriever, scorer *scoring.Engine, artifacts model.ArtifactStore, events EventLog, deadline time.Duration) *Engine {
	return &Engine{
		provider:  provider,
		retriever: retriever,
		scorer:    scorer,
		artifacts: artifacts,
		events:    events,
		deadline:  deadline,
		modelTTL:  5 * time.Minute,
	}
}

// Match executes a query under the engine deadline. It fails open on a
// missing model and reports partial rankings instead of erroring on timeout.
func (e *Engine) Match(ctx context.Context, q models.MatchQuery) (*MatchResponse, error) {
	start := time.Now()
	challengeID := uuid.New().String()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	queryVector, err := e.provider.Embed(ctx, q.QueryText)
	if err != nil {
		if ctx.Err() != nil {
			return e.deadlineResponse(challengeID, start, "embed"), nil
		}
		return nil, err
	}

	pool, err := e.retriever.Retrieve(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return e.deadlineResponse(challengeID, start, "retrieve"), nil
		}
		return nil, err
	}

	metrics.CandidatePoolSize.Observe(float64(len(pool.Candidates)))

	resp := &MatchResponse{ChallengeID: challengeID}

	if len(pool.Candidates) == 0 {
		resp.Status = StatusNoCandidates
		resp.LatencyMS = time.Since(start).Milliseconds()
		logger.Info("Match query returned no candidates",
			zap.String("challenge_id", challengeID),
			zap.String("stage", pool.Stage),
		)
		return resp, nil
	}

	mdl := e.currentModel(ctx)

	results, partial := e.scorer.Score(ctx, queryVector, q, pool.Candidates, mdl)
	resp.Results = results
	resp.Status = StatusOK
	if partial {
		resp.Status = StatusPartial
	}
	resp.LatencyMS = time.Since(start).Milliseconds()

	e.appendEvents(challengeID, results)

	logger.Info("Match query completed",
		zap.String("challenge_id", challengeID),
		zap.String("status", resp.Status),
		zap.Int("candidates", len(pool.Candidates)),
		zap.Int("results", len(results)),
		zap.Int64("latency_ms", resp.LatencyMS),
	)

	return resp, nil
}

// deadlineResponse is the best-effort answer when the deadline expires before
// any candidate could be scored. A timeout degrades the ranking, it never
// turns into a query error.
func (e *Engine) deadlineResponse(challengeID string, start time.Time, phase string) *MatchResponse {
	logger.Warn("Match deadline expired before scoring",
		zap.String("challenge_id", challengeID),
		zap.String("phase", phase),
	)
	return &MatchResponse{
		ChallengeID: challengeID,
		Results:     []scoring.ScoredCandidate{},
		Status:      StatusPartial,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
}

// currentModel returns the promoted model or nil. Every failure path is a
// warning, never a query error.
func (e *Engine) currentModel(ctx context.Context) scoring.MLModel {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()

	if e.cachedModel != nil && time.Since(e.modelFetchedAt) < e.modelTTL {
		return e.cachedModel
	}

	m, err := model.Current(ctx, e.artifacts)
	if err != nil {
		if !errors.Is(err, model.ErrNoModel) {
			logger.Warn("Failed to load current model, serving neutral score", zap.Error(err))
		}
		// Keep a stale model over no model at all.
		if e.cachedModel != nil {
			return e.cachedModel
		}
		return nil
	}

	e.cachedModel = m
	e.modelFetchedAt = time.Now()
	return m
}

// appendEvents writes audit events outside the query deadline. Audit failure
// is logged, never propagated to the caller.
func (e *Engine) appendEvents(challengeID string, results []scoring.ScoredCandidate) {
	if len(results) == 0 {
		return
	}

	now := time.Now().UTC()
	events := make([]models.MatchEvent, len(results))
	for i, r := range results {
		events[i] = models.MatchEvent{
			EventID:             uuid.New().String(),
			ChallengeID:         challengeID,
			CompanyKey:          r.CompanyKey,
			EmbeddingSimilarity: r.EmbeddingSimilarity,
			IndustryGeoScore:    r.IndustryGeoScore,
			ApolloScore:         r.ApolloScore,
			MLScore:             r.MLScore,
			FinalScore:          r.FinalScore,
			RuleFeatures:        r.RuleFeatures,
			Reason:              r.Reason,
			EventTimestamp:      now,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.events.AppendMatchEvents(ctx, events); err != nil {
		logger.Error("Failed to append match events",
			zap.String("challenge_id", challengeID),
			zap.Error(err),
		)
	}
}
