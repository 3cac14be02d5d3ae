package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

// ProfileCatalog is the read side of the candidate catalog.
type ProfileCatalog interface {
	QueryProfiles(ctx context.Context, f models.ProfileFilter, limit int) ([]models.CandidateProfile, error)
}

// Retriever selects the candidate pool for a query, relaxing filters in a
// fixed order until the pool is large enough.
type Retriever struct {
	catalog       ProfileCatalog
	maxCandidates int
	minCandidates int
}

func NewRetriever(catalog ProfileCatalog, maxCandidates, minCandidates int) *Retriever {
	return &Retriever{
		catalog:       catalog,
		maxCandidates: maxCandidates,
		minCandidates: minCandidates,
	}
}

// Result carries the pool together with the filter stage that produced it.
type Result struct {
	Candidates []models.CandidateProfile
	Stage      string
}

// Retrieve walks the relaxation ladder: both filters, drop country, then drop
// industry as well. The first stage yielding at least the minimum pool size
// wins; stages identical to an earlier one are not repeated.
func (r *Retriever) Retrieve(ctx context.Context, q models.MatchQuery) (*Result, error) {
	stages := relaxationStages(q)

	var last *Result
	for _, s := range stages {
		candidates, err := r.catalog.QueryProfiles(ctx, s.filter, r.maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve candidates at stage %s: %w", s.name, err)
		}

		last = &Result{Candidates: candidates, Stage: s.name}
		if len(candidates) >= r.minCandidates {
			break
		}

		logger.Debug("Relaxing retrieval filters",
			zap.String("stage", s.name),
			zap.Int("candidates", len(candidates)),
			zap.Int("min", r.minCandidates),
		)
	}

	logger.Info("Candidate pool retrieved",
		zap.String("stage", last.Stage),
		zap.Int("candidates", len(last.Candidates)),
	)

	return last, nil
}

type stage struct {
	name   string
	filter models.ProfileFilter
}

func relaxationStages(q models.MatchQuery) []stage {
	var stages []stage

	add := func(name string, f models.ProfileFilter) {
		for _, s := range stages {
			if s.filter == f {
				return
			}
		}
		stages = append(stages, stage{name: name, filter: f})
	}

	add("strict", models.ProfileFilter{Industry: q.Industry, Country: q.Country})
	add("no_country", models.ProfileFilter{Industry: q.Industry})
	add("unfiltered", models.ProfileFilter{})

	return stages
}
