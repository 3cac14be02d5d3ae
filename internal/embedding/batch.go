package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
	"github.com/thera-pipeline/matcher/pkg/utils"
)

const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// BatchResult summarizes one refresh run. Skipped covers both unchanged
// content and items dropped by an exhausted budget; Failed items exhausted
// their retries but never abort the run.
type BatchResult struct {
	Processed int     `json:"processed"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Calls     int     `json:"calls"`
	Cost      float64 `json:"cost"`
	Status    string  `json:"status"`
}

// Generator refreshes stored candidate vectors from the profile catalog.
type Generator struct {
	provider Provider
	store    VectorStore
	workers  int
}

func NewGenerator(provider Provider, store VectorStore, workers int) *Generator {
	if workers <= 0 {
		workers = 4
	}
	return &Generator{
		provider: provider,
		store:    store,
		workers:  workers,
	}
}

// Refresh embeds every profile whose content hash differs from the stored one,
// within the budget. Unchanged profiles cost zero provider calls.
func (g *Generator) Refresh(ctx context.Context, profiles []models.CandidateProfile, budget *Budget) (*BatchResult, error) {
	var processed, skipped, failed atomic.Int64

	jobs := make(chan models.CandidateProfile)
	var wg sync.WaitGroup

	for i := 0; i < g.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				switch g.refreshOne(ctx, p, budget) {
				case outcomeProcessed:
					processed.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				case outcomeFailed:
					failed.Add(1)
				}
			}
		}()
	}

	for _, p := range profiles {
		select {
		case <-ctx.Done():
			// Drain: remaining items count as skipped so totals still add up.
			skipped.Add(1)
		case jobs <- p:
		}
	}
	close(jobs)
	wg.Wait()

	status := StatusComplete
	if budget.Exhausted() || ctx.Err() != nil {
		status = StatusPartial
	}

	result := &BatchResult{
		Processed: int(processed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
		Calls:     budget.Calls(),
		Cost:      budget.Cost(),
		Status:    status,
	}

	logger.Info("Embedding batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Float64("cost", result.Cost),
		zap.String("status", result.Status),
	)

	return result, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (g *Generator) refreshOne(ctx context.Context, p models.CandidateProfile, budget *Budget) outcome {
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	if !budget.TryItem() {
		return outcomeSkipped
	}

	contentHash := p.ContentHash
	if contentHash == "" {
		contentHash = utils.HashText(p.ProfileText)
	}

	stored, ok, err := g.store.GetHash(ctx, p.CompanyKey)
	if err != nil {
		logger.Warn("Failed to read stored hash",
			zap.String("company_key", p.CompanyKey),
			zap.Error(err),
		)
	}
	if ok && stored == contentHash {
		return outcomeSkipped
	}

	if !budget.TryAcquire() {
		return outcomeSkipped
	}

	vector, err := g.provider.Embed(ctx, p.ProfileText)
	if err != nil {
		logger.Warn("Failed to embed profile",
			zap.String("company_key", p.CompanyKey),
			zap.Error(err),
		)
		return outcomeFailed
	}

	entry := Entry{
		CompanyKey:  p.CompanyKey,
		ContentHash: contentHash,
		Vector:      vector,
		GeneratedAt: time.Now().UTC(),
	}

	if err := g.store.Put(ctx, entry); err != nil {
		logger.Warn("Failed to store embedding",
			zap.String("company_key", p.CompanyKey),
			zap.Error(err),
		)
		return outcomeFailed
	}

	return outcomeProcessed
}
