package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/pkg/logger"
)

// LoadArena pulls every stored vector into a fresh arena. Entries with the
// wrong dimension are skipped with a warning; they will be regenerated by the
// next batch run.
func LoadArena(ctx context.Context, store VectorStore, dim int) (*Arena, error) {
	arena := NewArena(dim)

	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored embeddings: %w", err)
	}

	var skipped int
	for _, key := range keys {
		entry, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding %s: %w", key, err)
		}
		if !ok {
			continue
		}

		if err := arena.Add(entry.CompanyKey, entry.Vector); err != nil {
			logger.Warn("Skipping stored embedding", zap.String("company_key", key), zap.Error(err))
			skipped++
		}
	}

	logger.Info("Embedding arena loaded",
		zap.Int("vectors", arena.Len()),
		zap.Int("skipped", skipped),
	)

	return arena, nil
}

// ArenaHandle lets long-lived readers follow arena swaps after a reload
// without restarting.
type ArenaHandle struct {
	current atomic.Pointer[Arena]
}

func NewArenaHandle(arena *Arena) *ArenaHandle {
	h := &ArenaHandle{}
	h.current.Store(arena)
	return h
}

func (h *ArenaHandle) Vector(companyKey string) ([]float32, bool) {
	return h.current.Load().Vector(companyKey)
}

func (h *ArenaHandle) Len() int {
	return h.current.Load().Len()
}

func (h *ArenaHandle) Swap(arena *Arena) {
	h.current.Store(arena)
}

// ReloadEvery rebuilds the arena from the store on a fixed interval until the
// context is cancelled. Reload failures keep the previous arena.
func (h *ArenaHandle) ReloadEvery(ctx context.Context, store VectorStore, dim int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			arena, err := LoadArena(ctx, store, dim)
			if err != nil {
				logger.Warn("Arena reload failed, keeping previous vectors", zap.Error(err))
				continue
			}
			h.Swap(arena)
		}
	}
}
