package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/pkg/circuitbreaker"
	"github.com/thera-pipeline/matcher/pkg/logger"
	"github.com/thera-pipeline/matcher/pkg/retry"
)

// Provider turns text into a fixed-dimension vector. Implementations must be
// safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	dim         int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAIProvider(apiKey, model string, dim int, timeout time.Duration, maxAttempts int) *OpenAIProvider {
	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    maxAttempts,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding provider initialized",
		zap.String("model", model),
		zap.Int("dimension", dim),
	)

	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		model:       model,
		dim:         dim,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dim
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, retry.Permanent(fmt.Errorf("cannot embed empty text"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var embedding []float32

	err := p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			resp, err := p.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(p.model),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response contained no data")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	if len(embedding) != p.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), p.dim)
	}

	return embedding, nil
}
