package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

// ErrNotEnoughRows rejects training runs with too little labeled data to
// produce a trustworthy model.
var ErrNotEnoughRows = errors.New("not enough training rows")

type TrainerConfig struct {
	MinRows    int
	AUCEpsilon float64
	// TestFraction of rows held out for evaluation.
	TestFraction float64
	LearningRate float64
	Epochs       int
	Seed         int64
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		MinRows:      100,
		AUCEpsilon:   0.01,
		TestFraction: 0.2,
		LearningRate: 0.1,
		Epochs:       300,
		Seed:         42,
	}
}

// Trainer fits a logistic regression over labeled match events and decides
// promotion against the currently served version.
type Trainer struct {
	store ArtifactStore
	cfg   TrainerConfig
}

func NewTrainer(store ArtifactStore, cfg TrainerConfig) *Trainer {
	if cfg.MinRows <= 0 {
		cfg.MinRows = 100
	}
	if cfg.AUCEpsilon <= 0 {
		cfg.AUCEpsilon = 0.01
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 300
	}
	return &Trainer{store: store, cfg: cfg}
}

// Train fits a new model on the rows and evaluates it on a held-out split.
// It does not persist or promote anything.
func (t *Trainer) Train(rows []models.TrainingRow) (*Model, error) {
	if len(rows) < t.cfg.MinRows {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughRows, len(rows), t.cfg.MinRows)
	}

	features := make([][]float64, len(rows))
	labels := make([]float64, len(rows))
	for i, r := range rows {
		features[i] = featureVector(r)
		labels[i] = float64(r.Label)
	}

	// Deterministic shuffle so the split does not depend on row order.
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	perm := rng.Perm(len(rows))

	testSize := int(float64(len(rows)) * t.cfg.TestFraction)
	if testSize < 1 {
		testSize = 1
	}

	var trainX, testX [][]float64
	var trainY, testY []float64
	for i, p := range perm {
		if i < testSize {
			testX = append(testX, features[p])
			testY = append(testY, labels[p])
		} else {
			trainX = append(trainX, features[p])
			trainY = append(trainY, labels[p])
		}
	}

	coefficients, intercept := fitLogistic(trainX, trainY, t.cfg.LearningRate, t.cfg.Epochs)

	predictions := make([]float64, len(testX))
	for i, x := range testX {
		predictions[i] = sigmoid(dot(coefficients, x) + intercept)
	}

	m := &Model{
		ModelVersion: fmt.Sprintf("lr-%s-%s", time.Now().UTC().Format("20060102"), uuid.New().String()[:8]),
		Coefficients: coefficients,
		Intercept:    intercept,
		FeatureOrder: append([]string(nil), FeatureOrder...),
		TrainedAt:    time.Now().UTC(),
		AUC:          rocAUC(testY, predictions),
		PRAUC:        prAUC(testY, predictions),
		TrainingRows: len(trainX),
		TestRows:     len(testX),
	}

	logger.Info("Model trained",
		zap.String("version", m.ModelVersion),
		zap.Float64("auc", m.AUC),
		zap.Float64("pr_auc", m.PRAUC),
		zap.Int("training_rows", m.TrainingRows),
		zap.Int("test_rows", m.TestRows),
	)

	return m, nil
}

// TrainAndPromote trains, persists the artifact, then promotes it unless its
// AUC falls more than epsilon below the served version's AUC. The previous
// version keeps serving when the new one regresses.
func (t *Trainer) TrainAndPromote(ctx context.Context, rows []models.TrainingRow) (*Model, bool, error) {
	m, err := t.Train(rows)
	if err != nil {
		return nil, false, err
	}

	if err := t.store.PutModel(ctx, m); err != nil {
		return nil, false, err
	}

	promote, err := t.shouldPromote(ctx, m)
	if err != nil {
		return m, false, err
	}

	if !promote {
		return m, false, nil
	}

	if err := t.store.Promote(ctx, m.ModelVersion); err != nil {
		return m, false, err
	}
	return m, true, nil
}

func (t *Trainer) shouldPromote(ctx context.Context, candidate *Model) (bool, error) {
	current, err := Current(ctx, t.store)
	if errors.Is(err, ErrNoModel) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load current model for comparison: %w", err)
	}

	if candidate.AUC < current.AUC-t.cfg.AUCEpsilon {
		logger.Warn("Model promotion rejected: AUC regression",
			zap.String("candidate", candidate.ModelVersion),
			zap.Float64("candidate_auc", candidate.AUC),
			zap.String("current", current.ModelVersion),
			zap.Float64("current_auc", current.AUC),
		)
		return false, nil
	}
	return true, nil
}

func featureVector(r models.TrainingRow) []float64 {
	features := map[string]float64{
		"embedding_similarity":   r.Event.EmbeddingSimilarity,
		"industry_geo_score":     r.Event.IndustryGeoScore,
		"apollo_score":           r.Event.ApolloScore,
		"domain_health_score":    r.Candidate.DomainHealthScore,
		"content_richness_score": r.Candidate.ContentRichnessScore,
	}
	for k, v := range r.Event.RuleFeatures {
		features[k] = v
	}

	x := make([]float64, len(FeatureOrder))
	for i, name := range FeatureOrder {
		x[i] = features[name]
	}
	return x
}

// fitLogistic runs full-batch gradient descent on log loss.
func fitLogistic(x [][]float64, y []float64, lr float64, epochs int) ([]float64, float64) {
	if len(x) == 0 {
		return make([]float64, len(FeatureOrder)), 0
	}

	dim := len(x[0])
	w := make([]float64, dim)
	var b float64
	n := float64(len(x))

	for epoch := 0; epoch < epochs; epoch++ {
		grad := make([]float64, dim)
		var gradB float64

		for i := range x {
			p := sigmoid(dot(w, x[i]) + b)
			diff := p - y[i]
			for j := range w {
				grad[j] += diff * x[i][j]
			}
			gradB += diff
		}

		for j := range w {
			w[j] -= lr * grad[j] / n
		}
		b -= lr * gradB / n
	}

	return w, b
}

func dot(w, x []float64) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

// rocAUC is the Mann-Whitney estimate: the probability a random positive
// scores above a random negative, with ties counted half.
func rocAUC(labels, scores []float64) float64 {
	var positives, negatives int
	for _, l := range labels {
		if l > 0.5 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}

	var sum float64
	for i, li := range labels {
		if li <= 0.5 {
			continue
		}
		for j, lj := range labels {
			if lj > 0.5 {
				continue
			}
			switch {
			case scores[i] > scores[j]:
				sum += 1
			case scores[i] == scores[j]:
				sum += 0.5
			}
		}
	}

	return sum / float64(positives*negatives)
}

// prAUC is average precision over the ranked test set.
func prAUC(labels, scores []float64) float64 {
	type pair struct {
		score float64
		label float64
	}

	pairs := make([]pair, len(labels))
	for i := range labels {
		pairs[i] = pair{score: scores[i], label: labels[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	var positives int
	for _, p := range pairs {
		if p.label > 0.5 {
			positives++
		}
	}
	if positives == 0 {
		return 0
	}

	var truePositives int
	var sum float64
	for i, p := range pairs {
		if p.label > 0.5 {
			truePositives++
			sum += float64(truePositives) / float64(i+1)
		}
	}

	return sum / float64(positives)
}
