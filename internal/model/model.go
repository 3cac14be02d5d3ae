package model

import (
	"math"
	"time"
)

// FeatureOrder fixes the position of every model feature. Inference and
// training both iterate in this order; changing it invalidates stored
// coefficient vectors.
var FeatureOrder = []string{
	"embedding_similarity",
	"industry_geo_score",
	"apollo_score",
	"industry_match",
	"geo_match",
	"domain_health_score",
	"content_richness_score",
}

// Model is the persisted logistic regression artifact.
type Model struct {
	ModelVersion string    `json:"model_version"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	FeatureOrder []string  `json:"feature_order"`
	TrainedAt    time.Time `json:"trained_at"`
	AUC          float64   `json:"auc"`
	PRAUC        float64   `json:"pr_auc"`
	TrainingRows int       `json:"training_rows"`
	TestRows     int       `json:"test_rows"`
}

// Predict runs sigmoid(w·x + b), walking FeatureOrder strictly. Features
// missing from the map contribute 0.
func (m *Model) Predict(features map[string]float64) float64 {
	z := m.Intercept
	for i, name := range m.FeatureOrder {
		if i >= len(m.Coefficients) {
			break
		}
		z += m.Coefficients[i] * features[name]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
