package scoring

import (
	"fmt"
	"math"
)

// Signal weights for the final blended score. Tuning happens here, never
// inline in scoring logic.
const (
	WeightEmbedding   = 0.6
	WeightIndustryGeo = 0.2
	WeightApollo      = 0.1
	WeightML          = 0.1
)

// ValidateWeights guards against a weight edit that no longer sums to 1.
// Called once at startup, over the production signal list.
func ValidateWeights() error {
	return ValidateSignalWeights(DefaultSignals())
}

// ValidateSignalWeights checks that a signal list's weights sum to 1, so a
// custom blend keeps final scores in [0,1].
func ValidateSignalWeights(signals []Signal) error {
	var sum float64
	for _, s := range signals {
		sum += s.Weight()
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %v", sum)
	}
	return nil
}
