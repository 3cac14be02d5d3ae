package embedding

import (
	"fmt"
	"sync"
)

// Arena holds candidate vectors in one contiguous block for the scoring hot
// path. Vectors are indexed by position; the key map resolves company keys to
// positions. Reads are lock-free relative to each other.
type Arena struct {
	dim int

	mu      sync.RWMutex
	vectors []float32
	keys    []string
	index   map[string]int
}

func NewArena(dim int) *Arena {
	return &Arena{
		dim:   dim,
		index: make(map[string]int),
	}
}

func (a *Arena) Dimension() int {
	return a.dim
}

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

// Add stores or replaces the vector for a company key.
func (a *Arena) Add(companyKey string, vector []float32) error {
	if len(vector) != a.dim {
		return fmt.Errorf("vector dimension mismatch for %s: got %d, want %d", companyKey, len(vector), a.dim)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if pos, ok := a.index[companyKey]; ok {
		copy(a.vectors[pos*a.dim:(pos+1)*a.dim], vector)
		return nil
	}

	a.index[companyKey] = len(a.keys)
	a.keys = append(a.keys, companyKey)
	a.vectors = append(a.vectors, vector...)
	return nil
}

// Vector returns the stored vector for a company key. The returned slice
// aliases arena memory and must not be modified.
func (a *Arena) Vector(companyKey string) ([]float32, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pos, ok := a.index[companyKey]
	if !ok {
		return nil, false
	}
	return a.vectors[pos*a.dim : (pos+1)*a.dim], true
}
