package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashText produces the content-hash token used for embedding change
// detection. The same text always maps to the same token.
func HashText(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash[:16])
}
