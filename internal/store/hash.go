package store

import (
	"crypto/sha256"
	"fmt"
)

// HashSource returns the hex sha256 of a program text. Runs and function
// catalogs are keyed by it, so reloading an unchanged file reuses the same
// source row.
func HashSource(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
