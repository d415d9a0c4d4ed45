// Package jobs generates and validates batch identifiers.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// BatchPrefix prefixes every batch ID.
const BatchPrefix = "batch-"

// GenerateID creates a new cryptographically random ID with the given prefix.
// The prefix should include a trailing dash, e.g. "batch-".
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NewBatchID returns a fresh batch ID.
func NewBatchID() string {
	return GenerateID(BatchPrefix)
}

// ValidBatchID reports whether id has the shape produced by NewBatchID.
func ValidBatchID(id string) bool {
	hexPart, ok := strings.CutPrefix(id, BatchPrefix)
	if !ok || len(hexPart) != 32 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
