package domain

import (
	"fmt"
	"strings"
)

// ValidateChunking checks chunker parameters: chunkSize must be positive
// and 0 <= overlap < chunkSize.
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("%w: overlap %d must satisfy 0 <= overlap < chunk size %d",
			ErrInvalidConfig, overlap, chunkSize)
	}
	return nil
}

// ValidateQuery rejects empty or whitespace-only queries.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidConfig)
	}
	return nil
}
