// Package blob persists audio chunks so transcription workers and the ASR
// providers can fetch them by URL. Objects are append-only: a pipeline run
// writes under its own run identifier and never overwrites earlier runs.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Store uploads named objects and returns a fetchable URL.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error)
}

// NewRunID returns a fresh identifier scoping one pipeline run's objects.
func NewRunID() string {
	return uuid.NewString()
}

// ChunkName builds the canonical object name for a chunk upload.
func ChunkName(episodeID int64, runID string, index int) string {
	return fmt.Sprintf("chunks/%d/%s/%03d.mp3", episodeID, runID, index)
}
