// Package narration holds produced narrations between the analysis step and
// the speech worker: the record type, the bounded queue, and the dedup gate
// that decides what gets into the queue.
package narration

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Record is one narration produced by the generator.
type Record struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Key        scene.Key `json:"key"`
	Urgent     bool      `json:"urgent"`
	ProducedAt time.Time `json:"produced_at"`
}

// NewRecord creates a record with a fresh ID.
func NewRecord(text string, key scene.Key, urgent bool, at time.Time) Record {
	return Record{
		ID:         uuid.NewString(),
		Text:       text,
		Key:        key,
		Urgent:     urgent,
		ProducedAt: at,
	}
}
