package metrics

import (
	"context"

	"codeberg.org/mutker/sensordash/internal/sample"
)

// Recorder archives dispatched samples. It is write-only: nothing is ever
// read back into the live history.
type Recorder interface {
	Record(ctx context.Context, s *sample.Sample) error
	Close() error
}

// Repository is a storage backend behind a Recorder.
type Repository interface {
	Record(s *sample.Sample) error
	Close() error
}
