// Package metrics defines the render observability contract. The manager
// invokes the recorder once per render call; implementations decide what to
// do with the samples.
package metrics

import (
	"context"
	"time"

	"github.com/conneroisu/promptweave/internal/logging"
)

// Recorder receives one sample per render.
type Recorder interface {
	RecordRender(name string, duration time.Duration, success bool)
}

// Noop discards every sample. Used when no recorder is configured.
type Noop struct{}

// RecordRender implements Recorder.
func (Noop) RecordRender(string, time.Duration, bool) {}

// SlogRecorder logs each render at debug level.
type SlogRecorder struct {
	logger logging.Logger
}

// NewSlogRecorder creates a recorder that logs render samples.
func NewSlogRecorder(logger logging.Logger) *SlogRecorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SlogRecorder{logger: logger.WithComponent("metrics")}
}

// RecordRender implements Recorder.
func (r *SlogRecorder) RecordRender(name string, duration time.Duration, success bool) {
	r.logger.Debug(context.Background(), "render",
		"prompt", name,
		"duration_us", duration.Microseconds(),
		"success", success,
	)
}
