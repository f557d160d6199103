// Package enrichment holds the deterministic steps applied to a billing
// record after extraction.
package enrichment

import (
	"github.com/garyjia/receipt-pipeline/internal/application/pipeline"
	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
)

// Config holds the tunable business rules of the enrichment steps
type Config struct {
	TipRate     float64
	TopicFormat string
	TopicIndex  *int
}

// DefaultConfig returns the standard enrichment rules
func DefaultConfig() Config {
	return Config{
		TipRate:     DefaultTipRate,
		TopicFormat: DefaultTopicFormat,
	}
}

// Steps returns tip, topic and attendee steps in pipeline order. Each random
// step gets its own generator from src, which belongs to a single run.
func Steps(cfg Config, registry *attendee.Registry, src attendee.RandSource) []pipeline.Step {
	return []pipeline.Step{
		NewTipStep(cfg.TipRate),
		NewTopicStep(registry, src.For(TopicStepName), cfg.TopicFormat, cfg.TopicIndex),
		NewAttendeeStep(registry, src.For(AttendeeStepName)),
	}
}
