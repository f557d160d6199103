package enrichment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

// DefaultTopicFormat embeds the selected project in the occasion text
const DefaultTopicFormat = "Projektbesprechung %s"

// TopicStepName names the topic step in histories and random sources
const TopicStepName = "topic"

// TopicStep sets the record's topic from a project drawn from the registry.
// Unlike the tip, an existing topic is always overwritten.
type TopicStep struct {
	registry *attendee.Registry
	rng      *rand.Rand
	format   string
	index    *int
}

// NewTopicStep creates a topic step. A nil index selects a random project.
func NewTopicStep(registry *attendee.Registry, rng *rand.Rand, format string, index *int) *TopicStep {
	if format == "" {
		format = DefaultTopicFormat
	}
	if !strings.Contains(format, "%s") {
		format += " %s"
	}
	return &TopicStep{registry: registry, rng: rng, format: format, index: index}
}

func (s *TopicStep) Name() string { return TopicStepName }

func (s *TopicStep) Trigger() workflow.Trigger { return workflow.TriggerAssignTopic }

// Apply returns the record with its topic assigned
func (s *TopicStep) Apply(_ context.Context, record entity.BillingRecord) (entity.BillingRecord, error) {
	project, err := s.registry.SelectTopic(s.rng, s.index)
	if err != nil {
		return entity.BillingRecord{}, fmt.Errorf("failed to select topic: %w", err)
	}

	topic := fmt.Sprintf(s.format, project)
	next := record.Clone()
	next.Topic = &topic
	return next, nil
}
