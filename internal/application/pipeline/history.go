package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

// Entry is one appended record version together with the step that produced it
type Entry struct {
	Step     string
	Record   entity.BillingRecord
	Duration time.Duration
}

// History is the append-only sequence of record versions produced by one run.
// It is owned by a single run and is not safe for concurrent use.
type History struct {
	entries []Entry
}

// NewHistory returns an empty history
func NewHistory() *History {
	return &History{}
}

// HistoryFromEntries rebuilds a history, e.g. from persisted snapshots
func HistoryFromEntries(entries []Entry) *History {
	h := NewHistory()
	for _, e := range entries {
		h.append(e.Step, e.Record, e.Duration)
	}
	return h
}

// Append adds a record version produced outside the runner
func (h *History) Append(record entity.BillingRecord) {
	h.append("", record, 0)
}

func (h *History) append(step string, record entity.BillingRecord, d time.Duration) {
	h.entries = append(h.entries, Entry{Step: step, Record: record.Clone(), Duration: d})
}

// Current returns the most recently appended record
func (h *History) Current() (entity.BillingRecord, error) {
	if len(h.entries) == 0 {
		return entity.BillingRecord{}, ErrEmptyHistory
	}
	return h.entries[len(h.entries)-1].Record.Clone(), nil
}

// All returns every record version in append order
func (h *History) All() []entity.BillingRecord {
	records := make([]entity.BillingRecord, 0, len(h.entries))
	for _, e := range h.entries {
		records = append(records, e.Record.Clone())
	}
	return records
}

// Entries returns the versions with their step names and durations
func (h *History) Entries() []Entry {
	entries := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, Entry{Step: e.Step, Record: e.Record.Clone(), Duration: e.Duration})
	}
	return entries
}

// Len returns the number of versions
func (h *History) Len() int {
	return len(h.entries)
}

// Timing is the duration recorded for one step
type Timing struct {
	Step     string        `json:"step"`
	Duration time.Duration `json:"duration_ns"`
}

// Timings returns the per-step durations in append order
func (h *History) Timings() []Timing {
	timings := make([]Timing, 0, len(h.entries))
	for _, e := range h.entries {
		timings = append(timings, Timing{Step: e.Step, Duration: e.Duration})
	}
	return timings
}

// TotalDuration sums the recorded step durations
func (h *History) TotalDuration() time.Duration {
	var total time.Duration
	for _, e := range h.entries {
		total += e.Duration
	}
	return total
}

// EncodeAll serializes every version as {"data_sets": [...]} for audit
func (h *History) EncodeAll() ([]byte, error) {
	data, err := json.MarshalIndent(struct {
		DataSets []entity.BillingRecord `json:"data_sets"`
	}{DataSets: h.All()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return data, nil
}

// EncodeCurrentYAML serializes the final version as YAML for the user-facing artifact
func (h *History) EncodeCurrentYAML() ([]byte, error) {
	current, err := h.Current()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(current); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}
