// Package monitor provides a small metrics service for training runs: an
// HTTP server collecting metric samples per run and a client-side reporter
// the trainer plugs in as a metric sink.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sample is one recorded metric value.
type Sample struct {
	Step  int       `json:"step"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Run is one tracked training run.
type Run struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

// RunStore keeps runs and their metric series in memory.
type RunStore struct {
	mu      sync.Mutex
	runs    map[string]*Run
	order   []string
	metrics map[string]map[string][]Sample // run ID -> metric name -> series
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]*Run),
		metrics: make(map[string]map[string][]Sample),
	}
}

// Create registers a new run for the named model and returns it.
func (s *RunStore) Create(model string) Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        "run_" + uuid.NewString(),
		Model:     model,
		StartedAt: time.Now().UTC(),
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.metrics[run.ID] = make(map[string][]Sample)
	return *run
}

// Append records a sample under the run's metric series.
func (s *RunStore) Append(runID, metric string, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.metrics[runID]
	if !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	series[metric] = append(series[metric], sample)
	return nil
}

// Get returns a run by ID.
func (s *RunStore) Get(runID string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns all runs in creation order.
func (s *RunStore) List() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.runs[id])
	}
	return out
}

// Series returns the samples recorded for one metric of a run.
func (s *RunStore) Series(runID, metric string) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.metrics[runID]
	if !ok {
		return nil, fmt.Errorf("unknown run %q", runID)
	}
	return append([]Sample{}, series[metric]...), nil
}

// MetricNames returns the metric names a run has recorded.
func (s *RunStore) MetricNames(runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.metrics[runID]
	if !ok {
		return nil, fmt.Errorf("unknown run %q", runID)
	}
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	return names, nil
}
