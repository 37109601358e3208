package monitor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Reporter ships metric samples to a monitor service. It satisfies the
// trainer's metric sink contract; delivery failures are logged and
// swallowed so a flaky monitor never interrupts training.
type Reporter struct {
	baseURL string
	runID   string
	client  *http.Client
	log     *slog.Logger
}

// NewReporter registers a run with the service at baseURL and returns a
// reporter bound to it.
func NewReporter(ctx context.Context, baseURL, model string, log *slog.Logger) (*Reporter, error) {
	if log == nil {
		log = slog.Default()
	}
	client := &http.Client{Timeout: 10 * time.Second}

	body, err := json.Marshal(CreateRunRequest{Model: model})
	if err != nil {
		return nil, fmt.Errorf("encoding run request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registering run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registering run: unexpected status %d", resp.StatusCode)
	}

	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding run response: %w", err)
	}

	return &Reporter{
		baseURL: baseURL,
		runID:   run.ID,
		client:  client,
		log:     log,
	}, nil
}

// RunID returns the identifier assigned by the service.
func (r *Reporter) RunID() string { return r.runID }

// Record posts one metric sample. Errors are logged, not returned.
func (r *Reporter) Record(name string, step int, value float64) {
	body, err := json.Marshal(AppendSamplesRequest{
		Samples: []MetricSample{{Metric: name, Step: step, Value: value}},
	})
	if err != nil {
		r.log.Warn("failed to encode metric sample", "metric", name, "error", err)
		return
	}

	url := fmt.Sprintf("%s/v1/runs/%s/metrics", r.baseURL, r.runID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.log.Warn("failed to build metric request", "metric", name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("failed to deliver metric sample", "metric", name, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		r.log.Warn("monitor rejected metric sample", "metric", name, "status", resp.StatusCode)
	}
}
