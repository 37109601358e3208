package monitor

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// Server exposes the run store over HTTP.
type Server struct {
	store *RunStore
}

func NewServer(store *RunStore) *Server {
	return &Server{store: store}
}

// Register mounts the metrics API on the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/runs", s.handleCreateRun)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.POST("/v1/runs/:id/metrics", s.handleAppendSamples)
	e.GET("/v1/runs/:id/metrics/:name", s.handleGetSeries)
}

// CreateRunRequest starts tracking a run.
type CreateRunRequest struct {
	Model string `json:"model"`
}

// AppendSamplesRequest carries a batch of metric samples.
type AppendSamplesRequest struct {
	Samples []MetricSample `json:"samples"`
}

// MetricSample is one sample in transit.
type MetricSample struct {
	Metric string  `json:"metric"`
	Step   int     `json:"step"`
	Value  float64 `json:"value"`
}

// SeriesResponse returns a metric series.
type SeriesResponse struct {
	RunID   string   `json:"run_id"`
	Metric  string   `json:"metric"`
	Samples []Sample `json:"samples"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	req, err := decodeJSON[CreateRunRequest](c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if req.Model == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "model is required"})
	}
	run := s.store.Create(req.Model)
	return c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.store.List())
}

func (s *Server) handleGetRun(c *echo.Context) error {
	run, ok := s.store.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleAppendSamples(c *echo.Context) error {
	id := c.Param("id")
	req, err := decodeJSON[AppendSamplesRequest](c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if len(req.Samples) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "no samples"})
	}
	now := time.Now().UTC()
	for _, sample := range req.Samples {
		if sample.Metric == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "metric name is required"})
		}
		if err := s.store.Append(id, sample.Metric, Sample{Step: sample.Step, Value: sample.Value, At: now}); err != nil {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleGetSeries(c *echo.Context) error {
	id, name := c.Param("id"), c.Param("name")
	samples, err := s.store.Series(id, name)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, SeriesResponse{RunID: id, Metric: name, Samples: samples})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("invalid request body: %w", err)
	}
	return v, nil
}
