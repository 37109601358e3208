package monitor

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v5"
)

func newTestServer(t *testing.T) (*httptest.Server, *RunStore) {
	t.Helper()
	store := NewRunStore()
	e := echo.New()
	NewServer(store).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestRunStore(t *testing.T) {
	store := NewRunStore()

	run := store.Create("pim-small")
	if run.ID == "" {
		t.Fatal("run ID is empty")
	}
	if _, ok := store.Get(run.ID); !ok {
		t.Fatal("created run not found")
	}

	if err := store.Append(run.ID, "train/loss", Sample{Step: 1, Value: 2.5}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append("run_missing", "train/loss", Sample{}); err == nil {
		t.Error("expected error for unknown run")
	}

	series, err := store.Series(run.ID, "train/loss")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(series) != 1 || series[0].Value != 2.5 {
		t.Errorf("unexpected series %+v", series)
	}

	names, err := store.MetricNames(run.ID)
	if err != nil {
		t.Fatalf("MetricNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "train/loss" {
		t.Errorf("unexpected metric names %v", names)
	}

	second := store.Create("other")
	runs := store.List()
	if len(runs) != 2 || runs[0].ID != run.ID || runs[1].ID != second.ID {
		t.Errorf("unexpected run list %+v", runs)
	}
}

func TestReporterAgainstServer(t *testing.T) {
	srv, store := newTestServer(t)

	rep, err := NewReporter(context.Background(), srv.URL, "pim-small", nil)
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}
	if rep.RunID() == "" {
		t.Fatal("reporter has no run ID")
	}
	if _, ok := store.Get(rep.RunID()); !ok {
		t.Fatal("reporter run not registered in store")
	}

	rep.Record("train/loss", 1, 3.2)
	rep.Record("train/loss", 2, 2.9)
	rep.Record("val/acc", 2, 0.41)

	series, err := store.Series(rep.RunID(), "train/loss")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(series))
	}
	if series[0].Step != 1 || series[1].Step != 2 {
		t.Errorf("unexpected steps %+v", series)
	}

	acc, err := store.Series(rep.RunID(), "val/acc")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(acc) != 1 || acc[0].Value != 0.41 {
		t.Errorf("unexpected accuracy series %+v", acc)
	}
}

func TestReporterRejectsUnknownService(t *testing.T) {
	if _, err := NewReporter(context.Background(), "http://127.0.0.1:1", "m", nil); err == nil {
		t.Error("expected error for unreachable service")
	}
}
