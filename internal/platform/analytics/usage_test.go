package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestQueryTracker_RecordExecution(t *testing.T) {
	qt := NewQueryTracker()
	qt.Record(QueryMetric{Operation: "patient-count", Duration: 10 * time.Millisecond, Rows: 1})
	qt.Record(QueryMetric{Operation: "patient-count", Duration: 30 * time.Millisecond, Rows: 1})

	s := qt.GetOperationStats("patient-count")
	if s == nil {
		t.Fatal("expected stats for patient-count")
	}
	if s.Executions != 2 {
		t.Errorf("expected 2 executions, got %d", s.Executions)
	}
	if s.AvgLatency != 20*time.Millisecond {
		t.Errorf("expected avg latency 20ms, got %s", s.AvgLatency)
	}
	if s.LastLatency != 30*time.Millisecond {
		t.Errorf("expected last latency 30ms, got %s", s.LastLatency)
	}
}

func TestQueryTracker_FailuresAndCacheHits(t *testing.T) {
	qt := NewQueryTracker()
	qt.Record(QueryMetric{Operation: "top-conditions", Failed: true})
	qt.Record(QueryMetric{Operation: "top-conditions"})
	qt.Record(QueryMetric{Operation: "top-conditions", Cached: true})

	s := qt.GetOperationStats("top-conditions")
	if s.Executions != 2 {
		t.Errorf("expected cache hit not to count as execution, got %d", s.Executions)
	}
	if s.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", s.CacheHits)
	}
	if s.FailureRate != 0.5 {
		t.Errorf("expected failure rate 0.5, got %f", s.FailureRate)
	}

	ov := qt.GetOverview()
	if ov.TotalExecutions != 2 || ov.TotalFailures != 1 || ov.TotalCacheHits != 1 {
		t.Errorf("unexpected overview totals: %+v", ov)
	}
}

func TestQueryTracker_OverviewSorted(t *testing.T) {
	qt := NewQueryTracker()
	for _, op := range []string{"year-of-birth", "patient-count", "sex-distribution"} {
		qt.Record(QueryMetric{Operation: op})
	}

	ov := qt.GetOverview()
	if len(ov.Operations) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ov.Operations))
	}
	if ov.Operations[0].Operation != "patient-count" || ov.Operations[2].Operation != "year-of-birth" {
		t.Errorf("expected operations sorted by name, got %s..%s", ov.Operations[0].Operation, ov.Operations[2].Operation)
	}
}

func TestQueryTracker_Unknown(t *testing.T) {
	qt := NewQueryTracker()
	if qt.GetOperationStats("nope") != nil {
		t.Error("expected nil for unknown operation")
	}
}

func TestQueryTracker_Concurrent(t *testing.T) {
	qt := NewQueryTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qt.Record(QueryMetric{Operation: "patient-count"})
		}()
	}
	wg.Wait()

	if s := qt.GetOperationStats("patient-count"); s.Executions != 100 {
		t.Errorf("expected 100 executions, got %d", s.Executions)
	}
}

func TestHandler_Overview(t *testing.T) {
	qt := NewQueryTracker()
	qt.Record(QueryMetric{Operation: "patient-count"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := NewHandler(qt).HandleOverview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ov Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &ov); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if ov.TotalExecutions != 1 {
		t.Errorf("expected 1 execution, got %d", ov.TotalExecutions)
	}
}

func TestHandler_OperationNotFound(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("op")
	c.SetParamValues("nope")

	err := NewHandler(NewQueryTracker()).HandleOperation(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}
