package analytics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// QueryMetric captures a single query operation execution.
type QueryMetric struct {
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Rows      int           `json:"rows"`
	Cached    bool          `json:"cached"`
	Failed    bool          `json:"failed"`
}

type operationStats struct {
	Operation    string
	Executions   int64
	Failures     int64
	CacheHits    int64
	TotalLatency int64 // nanoseconds, executions only
	LastLatency  time.Duration
	LastRows     int
	LastRunAt    time.Time
	mu           sync.Mutex
}

// OperationSummary provides aggregated statistics for a single operation.
type OperationSummary struct {
	Operation   string        `json:"operation"`
	Executions  int64         `json:"executions"`
	Failures    int64         `json:"failures"`
	CacheHits   int64         `json:"cache_hits"`
	FailureRate float64       `json:"failure_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastLatency time.Duration `json:"last_latency"`
	LastRows    int           `json:"last_rows"`
	LastRunAt   time.Time     `json:"last_run_at"`
}

// Overview is a high-level summary across all operations.
type Overview struct {
	TotalExecutions int64               `json:"total_executions"`
	TotalFailures   int64               `json:"total_failures"`
	TotalCacheHits  int64               `json:"total_cache_hits"`
	Operations      []*OperationSummary `json:"operations"`
}

// QueryTracker aggregates query executions. Safe for concurrent use.
type QueryTracker struct {
	counters map[string]*operationStats
	mu       sync.RWMutex

	totalExecutions int64
	totalFailures   int64
	totalCacheHits  int64
}

func NewQueryTracker() *QueryTracker {
	return &QueryTracker{counters: make(map[string]*operationStats)}
}

// Record updates the counters for metric.Operation.
func (qt *QueryTracker) Record(metric QueryMetric) {
	if metric.Cached {
		atomic.AddInt64(&qt.totalCacheHits, 1)
	} else {
		atomic.AddInt64(&qt.totalExecutions, 1)
	}
	if metric.Failed {
		atomic.AddInt64(&qt.totalFailures, 1)
	}

	qt.mu.Lock()
	st, ok := qt.counters[metric.Operation]
	if !ok {
		st = &operationStats{Operation: metric.Operation}
		qt.counters[metric.Operation] = st
	}
	qt.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if metric.Cached {
		st.CacheHits++
		return
	}
	st.Executions++
	if metric.Failed {
		st.Failures++
	}
	st.TotalLatency += int64(metric.Duration)
	st.LastLatency = metric.Duration
	st.LastRows = metric.Rows
	st.LastRunAt = metric.Timestamp
}

// GetOperationStats returns the summary for one operation, or nil.
func (qt *QueryTracker) GetOperationStats(op string) *OperationSummary {
	qt.mu.RLock()
	st, ok := qt.counters[op]
	qt.mu.RUnlock()
	if !ok {
		return nil
	}
	return buildSummary(st)
}

// GetOverview returns totals plus per-operation summaries sorted by name.
func (qt *QueryTracker) GetOverview() *Overview {
	qt.mu.RLock()
	all := make([]*operationStats, 0, len(qt.counters))
	for _, st := range qt.counters {
		all = append(all, st)
	}
	qt.mu.RUnlock()

	summaries := make([]*OperationSummary, 0, len(all))
	for _, st := range all {
		summaries = append(summaries, buildSummary(st))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Operation < summaries[j].Operation
	})

	return &Overview{
		TotalExecutions: atomic.LoadInt64(&qt.totalExecutions),
		TotalFailures:   atomic.LoadInt64(&qt.totalFailures),
		TotalCacheHits:  atomic.LoadInt64(&qt.totalCacheHits),
		Operations:      summaries,
	}
}

func buildSummary(st *operationStats) *OperationSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := &OperationSummary{
		Operation:   st.Operation,
		Executions:  st.Executions,
		Failures:    st.Failures,
		CacheHits:   st.CacheHits,
		LastLatency: st.LastLatency,
		LastRows:    st.LastRows,
		LastRunAt:   st.LastRunAt,
	}
	if st.Executions > 0 {
		s.FailureRate = float64(st.Failures) / float64(st.Executions)
		s.AvgLatency = time.Duration(st.TotalLatency / st.Executions)
	}
	return s
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

type Handler struct {
	tracker *QueryTracker
}

func NewHandler(tracker *QueryTracker) *Handler {
	return &Handler{tracker: tracker}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/stats", h.HandleOverview)
	g.GET("/stats/:op", h.HandleOperation)
}

func (h *Handler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetOverview())
}

func (h *Handler) HandleOperation(c echo.Context) error {
	s := h.tracker.GetOperationStats(c.Param("op"))
	if s == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no stats for operation")
	}
	return c.JSON(http.StatusOK, s)
}
