package reporting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/omop/dashboard/internal/dashboard"
	"github.com/omop/dashboard/internal/query"
)

// testStore serves fixed rows per operation and fails the ones listed.
func testStore(rows map[string][]query.Row, failing map[string]bool, calls *int32) query.Store {
	cat := query.DefaultCatalog()
	bySQL := make(map[string]*query.Operation)
	for _, op := range cat.Operations() {
		bySQL[op.SQL] = op
	}
	return query.StoreFunc(func(_ context.Context, sql string) ([]query.Row, []string, error) {
		atomic.AddInt32(calls, 1)
		op := bySQL[sql]
		if failing[op.ID] {
			return nil, nil, errors.New("connection refused")
		}
		return rows[op.ID], op.SourceColumns(), nil
	})
}

func newTestServer(t *testing.T, rows map[string][]query.Row, failing map[string]bool) (*echo.Echo, *int32) {
	t.Helper()
	var calls int32
	logger := zerolog.New(io.Discard)
	mgr := query.NewManager(testStore(rows, failing, &calls), logger)
	board := dashboard.New(mgr, logger)
	html, err := dashboard.NewHTMLRenderer()
	if err != nil {
		t.Fatalf("html renderer: %v", err)
	}

	e := echo.New()
	h := NewHandler(mgr, board, html, logger)
	h.RegisterRoutes(e.Group("/api/v1"))
	h.RegisterHTMLRoutes(e)
	return e, &calls
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func yearRows() []query.Row {
	return []query.Row{
		{"person_id": int64(1), "age_in_years": int64(1980)},
		{"person_id": int64(2), "age_in_years": int64(1980)},
		{"person_id": int64(3), "age_in_years": int64(1995)},
	}
}

func TestListQueries(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	rec := do(e, http.MethodGet, "/api/v1/queries")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if got := j.Get("#").Int(); got != 10 {
		t.Errorf("expected 10 queries, got %d", got)
	}
	if got := j.Get("0.id").String(); got != query.OpPatientCount {
		t.Errorf("expected first query %s, got %s", query.OpPatientCount, got)
	}
}

func TestRunQuery_Paginated(t *testing.T) {
	e, _ := newTestServer(t, map[string][]query.Row{query.OpYearOfBirth: yearRows()}, nil)
	rec := do(e, http.MethodGet, "/api/v1/queries/year-of-birth?limit=2")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if got := j.Get("status").String(); got != StatusOK {
		t.Errorf("expected status ok, got %s", got)
	}
	if got := j.Get("rows.total").Int(); got != 3 {
		t.Errorf("expected total 3, got %d", got)
	}
	if got := j.Get("rows.data.#").Int(); got != 2 {
		t.Errorf("expected 2 rows on the page, got %d", got)
	}
	if !j.Get("rows.has_more").Bool() {
		t.Error("expected has_more")
	}
	if got := j.Get("columns.1").String(); got != "age_in_years" {
		t.Errorf("expected age_in_years column, got %s", got)
	}
}

func TestRunQuery_HugeOffset(t *testing.T) {
	e, _ := newTestServer(t, map[string][]query.Row{query.OpYearOfBirth: yearRows()}, nil)
	rec := do(e, http.MethodGet, "/api/v1/queries/year-of-birth?offset=9223372036854775807")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if got := j.Get("rows.data.#").Int(); got != 0 {
		t.Errorf("expected an empty page, got %d rows", got)
	}
	if j.Get("rows.has_more").Bool() {
		t.Error("expected has_more false past the end")
	}
	if j.Get(`rows.links.#(relation=="next")`).Exists() {
		t.Error("expected no next link past the end")
	}
}

func TestRunQuery_FailureReportsError(t *testing.T) {
	e, _ := newTestServer(t, nil, map[string]bool{query.OpSexDistribution: true})
	rec := do(e, http.MethodGet, "/api/v1/queries/sex-distribution")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if got := j.Get("status").String(); got != StatusError {
		t.Errorf("expected status error, got %s", got)
	}
	if got := j.Get("rows.total").Int(); got != 0 {
		t.Errorf("expected no rows, got %d", got)
	}
	if !strings.Contains(j.Get("error").String(), "connection refused") {
		t.Errorf("expected store error in body, got %q", j.Get("error").String())
	}
}

func TestRunQuery_NotFound(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	rec := do(e, http.MethodGet, "/api/v1/queries/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetChart_NoData(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	rec := do(e, http.MethodGet, "/api/v1/charts/sex")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if !j.Get("no_data").Bool() {
		t.Error("expected no_data true")
	}
	if j.Get("figure").Exists() {
		t.Error("expected no figure")
	}
}

func TestGetChart_Histogram(t *testing.T) {
	e, _ := newTestServer(t, map[string][]query.Row{query.OpYearOfBirth: yearRows()}, nil)
	rec := do(e, http.MethodGet, "/api/v1/charts/year-of-birth")

	j := gjson.Parse(rec.Body.String())
	if got := j.Get("figure.data.0.type").String(); got != "histogram" {
		t.Errorf("expected histogram, got %s", got)
	}
	if got := j.Get("figure.data.0.x.#").Int(); got != 3 {
		t.Errorf("expected 3 observations, got %d", got)
	}
}

func TestGetChart_NotFound(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	if rec := do(e, http.MethodGet, "/api/v1/charts/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetPage(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	rec := do(e, http.MethodGet, "/api/v1/pages/data-density")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := gjson.Parse(rec.Body.String())
	if got := j.Get("panels.#").Int(); got != 3 {
		t.Errorf("expected 3 panels, got %d", got)
	}
	if got := j.Get("panels.0.placeholder").String(); got != dashboard.Placeholder {
		t.Errorf("expected placeholder, got %q", got)
	}
}

func TestGetPage_NotFound(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	if rec := do(e, http.MethodGet, "/api/v1/pages/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListPages(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	j := gjson.Parse(do(e, http.MethodGet, "/api/v1/pages").Body.String())
	if got := j.Get("#.slug").String(); got != `["overview","demographics","conditions","data-density"]` {
		t.Errorf("unexpected slugs %s", got)
	}
}

func TestInvalidateCache(t *testing.T) {
	e, calls := newTestServer(t, map[string][]query.Row{query.OpYearOfBirth: yearRows()}, nil)

	do(e, http.MethodGet, "/api/v1/queries/year-of-birth")
	do(e, http.MethodGet, "/api/v1/queries/year-of-birth")
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected memoized second call, store hit %d times", got)
	}

	rec := do(e, http.MethodPost, "/api/v1/cache/invalidate?op=year-of-birth")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	do(e, http.MethodGet, "/api/v1/queries/year-of-birth")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("expected re-execution after invalidation, store hit %d times", got)
	}

	if rec := do(e, http.MethodPost, "/api/v1/cache/invalidate"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for invalidate all, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/cache/invalidate?op=nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown op, got %d", rec.Code)
	}
}

func TestHTML_Index(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	rec := do(e, http.MethodGet, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, dashboard.Placeholder) {
		t.Error("expected placeholder text in page")
	}
	if !strings.Contains(body, `class="active"><a href="/pages/overview"`) {
		t.Error("expected overview to be the active page")
	}
}

func TestHTML_UnknownPage(t *testing.T) {
	e, _ := newTestServer(t, nil, nil)
	if rec := do(e, http.MethodGet, "/pages/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
