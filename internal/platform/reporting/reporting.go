package reporting

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/omop/dashboard/internal/dashboard"
	"github.com/omop/dashboard/internal/query"
	"github.com/omop/dashboard/pkg/pagination"
)

// Status values of a QueryReport.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// QueryService is the part of query.Manager the handler needs.
type QueryService interface {
	Run(ctx context.Context, id string) (query.Outcome, error)
	Catalog() *query.Catalog
	Invalidate()
	InvalidateOp(id string)
}

// QueryReport holds one page of an operation's rows.
type QueryReport struct {
	Operation   string               `json:"operation"`
	Name        string               `json:"name"`
	Status      string               `json:"status"`
	Error       string               `json:"error,omitempty"`
	Cached      bool                 `json:"cached"`
	GeneratedAt time.Time            `json:"generated_at"`
	DurationMS  int64                `json:"duration_ms"`
	Columns     []string             `json:"columns"`
	Rows        *pagination.Response `json:"rows"`
}

// Handler provides HTTP handlers for queries, charts and pages.
type Handler struct {
	queries QueryService
	board   *dashboard.Dashboard
	html    dashboard.Renderer
	logger  zerolog.Logger
}

// NewHandler creates a new reporting handler. html may be nil, in which case
// the HTML routes are not registered.
func NewHandler(queries QueryService, board *dashboard.Dashboard, html dashboard.Renderer, logger zerolog.Logger) *Handler {
	return &Handler{queries: queries, board: board, html: html, logger: logger}
}

// RegisterRoutes registers the JSON API routes. invalidate wraps the cache
// invalidation route only.
func (h *Handler) RegisterRoutes(api *echo.Group, invalidate ...echo.MiddlewareFunc) {
	api.GET("/queries", h.ListQueries)
	api.GET("/queries/:id", h.RunQuery)
	api.GET("/charts", h.ListCharts)
	api.GET("/charts/:id", h.GetChart)
	api.GET("/pages", h.ListPages)
	api.GET("/pages/:slug", h.GetPage)
	api.POST("/cache/invalidate", h.InvalidateCache, invalidate...)
}

// RegisterHTMLRoutes registers the browser-facing pages.
func (h *Handler) RegisterHTMLRoutes(e *echo.Echo) {
	if h.html == nil {
		return
	}
	e.GET("/", h.Index)
	e.GET("/pages/:slug", h.ViewPage)
}

// ListQueries returns all operation definitions.
func (h *Handler) ListQueries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.queries.Catalog().Operations())
}

// RunQuery executes an operation and returns a page of its rows.
func (h *Handler) RunQuery(c echo.Context) error {
	id := c.Param("id")

	op, ok := h.queries.Catalog().Find(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}

	out, err := h.queries.Run(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, query.ErrUnknownOperation) {
			return echo.NewHTTPError(http.StatusNotFound, "query not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	res := out.Rows()
	p := pagination.FromContext(c)
	rows := pagination.NewResponse(res.Slice(p.Offset, p.Limit).Rows, res.Len(), p.Limit, p.Offset)
	rows.Links = p.Links(c.Request().URL.Path, res.Len())

	report := QueryReport{
		Operation:   op.ID,
		Name:        op.Name,
		Status:      StatusOK,
		Cached:      out.Cached,
		GeneratedAt: time.Now(),
		DurationMS:  out.Duration.Milliseconds(),
		Columns:     op.Columns,
		Rows:        rows,
	}
	if !out.OK() {
		report.Status = StatusError
		report.Error = out.Err.Error()
	}

	return c.JSON(http.StatusOK, report)
}

// ListCharts returns every chart definition.
func (h *Handler) ListCharts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.board.Charts())
}

// GetChart renders one chart. An empty result is reported with no_data set
// and no figure.
func (h *Handler) GetChart(c echo.Context) error {
	panel, err := h.board.Chart(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dashboard.ErrUnknownChart) {
			return echo.NewHTTPError(http.StatusNotFound, "chart not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "chart failed")
	}
	return c.JSON(http.StatusOK, panel)
}

// ListPages returns every page definition in navigation order.
func (h *Handler) ListPages(c echo.Context) error {
	return c.JSON(http.StatusOK, h.board.Pages())
}

// GetPage renders a page as JSON.
func (h *Handler) GetPage(c echo.Context) error {
	page, err := h.renderPage(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// InvalidateCache drops memoized results, all of them or only the operation
// named by the op query parameter.
func (h *Handler) InvalidateCache(c echo.Context) error {
	id := c.QueryParam("op")
	if id == "" {
		h.queries.Invalidate()
		h.logger.Info().Msg("query cache invalidated")
		return c.JSON(http.StatusOK, map[string]string{"invalidated": "all"})
	}

	if _, ok := h.queries.Catalog().Find(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}
	h.queries.InvalidateOp(id)
	h.logger.Info().Str("op", id).Msg("query cache entry invalidated")
	return c.JSON(http.StatusOK, map[string]string{"invalidated": id})
}

// Index serves the first page.
func (h *Handler) Index(c echo.Context) error {
	return h.servePage(c, h.board.DefaultSlug())
}

// ViewPage serves a page as HTML.
func (h *Handler) ViewPage(c echo.Context) error {
	return h.servePage(c, c.Param("slug"))
}

func (h *Handler) servePage(c echo.Context, slug string) error {
	page, err := h.renderPage(c.Request().Context(), slug)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := h.html.Render(&buf, dashboard.NewView(page, h.board.Pages())); err != nil {
		h.logger.Error().Err(err).Str("page", slug).Msg("page render failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "page render failed")
	}
	return c.Blob(http.StatusOK, h.html.ContentType(), buf.Bytes())
}

func (h *Handler) renderPage(ctx context.Context, slug string) (*dashboard.RenderedPage, error) {
	page, err := h.board.Render(ctx, slug)
	if err != nil {
		if errors.Is(err, dashboard.ErrUnknownPage) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "page not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "page failed")
	}
	return page, nil
}
