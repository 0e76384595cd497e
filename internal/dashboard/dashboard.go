// Package dashboard binds query operations to chart builders and renders
// them as pages.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omop/dashboard/internal/chart"
	"github.com/omop/dashboard/internal/query"
)

// Placeholder is shown in place of a figure when a panel has nothing to draw.
const Placeholder = "No data available"

var (
	ErrUnknownPage  = errors.New("unknown page")
	ErrUnknownChart = errors.New("unknown chart")
)

// Runner executes a named query operation.
type Runner interface {
	Run(ctx context.Context, id string) (query.Outcome, error)
}

// BuildFunc turns a query result into a figure.
type BuildFunc func(query.Result) (*chart.Figure, error)

// Panel is one chart on a page, fed by one operation.
type Panel struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Footer    string    `json:"footer,omitempty"`
	Operation string    `json:"operation"`
	Build     BuildFunc `json:"-"`
}

type Page struct {
	Slug   string  `json:"slug"`
	Title  string  `json:"title"`
	Panels []Panel `json:"panels"`
}

// RenderedPanel is a panel after its operation ran. Exactly one of Figure
// and Placeholder is set.
type RenderedPanel struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Footer      string        `json:"footer,omitempty"`
	Operation   string        `json:"operation"`
	Figure      *chart.Figure `json:"figure,omitempty"`
	NoData      bool          `json:"no_data"`
	Placeholder string        `json:"placeholder,omitempty"`
	Cached      bool          `json:"cached"`
}

type RenderedPage struct {
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	Panels     []RenderedPanel `json:"panels"`
	RenderedAt time.Time       `json:"rendered_at"`
}

type Dashboard struct {
	runner Runner
	pages  []Page
	index  map[string]int
	logger zerolog.Logger
	now    func() time.Time
}

// New returns a dashboard over pages, or DefaultPages when none are given.
func New(runner Runner, logger zerolog.Logger, pages ...Page) *Dashboard {
	if len(pages) == 0 {
		pages = DefaultPages()
	}
	d := &Dashboard{
		runner: runner,
		pages:  pages,
		index:  make(map[string]int, len(pages)),
		logger: logger,
		now:    time.Now,
	}
	for i, p := range pages {
		d.index[p.Slug] = i
	}
	return d
}

// Pages returns the pages in navigation order.
func (d *Dashboard) Pages() []Page {
	out := make([]Page, len(d.pages))
	copy(out, d.pages)
	return out
}

func (d *Dashboard) Page(slug string) (Page, bool) {
	i, ok := d.index[slug]
	if !ok {
		return Page{}, false
	}
	return d.pages[i], true
}

// DefaultSlug is the page served at the root.
func (d *Dashboard) DefaultSlug() string {
	if len(d.pages) == 0 {
		return ""
	}
	return d.pages[0].Slug
}

// Render runs every panel of the page in order. A panel whose query fails
// or returns nothing is rendered with the placeholder; the page itself only
// fails for an unknown slug.
func (d *Dashboard) Render(ctx context.Context, slug string) (*RenderedPage, error) {
	page, ok := d.Page(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, slug)
	}

	out := &RenderedPage{
		Slug:       page.Slug,
		Title:      page.Title,
		Panels:     make([]RenderedPanel, 0, len(page.Panels)),
		RenderedAt: d.now(),
	}
	for _, p := range page.Panels {
		out.Panels = append(out.Panels, d.RenderPanel(ctx, p))
	}
	return out, nil
}

// Chart renders the panel with the given ID from whichever page holds it.
func (d *Dashboard) Chart(ctx context.Context, id string) (RenderedPanel, error) {
	for _, page := range d.pages {
		for _, p := range page.Panels {
			if p.ID == id {
				return d.RenderPanel(ctx, p), nil
			}
		}
	}
	return RenderedPanel{}, fmt.Errorf("%w: %s", ErrUnknownChart, id)
}

// Charts lists every distinct panel across pages.
func (d *Dashboard) Charts() []Panel {
	seen := make(map[string]bool)
	var out []Panel
	for _, page := range d.pages {
		for _, p := range page.Panels {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func (d *Dashboard) RenderPanel(ctx context.Context, p Panel) RenderedPanel {
	rp := RenderedPanel{
		ID:        p.ID,
		Title:     p.Title,
		Footer:    p.Footer,
		Operation: p.Operation,
	}

	out, err := d.runner.Run(ctx, p.Operation)
	if err != nil {
		d.logger.Error().Err(err).Str("panel", p.ID).Msg("panel operation lookup failed")
		return placeholder(rp)
	}
	rp.Cached = out.Cached

	fig, err := p.Build(out.Rows())
	switch {
	case errors.Is(err, chart.ErrNoData):
		return placeholder(rp)
	case err != nil:
		d.logger.Error().Err(err).Str("panel", p.ID).Str("op", p.Operation).Msg("chart build failed")
		return placeholder(rp)
	}

	if fig.Layout.Title == nil && p.Title != "" && fig.Kind != chart.KindIndicator {
		fig.Layout.Title = &chart.Text{Text: p.Title}
	}
	rp.Figure = fig
	return rp
}

func placeholder(rp RenderedPanel) RenderedPanel {
	rp.NoData = true
	rp.Placeholder = Placeholder
	return rp
}
