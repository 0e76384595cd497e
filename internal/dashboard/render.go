package dashboard

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/Masterminds/sprig/v3"
)

// PlotlyCDN is the script the HTML shell loads Plotly from.
const PlotlyCDN = "https://cdn.plot.ly/plotly-2.35.2.min.js"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// NavItem is one sidebar link.
type NavItem struct {
	Slug   string
	Title  string
	Active bool
}

// View is what a Renderer draws: a rendered page and the navigation around it.
type View struct {
	Page *RenderedPage
	Nav  []NavItem
}

// NewView builds the sidebar for pages with current marked active.
func NewView(page *RenderedPage, pages []Page) View {
	nav := make([]NavItem, len(pages))
	for i, p := range pages {
		nav[i] = NavItem{Slug: p.Slug, Title: p.Title, Active: page != nil && p.Slug == page.Slug}
	}
	return View{Page: page, Nav: nav}
}

type Renderer interface {
	ContentType() string
	Render(w io.Writer, v View) error
}

// JSONRenderer writes the rendered page as JSON. Navigation is omitted.
type JSONRenderer struct {
	Indent bool
}

func (JSONRenderer) ContentType() string { return "application/json; charset=UTF-8" }

func (r JSONRenderer) Render(w io.Writer, v View) error {
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v.Page); err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	return nil
}

// HTMLRenderer writes a standalone page that draws each figure with Plotly.
type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	funcs := sprig.FuncMap()
	funcs["plotlyCDN"] = func() string { return PlotlyCDN }

	tmpl, err := template.New("page.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

func (*HTMLRenderer) ContentType() string { return "text/html; charset=UTF-8" }

func (r *HTMLRenderer) Render(w io.Writer, v View) error {
	if err := r.tmpl.ExecuteTemplate(w, "page.html.tmpl", v); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}
