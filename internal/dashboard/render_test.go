package dashboard

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/omop/dashboard/internal/query"
)

func renderedOverview(t *testing.T) (*RenderedPage, *Dashboard) {
	t.Helper()
	runner := &fakeRunner{results: map[string]query.Result{query.OpSexDistribution: sexResult()}}
	d, _ := newTestDashboard(runner)
	page, err := d.Render(context.Background(), PageOverview)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return page, d
}

func TestJSONRenderer(t *testing.T) {
	page, d := renderedOverview(t)

	var buf bytes.Buffer
	if err := (JSONRenderer{}).Render(&buf, NewView(page, d.Pages())); err != nil {
		t.Fatalf("render: %v", err)
	}
	j := gjson.ParseBytes(buf.Bytes())

	if got := j.Get("slug").String(); got != PageOverview {
		t.Errorf("expected slug %s, got %s", PageOverview, got)
	}
	if !j.Get("panels.0.no_data").Bool() {
		t.Error("expected patient count placeholder")
	}
	if got := j.Get("panels.0.placeholder").String(); got != Placeholder {
		t.Errorf("expected placeholder text, got %q", got)
	}
	if got := j.Get("panels.1.figure.data.0.hole").Float(); got != 0.4 {
		t.Errorf("expected donut hole 0.4, got %v", got)
	}
}

func TestHTMLRenderer(t *testing.T) {
	page, d := renderedOverview(t)

	r, err := NewHTMLRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, NewView(page, d.Pages())); err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()

	for _, want := range []string{
		PlotlyCDN,
		`<li class="active"><a href="/pages/overview">Overview</a></li>`,
		`<a href="/pages/data-density">Data Density</a>`,
		Placeholder,
		`id="chart-sex"`,
		"Plotly.newPlot(",
		"FEMALE",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}
	if strings.Contains(html, `id="chart-patient-count"`) {
		t.Error("expected no chart div for an empty panel")
	}
}

func TestNewView_MarksActive(t *testing.T) {
	page := &RenderedPage{Slug: PageConditions}
	v := NewView(page, DefaultPages())
	active := 0
	for _, n := range v.Nav {
		if n.Active {
			active++
			if n.Slug != PageConditions {
				t.Errorf("expected %s active, got %s", PageConditions, n.Slug)
			}
		}
	}
	if active != 1 {
		t.Errorf("expected one active item, got %d", active)
	}
}
