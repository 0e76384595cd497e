// Package chart maps query results onto Plotly figures.
//
// Every builder is a pure function of its input. An empty result yields
// ErrNoData and no figure, so callers can render a placeholder instead.
package chart

import "errors"

var (
	// ErrNoData is returned for an empty result.
	ErrNoData = errors.New("no data available")

	// ErrColumnMissing is returned when a bound column is absent.
	ErrColumnMissing = errors.New("chart column missing")
)

// Kind identifies a chart family.
type Kind string

const (
	KindPie        Kind = "pie"
	KindHistogram  Kind = "histogram"
	KindTreemap    Kind = "treemap"
	KindIndicator  Kind = "indicator"
	KindTimeSeries Kind = "timeseries"
	KindBox        Kind = "box"
)

// Figure is a Plotly figure: traces plus layout. Kind is not part of the
// Plotly schema and is carried for renderers.
type Figure struct {
	Kind   Kind    `json:"kind"`
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

type Trace struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Mode string `json:"mode,omitempty"`

	Labels  []string  `json:"labels,omitempty"`
	Parents []string  `json:"parents,omitempty"`
	IDs     []string  `json:"ids,omitempty"`
	Values  []float64 `json:"values,omitempty"`

	X []any `json:"x,omitempty"`
	Y []any `json:"y,omitempty"`

	Value  *float64 `json:"value,omitempty"`
	Number *Number  `json:"number,omitempty"`
	Title  *Text    `json:"title,omitempty"`

	Hole         float64 `json:"hole,omitempty"`
	HoverInfo    string  `json:"hoverinfo,omitempty"`
	HoverTpl     string  `json:"hovertemplate,omitempty"`
	TextInfo     string  `json:"textinfo,omitempty"`
	TextPosition string  `json:"textposition,omitempty"`
	TextFont     *Font   `json:"textfont,omitempty"`
	BranchValues string  `json:"branchvalues,omitempty"`
	BoxPoints    string  `json:"boxpoints,omitempty"`
	XBins        *Bins   `json:"xbins,omitempty"`
	Marker       *Marker `json:"marker,omitempty"`
	Line         *Line   `json:"line,omitempty"`
}

type Text struct {
	Text string `json:"text"`
}

type Number struct {
	ValueFormat string `json:"valueformat,omitempty"`
}

type Bins struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Size  float64 `json:"size"`
}

type Marker struct {
	Color      string    `json:"color,omitempty"`
	Colors     []float64 `json:"colors,omitempty"`
	ColorScale string    `json:"colorscale,omitempty"`
	ShowScale  bool      `json:"showscale,omitempty"`
	Line       *Line     `json:"line,omitempty"`
}

type Line struct {
	Width float64 `json:"width,omitempty"`
	Color string  `json:"color,omitempty"`
}

type Font struct {
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size,omitempty"`
}

type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
	B int `json:"b"`
}

type Axis struct {
	Title     *Text  `json:"title,omitempty"`
	ShowGrid  bool   `json:"showgrid,omitempty"`
	GridColor string `json:"gridcolor,omitempty"`
	Type      string `json:"type,omitempty"`
}

type Layout struct {
	Title        *Text   `json:"title,omitempty"`
	PaperBGColor string  `json:"paper_bgcolor,omitempty"`
	PlotBGColor  string  `json:"plot_bgcolor,omitempty"`
	Font         *Font   `json:"font,omitempty"`
	Margin       *Margin `json:"margin,omitempty"`
	AutoSize     bool    `json:"autosize,omitempty"`
	XAxis        *Axis   `json:"xaxis,omitempty"`
	YAxis        *Axis   `json:"yaxis,omitempty"`
	ShowLegend   *bool   `json:"showlegend,omitempty"`
	BarGap       float64 `json:"bargap,omitempty"`
}
