package chart

import (
	"math"
	"sort"

	"github.com/omop/dashboard/internal/query"
)

// Styling constants.
const (
	DonutHole       = 0.4
	BarColor        = "rgb(108, 142, 168)"
	GridColor       = "rgba(200,200,200,0.3)"
	Transparent     = "rgba(0,0,0,0)"
	TreemapScale    = "Blues"
	TreemapRootName = "All Conditions"
)

func baseLayout() Layout {
	return Layout{
		PaperBGColor: Transparent,
		PlotBGColor:  Transparent,
		Font:         &Font{Color: "black"},
		AutoSize:     true,
	}
}

func gridAxis(title string) *Axis {
	return &Axis{Title: &Text{Text: title}, ShowGrid: true, GridColor: GridColor}
}

// Donut builds a pie chart with a fixed hole. labelCol names each slice and
// valueCol sizes it; rows with a non-numeric value are skipped.
func Donut(res query.Result, labelCol, valueCol string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, labelCol, valueCol); err != nil {
		return nil, err
	}

	trace := Trace{
		Type:      "pie",
		Hole:      DonutHole,
		HoverInfo: "label+percent+name",
	}
	for _, r := range res.Rows {
		v, ok := toFloat(r[valueCol])
		if !ok {
			continue
		}
		trace.Labels = append(trace.Labels, toLabel(r[labelCol]))
		trace.Values = append(trace.Values, v)
	}
	if len(trace.Values) == 0 {
		return nil, ErrNoData
	}

	return &Figure{Kind: KindPie, Data: []Trace{trace}, Layout: baseLayout()}, nil
}

// Histogram plots the distribution of col. Plotly does the counting; when
// every value is integral the bins are fixed at width one centred on each
// integer, so equal values always share a bin.
func Histogram(res query.Result, col, xTitle string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, col); err != nil {
		return nil, err
	}

	var xs []any
	integral := true
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range res.Rows {
		v, ok := toFloat(r[col])
		if !ok {
			continue
		}
		xs = append(xs, v)
		if v != math.Trunc(v) {
			integral = false
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(xs) == 0 {
		return nil, ErrNoData
	}

	trace := Trace{
		Type:   "histogram",
		X:      xs,
		Marker: &Marker{Color: BarColor},
	}
	if integral {
		trace.XBins = &Bins{Start: lo - 0.5, End: hi + 0.5, Size: 1}
	}

	layout := baseLayout()
	layout.Margin = &Margin{L: 40, R: 20, T: 20, B: 50}
	layout.XAxis = gridAxis(xTitle)
	layout.YAxis = gridAxis("Count")

	return &Figure{Kind: KindHistogram, Data: []Trace{trace}, Layout: layout}, nil
}

// Treemap builds a two-level treemap: a root labelled root with one leaf per
// row. valueCol sizes each leaf and drives its colour.
func Treemap(res query.Result, root, idCol, labelCol, valueCol string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, idCol, labelCol, valueCol); err != nil {
		return nil, err
	}

	const rootID = "root"
	trace := Trace{
		Type:         "treemap",
		IDs:          []string{rootID},
		Labels:       []string{root},
		Parents:      []string{""},
		Values:       []float64{0},
		BranchValues: "total",
		TextPosition: "middle center",
		TextFont:     &Font{Size: 12},
		HoverTpl:     "%{label}<br>%{value:,}<extra></extra>",
		Marker: &Marker{
			Colors:     []float64{0},
			ColorScale: TreemapScale,
			ShowScale:  true,
			Line:       &Line{Width: 2, Color: "white"},
		},
	}

	var sum, weighted float64
	for _, r := range res.Rows {
		v, ok := toFloat(r[valueCol])
		if !ok {
			continue
		}
		trace.IDs = append(trace.IDs, rootID+"/"+toLabel(r[idCol]))
		trace.Labels = append(trace.Labels, toLabel(r[labelCol]))
		trace.Parents = append(trace.Parents, rootID)
		trace.Values = append(trace.Values, v)
		trace.Marker.Colors = append(trace.Marker.Colors, v)
		sum += v
		weighted += v * v
	}
	if len(trace.IDs) == 1 {
		return nil, ErrNoData
	}

	trace.Values[0] = sum
	if sum > 0 {
		trace.Marker.Colors[0] = weighted / sum
	}

	layout := baseLayout()
	layout.Margin = &Margin{L: 10, R: 10, T: 30, B: 10}

	return &Figure{Kind: KindTreemap, Data: []Trace{trace}, Layout: layout}, nil
}

// Indicator shows the first row's col as a single big number.
func Indicator(res query.Result, col, title string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, col); err != nil {
		return nil, err
	}
	v, ok := toFloat(res.Rows[0][col])
	if !ok {
		return nil, ErrNoData
	}

	trace := Trace{
		Type:   "indicator",
		Mode:   "number",
		Value:  &v,
		Number: &Number{ValueFormat: ","},
	}
	if title != "" {
		trace.Title = &Text{Text: title}
	}

	return &Figure{Kind: KindIndicator, Data: []Trace{trace}, Layout: baseLayout()}, nil
}

// TimeSeries draws one line per series column against xCol.
func TimeSeries(res query.Result, xCol string, seriesCols []string, yTitle string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, append([]string{xCol}, seriesCols...)...); err != nil {
		return nil, err
	}

	xs := make([]any, len(res.Rows))
	for i, r := range res.Rows {
		xs[i] = axisValue(r[xCol])
	}

	traces := make([]Trace, 0, len(seriesCols))
	for _, col := range seriesCols {
		ys := make([]any, len(res.Rows))
		for i, r := range res.Rows {
			if v, ok := toFloat(r[col]); ok {
				ys[i] = v
			}
		}
		traces = append(traces, Trace{
			Type: "scatter",
			Mode: "lines",
			Name: DisplayName(col),
			X:    xs,
			Y:    ys,
		})
	}

	layout := baseLayout()
	layout.Margin = &Margin{L: 50, R: 20, T: 20, B: 50}
	layout.XAxis = &Axis{Type: "date", ShowGrid: true, GridColor: GridColor}
	layout.YAxis = gridAxis(yTitle)

	return &Figure{Kind: KindTimeSeries, Data: traces, Layout: layout}, nil
}

// BoxPlot draws the distribution of valueCol for each distinct categoryCol,
// one box per category in name order.
func BoxPlot(res query.Result, categoryCol, valueCol, yTitle string) (*Figure, error) {
	if res.Empty() {
		return nil, ErrNoData
	}
	if err := requireColumns(res, categoryCol, valueCol); err != nil {
		return nil, err
	}

	groups := make(map[string][]any)
	for _, r := range res.Rows {
		v, ok := toFloat(r[valueCol])
		if !ok {
			continue
		}
		cat := toLabel(r[categoryCol])
		groups[cat] = append(groups[cat], v)
	}
	if len(groups) == 0 {
		return nil, ErrNoData
	}

	cats := make([]string, 0, len(groups))
	for c := range groups {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	traces := make([]Trace, 0, len(cats))
	for _, c := range cats {
		traces = append(traces, Trace{
			Type:      "box",
			Name:      DisplayName(c),
			Y:         groups[c],
			BoxPoints: "outliers",
			Marker:    &Marker{Color: BarColor},
		})
	}

	hide := false
	layout := baseLayout()
	layout.Margin = &Margin{L: 50, R: 20, T: 20, B: 50}
	layout.YAxis = gridAxis(yTitle)
	layout.ShowLegend = &hide

	return &Figure{Kind: KindBox, Data: traces, Layout: layout}, nil
}
