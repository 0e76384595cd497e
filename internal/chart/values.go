package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/omop/dashboard/internal/query"
)

// UnknownLabel stands in for a missing category, e.g. a concept id with no
// dictionary entry.
const UnknownLabel = "Unknown"

func requireColumns(res query.Result, cols ...string) error {
	for _, c := range cols {
		if len(res.Columns) > 0 {
			if !res.HasColumn(c) {
				return fmt.Errorf("%w: %s", ErrColumnMissing, c)
			}
			continue
		}
		if _, ok := res.Rows[0][c]; !ok {
			return fmt.Errorf("%w: %s", ErrColumnMissing, c)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toLabel(v any) string {
	switch x := v.(type) {
	case nil:
		return UnknownLabel
	case string:
		if x == "" {
			return UnknownLabel
		}
		return x
	case time.Time:
		return x.Format("2006-01-02")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// axisValue keeps dates and strings as-is for Plotly and folds numbers to
// float64.
func axisValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format("2006-01-02")
	case string, nil:
		return x
	default:
		if f, ok := toFloat(x); ok {
			return f
		}
		return fmt.Sprint(x)
	}
}

// DisplayName turns a column or domain name such as "condition_total" into
// a series label ("Condition").
func DisplayName(name string) string {
	name = strings.TrimSuffix(name, query.TotalSuffix)
	name = strings.TrimSuffix(name, query.AvgSuffix)
	name = strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.English).String(name)
}
