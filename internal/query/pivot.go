package query

import (
	"fmt"
	"sort"
	"time"
)

// Column suffixes of the pivoted monthly operations.
const (
	TotalSuffix = "_total"
	AvgSuffix   = "_avg"
)

// MonthLayout formats month_year values.
const MonthLayout = "2006-01"

var knownDomains = func() map[string]bool {
	m := make(map[string]bool, len(monthlyDomains))
	for _, d := range monthlyDomains {
		m[d.Domain] = true
	}
	return m
}()

// monthOf truncates a store month value to the first of its month in UTC.
func monthOf(v any) (time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		var err error
		for _, layout := range []string{"2006-01-02", MonthLayout, time.RFC3339} {
			if t, err = time.Parse(layout, x); err == nil {
				break
			}
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("parse month %q: %w", x, err)
		}
	default:
		return time.Time{}, fmt.Errorf("unexpected month type %T", v)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

// pivotMonthly turns long-form (domain, month, ...) rows into one row per
// month. The month axis is the union of months seen in any domain; every
// domain column is present in every row, holding zero when that domain had
// no rows for the month.
func pivotMonthly(rows []Row, axisCol, suffix string, zero any, axis func(time.Time) any, cell func(Row) (any, error)) ([]Row, error) {
	byMonth := make(map[time.Time]Row)
	for _, r := range rows {
		domain, ok := r["domain"].(string)
		if !ok || !knownDomains[domain] {
			return nil, fmt.Errorf("unexpected domain %v", r["domain"])
		}
		month, err := monthOf(r["month"])
		if err != nil {
			return nil, err
		}
		v, err := cell(r)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", domain, month.Format(MonthLayout), err)
		}

		out, ok := byMonth[month]
		if !ok {
			out = Row{axisCol: axis(month)}
			for _, d := range monthlyDomains {
				out[d.Domain+suffix] = zero
			}
			byMonth[month] = out
		}
		out[domain+suffix] = v
	}

	months := make([]time.Time, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	result := make([]Row, 0, len(months))
	for _, m := range months {
		result = append(result, byMonth[m])
	}
	return result, nil
}

func pivotDensity(rows []Row) ([]Row, error) {
	return pivotMonthly(rows, "month_year", TotalSuffix, int64(0),
		func(m time.Time) any { return m.Format(MonthLayout) },
		func(r Row) (any, error) { return asInt64(r["records"]) })
}

func pivotAverage(rows []Row) ([]Row, error) {
	return pivotMonthly(rows, "month_date", AvgSuffix, float64(0),
		func(m time.Time) any { return m },
		func(r Row) (any, error) {
			records, err := asInt64(r["records"])
			if err != nil {
				return nil, err
			}
			persons, err := asInt64(r["persons"])
			if err != nil {
				return nil, err
			}
			if persons == 0 {
				return float64(0), nil
			}
			return float64(records) / float64(persons), nil
		})
}

// rankTopConditions orders by distinct-person count descending, breaking ties
// by condition_concept_id ascending, and caps at TopConditionsLimit.
func rankTopConditions(rows []Row) ([]Row, error) {
	type ranked struct {
		row       Row
		cnt, code int64
	}
	items := make([]ranked, len(rows))
	for i, r := range rows {
		cnt, err := asInt64(r["cnt"])
		if err != nil {
			return nil, fmt.Errorf("cnt: %w", err)
		}
		code, err := asInt64(r["condition_concept_id"])
		if err != nil {
			return nil, fmt.Errorf("condition_concept_id: %w", err)
		}
		items[i] = ranked{row: r, cnt: cnt, code: code}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].cnt != items[j].cnt {
			return items[i].cnt > items[j].cnt
		}
		return items[i].code < items[j].code
	})
	if len(items) > TopConditionsLimit {
		items = items[:TopConditionsLimit]
	}
	out := make([]Row, len(items))
	for i, it := range items {
		out[i] = it.row
	}
	return out, nil
}
