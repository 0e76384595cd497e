package query

import (
	"errors"
	"time"
)

var (
	// ErrUnknownOperation is returned for an operation ID not in the catalog.
	ErrUnknownOperation = errors.New("unknown query operation")

	// ErrSchemaDrift means the store returned rows without a column the
	// operation promises to its consumers.
	ErrSchemaDrift = errors.New("result column missing")
)

// Row maps column name to a scalar: int64, float64, string, bool, time.Time
// or nil.
type Row map[string]any

// Result is the tabular output of one operation. Columns is the operation's
// fixed output column list and is set even when Rows is empty.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Empty reports whether the result carries no rows.
func (r Result) Empty() bool { return len(r.Rows) == 0 }

// Len returns the number of rows.
func (r Result) Len() int { return len(r.Rows) }

// HasColumn reports whether name is one of the result's columns.
func (r Result) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Slice returns a copy of r limited to rows [offset, offset+limit).
func (r Result) Slice(offset, limit int) Result {
	if offset < 0 {
		offset = 0
	}
	if offset > len(r.Rows) {
		offset = len(r.Rows)
	}
	end := len(r.Rows)
	if limit >= 0 && limit < end-offset {
		end = offset + limit
	}
	return Result{Columns: r.Columns, Rows: r.Rows[offset:end]}
}

// Outcome is the tagged result of running an operation. Err is nil when the
// query ran, even if it produced no rows.
type Outcome struct {
	Operation string
	Result    Result
	Err       error
	Cached    bool
	Duration  time.Duration
}

// OK reports whether the query executed successfully.
func (o Outcome) OK() bool { return o.Err == nil }

// Rows collapses failure into an empty result, so a failed query and a query
// with no matching rows look the same to the caller.
func (o Outcome) Rows() Result {
	if o.Err != nil {
		return Result{Columns: o.Result.Columns, Rows: []Row{}}
	}
	return o.Result
}
