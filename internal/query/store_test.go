package query

import (
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int32", int32(8532), int64(8532)},
		{"int16", int16(7), int64(7)},
		{"int", 3, int64(3)},
		{"int64 unchanged", int64(9), int64(9)},
		{"float32", float32(1.5), float64(1.5)},
		{"numeric", pgtype.Numeric{Int: big.NewInt(425), Exp: -1, Valid: true}, 42.5},
		{"invalid numeric", pgtype.Numeric{}, nil},
		{"bytes numeric", []byte("12.25"), 12.25},
		{"bytes text", []byte("FEMALE"), "FEMALE"},
		{"string", "MALE", "MALE"},
		{"time", ts, ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeValue(tt.in)
			if got != tt.want {
				t.Errorf("normalizeValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestAsInt64(t *testing.T) {
	cases := map[string]struct {
		in      any
		want    int64
		wantErr bool
	}{
		"int64":   {int64(5), 5, false},
		"int32":   {int32(6), 6, false},
		"float64": {float64(7), 7, false},
		"string":  {"8", 8, false},
		"nil":     {nil, 0, false},
		"bad":     {"eight", 0, true},
		"bool":    {true, 0, true},
	}
	for name, tc := range cases {
		got, err := asInt64(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: expected %d, got %d", name, tc.want, got)
		}
	}
}

func TestResult_Slice(t *testing.T) {
	r := Result{Columns: []string{"n"}, Rows: []Row{{"n": 1}, {"n": 2}, {"n": 3}}}

	if got := r.Slice(1, 1); got.Len() != 1 || got.Rows[0]["n"] != 2 {
		t.Errorf("unexpected slice %v", got.Rows)
	}
	if got := r.Slice(2, 10); got.Len() != 1 {
		t.Errorf("expected 1 row past end, got %d", got.Len())
	}
	if got := r.Slice(5, 10); got.Len() != 0 {
		t.Errorf("expected empty slice past end, got %d", got.Len())
	}
	if got := r.Slice(0, -1); got.Len() != 3 {
		t.Errorf("expected negative limit to mean all rows, got %d", got.Len())
	}
	if !r.HasColumn("n") || r.HasColumn("m") {
		t.Error("HasColumn mismatch")
	}
}
