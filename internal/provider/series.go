package provider

import (
	"errors"
	"time"
)

// ErrNoData indicates every provider failed or returned an empty history.
var ErrNoData = errors.New("provider: no history data from any source")

// Row is one normalized daily observation.
type Row struct {
	TradeDate time.Time
	Close     float64
	High      float64
	Low       float64
	PctChange *float64
}

// Series is a history ordered ascending by trade date. It lives only for the
// duration of one refresh item; it is never persisted.
type Series []Row

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = r.Close
	}
	return out
}

// Since returns the sub-series with trade dates at or after cutoff.
func (s Series) Since(cutoff time.Time) Series {
	for i, r := range s {
		if !r.TradeDate.Before(cutoff) {
			return s[i:]
		}
	}
	return nil
}

// History pairs a normalized series with the provider that produced it.
type History struct {
	Source string
	Series Series
}

// RawTable is a provider response before normalization: column names plus
// string cells, one row per trading day. Positional-schema providers leave
// Columns as whatever the upstream ordering is and are normalized by offset.
type RawTable struct {
	Columns []string
	Rows    [][]string
}
