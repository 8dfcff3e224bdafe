package analytics

import (
	"math"
	"testing"
)

func TestPercentileEmptyHistory(t *testing.T) {
	if got := Percentile(100, nil); got != 50.0 {
		t.Fatalf("空历史应返回 50.0, 实际 %v", got)
	}
	if got := Percentile(100, []float64{}); got != 50.0 {
		t.Fatalf("空历史应返回 50.0, 实际 %v", got)
	}
}

func TestPercentileAllNaN(t *testing.T) {
	history := []float64{math.NaN(), math.NaN()}
	if got := Percentile(100, history); got != 50.0 {
		t.Fatalf("全 NaN 历史应返回 50.0, 实际 %v", got)
	}
}

func TestPercentileIgnoresNaN(t *testing.T) {
	history := []float64{100, math.NaN(), 105, 110}
	if got := Percentile(105, history); got != round2want(2.0/3.0*100) {
		t.Fatalf("NaN 应被过滤, 实际 %v", got)
	}
}

func TestPercentileRightSideTies(t *testing.T) {
	// Ties count as at-or-below: rank after the last equal value.
	history := []float64{100, 105, 105, 110}
	if got := Percentile(105, history); got != 75.0 {
		t.Fatalf("右侧排名: 期望 75.0, 实际 %v", got)
	}
}

func TestPercentileMaxValue(t *testing.T) {
	history := []float64{100, 105, 110, 108, 112}
	if got := Percentile(112, history); got != 100.0 {
		t.Fatalf("最大值应为 100.0, 实际 %v", got)
	}
}

func TestPercentileBelowMin(t *testing.T) {
	history := []float64{100, 105, 110}
	if got := Percentile(90, history); got != 0.0 {
		t.Fatalf("低于最小值应为 0.0, 实际 %v", got)
	}
}

func TestPercentileBounds(t *testing.T) {
	history := []float64{3.2, 1.1, 2.7, 9.9, 5.5, 4.3}
	for _, v := range []float64{-100, 0, 1.1, 4.0, 9.9, 1000} {
		got := Percentile(v, history)
		if got < 0 || got > 100 {
			t.Fatalf("percentile(%v) = %v 超出 [0,100]", v, got)
		}
	}
}

func TestPercentileMonotonic(t *testing.T) {
	history := []float64{10, 20, 20, 30, 40, 50}
	prev := -1.0
	for v := 5.0; v <= 55.0; v += 2.5 {
		got := Percentile(v, history)
		if got < prev {
			t.Fatalf("percentile 应单调不减: percentile(%v)=%v < %v", v, got, prev)
		}
		prev = got
	}
}

func TestPercentileRounding(t *testing.T) {
	// 1/3 of the values at or below -> 33.33 after rounding.
	history := []float64{1, 2, 3}
	if got := Percentile(1, history); got != 33.33 {
		t.Fatalf("期望 33.33, 实际 %v", got)
	}
}

func TestTemperatureStatus(t *testing.T) {
	cases := []struct {
		percentile float64
		want       string
	}{
		{10, "low"},
		{29.99, "low"},
		{30, "medium"},
		{50, "medium"},
		{70, "medium"},
		{70.01, "high"},
		{95, "high"},
	}
	for _, tc := range cases {
		if got := TemperatureStatus(tc.percentile, 30, 70); got != tc.want {
			t.Fatalf("TemperatureStatus(%v) = %s, 期望 %s", tc.percentile, got, tc.want)
		}
	}
}

func round2want(v float64) float64 {
	return math.Round(v*100) / 100
}
