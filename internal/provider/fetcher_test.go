package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fakeSource(name string, raw *RawTable, err error, calls *[]string) source {
	return source{
		name: name,
		query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
			*calls = append(*calls, name)
			return raw, err
		},
		normalize: normalizeNamed,
	}
}

func goodTable() *RawTable {
	return &RawTable{
		Columns: []string{"date", "close", "high", "low"},
		Rows: [][]string{
			{"2024-01-02", "100", "101", "99"},
			{"2024-01-03", "102", "103", "101"},
		},
	}
}

func TestFetcherFallsBackPastFailures(t *testing.T) {
	var calls []string
	f := newFetcherFromSources([]source{
		fakeSource("a", nil, errors.New("boom"), &calls),
		fakeSource("b", &RawTable{Columns: []string{"date", "close"}}, nil, &calls), // empty
		fakeSource("c", goodTable(), nil, &calls),
	}, zerolog.Nop())

	hist, err := f.FetchHistory(context.Background(), "000300", 5)
	if err != nil {
		t.Fatalf("不应失败: %v", err)
	}
	if hist.Source != "c" {
		t.Fatalf("应回退到第三个数据源, 实际 %s", hist.Source)
	}
	if len(hist.Series) != 2 {
		t.Fatalf("期望 2 行, 实际 %d", len(hist.Series))
	}
	if len(calls) != 3 {
		t.Fatalf("应依次尝试 3 个数据源, 实际 %v", calls)
	}
}

func TestFetcherExhaustionReturnsErrNoData(t *testing.T) {
	var calls []string
	f := newFetcherFromSources([]source{
		fakeSource("a", nil, errors.New("boom"), &calls),
		fakeSource("b", nil, errors.New("boom"), &calls),
	}, zerolog.Nop())

	_, err := f.FetchHistory(context.Background(), "000300", 5)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("耗尽后应返回 ErrNoData, 实际 %v", err)
	}
}

func TestFetcherContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	f := newFetcherFromSources([]source{
		{
			name: "a",
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				calls = append(calls, "a")
				cancel()
				return nil, ctx.Err()
			},
			normalize: normalizeNamed,
		},
		fakeSource("b", goodTable(), nil, &calls),
	}, zerolog.Nop())

	_, err := f.FetchHistory(ctx, "000300", 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("取消后不应继续尝试其他数据源: %v", calls)
	}
}

func TestFetcherRoutingOverrides(t *testing.T) {
	base := NewFetcher(nil, nil, nil, zerolog.Nop())

	order := func(code string) []string {
		names := make([]string, 0, len(base.sources))
		for _, s := range base.resolveOrder(code) {
			names = append(names, s.name)
		}
		return names
	}

	if got := order("399006"); got[0] != sourceSinaDaily {
		t.Fatalf("399 前缀应优先 sina, 实际 %v", got)
	}
	if got := order("931643"); got[0] != sourceCSIndexHist {
		t.Fatalf("93 前缀应优先中证官网, 实际 %v", got)
	}
	if got := order("000300"); got[0] != sourceEMIndexHist {
		t.Fatalf("默认顺序应以东财为先, 实际 %v", got)
	}
	if got := order("399006"); len(got) != len(base.sources) {
		t.Fatalf("重排不应丢失数据源: %v", got)
	}
}
