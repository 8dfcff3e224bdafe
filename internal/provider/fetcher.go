package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider names, in base priority order. csindex_hist is the designated
// last resort: it is the slowest endpoint and rate-limits aggressively.
const (
	sourceEMIndexHist  = "em_index_hist"
	sourceEMDailyCSI   = "em_daily_csi"
	sourceEMDailyPlain = "em_daily_plain"
	sourceSinaDaily    = "sina_daily"
	sourceCSIndexHist  = "csindex_hist"
)

// routingOverrides move one provider to the front of the base order for
// matching code prefixes. First match wins. 399xxx are Shenzhen component
// indices that only Sina resolves reliably; 93xxxx are CSI custom indices
// that only the operator itself carries.
var routingOverrides = []struct {
	prefix string
	source string
}{
	{prefix: "399", source: sourceSinaDaily},
	{prefix: "93", source: sourceCSIndexHist},
}

type queryFunc func(ctx context.Context, code string, start, end time.Time) (*RawTable, error)

type source struct {
	name      string
	query     queryFunc
	normalize func(*RawTable) Series
}

// Fetcher resolves an index code to its normalized price history by walking
// an ordered provider list. A single provider failure is never fatal; the
// caller sees ErrNoData only once every source has been exhausted.
// Retry policy belongs to the caller, not here.
type Fetcher struct {
	sources []source
	logger  zerolog.Logger
}

// NewFetcher wires the provider clients into the base source order.
func NewFetcher(em *Eastmoney, sina *Sina, csindex *CSIndex, logger zerolog.Logger) *Fetcher {
	sources := []source{
		{
			name: sourceEMIndexHist,
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				return em.IndexHist(ctx, code, start, end)
			},
			normalize: normalizeNamed,
		},
		{
			name: sourceEMDailyCSI,
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				return em.DailyKline(ctx, "csi"+code, start, end)
			},
			normalize: normalizeNamed,
		},
		{
			name: sourceEMDailyPlain,
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				return em.DailyKline(ctx, code, start, end)
			},
			normalize: normalizeNamed,
		},
		{
			name: sourceSinaDaily,
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				return sina.DailyKline(ctx, SinaSymbol(code))
			},
			normalize: normalizeNamed,
		},
		{
			name: sourceCSIndexHist,
			query: func(ctx context.Context, code string, start, end time.Time) (*RawTable, error) {
				return csindex.IndexPerf(ctx, code, start, end)
			},
			normalize: normalizeCSIndex,
		},
	}

	return &Fetcher{
		sources: sources,
		logger:  logger.With().Str("component", "history_fetcher").Logger(),
	}
}

// newFetcherFromSources is the seam used by tests to inject fake providers.
func newFetcherFromSources(sources []source, logger zerolog.Logger) *Fetcher {
	return &Fetcher{sources: sources, logger: logger}
}

// FetchHistory queries providers in resolved order and returns the first
// non-empty normalized series. Provider errors are swallowed and logged;
// the only error surfaced is ErrNoData after full exhaustion.
func (f *Fetcher) FetchHistory(ctx context.Context, code string, historyYears int) (*History, error) {
	if historyYears <= 0 {
		historyYears = 5
	}
	end := time.Now()
	start := end.AddDate(0, 0, -historyYears*365)

	for _, src := range f.resolveOrder(code) {
		raw, err := src.query(ctx, code, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Debug().Err(err).Str("code", code).Str("source", src.name).Msg("provider query failed")
			continue
		}

		series := src.normalize(raw)
		if len(series) == 0 {
			f.logger.Debug().Str("code", code).Str("source", src.name).Msg("provider returned empty history")
			continue
		}

		f.logger.Debug().Str("code", code).Str("source", src.name).Int("rows", len(series)).Msg("history fetched")
		return &History{Source: src.name, Series: series}, nil
	}

	return nil, ErrNoData
}

// resolveOrder applies the prefix routing table to the base source order.
func (f *Fetcher) resolveOrder(code string) []source {
	for _, override := range routingOverrides {
		if strings.HasPrefix(code, override.prefix) {
			return moveToFront(f.sources, override.source)
		}
	}
	return f.sources
}

func moveToFront(sources []source, name string) []source {
	out := make([]source, 0, len(sources))
	for _, s := range sources {
		if s.name == name {
			out = append(out, s)
			break
		}
	}
	for _, s := range sources {
		if s.name != name {
			out = append(out, s)
		}
	}
	return out
}
