package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"indexheat/internal/analytics"
	"indexheat/internal/catalog"
	"indexheat/internal/progress"
	"indexheat/internal/provider"
	"indexheat/internal/storage"
)

// ErrPassInProgress signals that another refresh pass holds the advisory lock.
var ErrPassInProgress = errors.New("refresh: another pass is already in progress")

// HistoryFetcher yields the normalized price history for one index code.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, code string, historyYears int) (*provider.History, error)
}

// Options tune one refresh pass.
type Options struct {
	// MaxRetries bounds fetch attempts per index; defaults to 3.
	MaxRetries int
	// ForceAll bypasses the once-per-day skip policy for every index.
	ForceAll bool
	// ForceCodes restricts the pass to exactly these codes and bypasses the
	// skip policy for them. Codes absent from the catalog are reported and
	// ignored; if none remain the pass fails.
	ForceCodes []string
}

// Runner executes refresh passes: it walks the catalog sequentially, fetches
// history with retries, derives percentile metrics, and commits one
// transaction per index so a mid-pass crash loses nothing already written.
type Runner struct {
	source       catalog.Source
	fetcher      HistoryFetcher
	indices      storage.IndexStore
	tasks        storage.TaskStore
	locker       storage.AdvisoryLocker
	tracker      *progress.Tracker
	logger       zerolog.Logger
	historyYears int
	lockKey      int64
	now          func() time.Time
}

// RunnerOptions wire the runner's collaborators.
type RunnerOptions struct {
	Source       catalog.Source
	Fetcher      HistoryFetcher
	Indices      storage.IndexStore
	Tasks        storage.TaskStore
	Locker       storage.AdvisoryLocker
	Tracker      *progress.Tracker
	HistoryYears int
	LockKey      int64
}

// NewRunner constructs a refresh runner.
func NewRunner(opts RunnerOptions, logger zerolog.Logger) *Runner {
	years := opts.HistoryYears
	if years <= 0 {
		years = 5
	}
	return &Runner{
		source:       opts.Source,
		fetcher:      opts.Fetcher,
		indices:      opts.Indices,
		tasks:        opts.Tasks,
		locker:       opts.Locker,
		tracker:      opts.Tracker,
		logger:       logger.With().Str("component", "refresh_runner").Logger(),
		historyYears: years,
		lockKey:      opts.LockKey,
		now:          time.Now,
	}
}

// CreateTask persists a new running task row with a fresh id.
func (r *Runner) CreateTask(ctx context.Context) (storage.TaskRecord, error) {
	return r.tasks.CreateTask(ctx, newTaskID())
}

// CreateAndRun creates a task, runs the pass to its terminal state, and
// returns the final persisted record.
func (r *Runner) CreateAndRun(ctx context.Context, opts Options) (*storage.TaskRecord, error) {
	task, err := r.CreateTask(ctx)
	if err != nil {
		return nil, err
	}

	r.Run(ctx, task.TaskID, opts)

	final, err := r.tasks.GetTask(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("refresh task %s unexpectedly missing", task.TaskID)
	}
	return final, nil
}

// Run executes one full pass for an existing task id. The task always ends
// in a terminal, queryable state: any pass-fatal error is persisted as a
// failed status with the error text as the message. Per-item failures never
// abort the pass.
func (r *Runner) Run(ctx context.Context, taskID string, opts Options) {
	r.tracker.Set(taskID, progress.Update{Status: progress.String(storage.TaskStatusRunning)})

	unlock, acquired, err := r.acquireLock(ctx)
	if err != nil {
		r.failTask(ctx, taskID, err)
		return
	}
	if !acquired {
		r.failTask(ctx, taskID, ErrPassInProgress)
		return
	}
	if unlock != nil {
		defer unlock()
	}

	counts, err := r.executePass(ctx, taskID, opts)
	if err != nil {
		r.failTask(ctx, taskID, err)
		return
	}

	message := fmt.Sprintf("Refresh completed: success=%d, skipped=%d, failed=%d, total=%d",
		counts.success, counts.skipped, counts.failed, counts.total)
	if err := r.tasks.UpdateTask(ctx, taskID, storage.TaskStatusCompleted, r.now().UTC(), message); err != nil {
		r.failTask(ctx, taskID, fmt.Errorf("finalize task: %w", err))
		return
	}
	r.tracker.Set(taskID, progress.Update{Status: progress.String(storage.TaskStatusCompleted)})
	r.logger.Info().Str("task_id", taskID).Str("summary", message).Msg("refresh pass completed")
}

type passCounts struct {
	total     int
	processed int
	success   int
	skipped   int
	failed    int
}

func (r *Runner) executePass(ctx context.Context, taskID string, opts Options) (passCounts, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	items, err := r.source.ListIndices()
	if err != nil {
		return passCounts{}, fmt.Errorf("load index catalog: %w", err)
	}
	if len(items) == 0 {
		return passCounts{}, errors.New("index catalog is empty")
	}

	forceSet := normalizeForceCodes(opts.ForceCodes)
	if len(forceSet) > 0 {
		items, err = filterForceCodes(items, forceSet, r.logger)
		if err != nil {
			return passCounts{}, err
		}
	}

	counts := passCounts{total: len(items)}
	today := dateOnly(r.now().UTC())

	r.tracker.Set(taskID, progress.Update{
		Status:           progress.String(storage.TaskStatusRunning),
		TotalCount:       progress.Int(counts.total),
		ProcessedCount:   progress.Int(0),
		SuccessCount:     progress.Int(0),
		SkippedCount:     progress.Int(0),
		FailedCount:      progress.Int(0),
		CurrentIndexCode: progress.String(""),
		CurrentIndexName: progress.String(""),
	})

	skipPolicyActive := !opts.ForceAll && len(forceSet) == 0

	for _, item := range items {
		r.tracker.Set(taskID, progress.Update{
			CurrentIndexCode: progress.String(item.Code),
			CurrentIndexName: progress.String(item.Name),
		})

		if skipPolicyActive {
			exists, err := r.indices.MetricExistsForDate(ctx, item.Code, today)
			if err != nil {
				return counts, fmt.Errorf("check existing metric for %s: %w", item.Code, err)
			}
			if exists {
				counts.skipped++
				counts.processed++
				r.logger.Debug().Str("code", item.Code).Str("name", item.Name).Msg("skip already refreshed today")
				r.publishCounts(taskID, counts, item)
				continue
			}
		}

		history, err := r.fetchWithRetry(ctx, item, maxRetries)
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}

			// Deliberate policy: absence of fresh data invalidates old
			// metrics rather than leaving them stale. The index row itself
			// is still kept current.
			record := indexRecord(item)
			if applyErr := r.indices.ApplyRefreshResult(ctx, record, nil); applyErr != nil {
				return counts, fmt.Errorf("persist failed fetch for %s: %w", item.Code, applyErr)
			}
			counts.failed++
			counts.processed++
			r.logger.Warn().Str("code", item.Code).Str("name", item.Name).Msg("history fetch failed after retries, cleared metric")
			r.publishCounts(taskID, counts, item)
			continue
		}

		metric := buildMetric(item.Code, today, history.Series)
		if applyErr := r.indices.ApplyRefreshResult(ctx, indexRecord(item), &metric); applyErr != nil {
			return counts, fmt.Errorf("persist metrics for %s: %w", item.Code, applyErr)
		}
		counts.success++
		counts.processed++
		r.logger.Info().
			Str("code", item.Code).
			Str("source", history.Source).
			Int("rows", len(history.Series)).
			Msg("index refreshed")
		r.publishCounts(taskID, counts, item)
	}

	return counts, nil
}

// fetchWithRetry calls the adapter up to maxRetries times, returning the
// first non-empty history. Retries are immediate; backoff belongs to a
// future enhancement, not this contract.
func (r *Runner) fetchWithRetry(ctx context.Context, item catalog.Item, maxRetries int) (*provider.History, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		history, err := r.fetcher.FetchHistory(ctx, item.Code, r.historyYears)
		if err == nil && len(history.Series) > 0 {
			if attempt > 1 {
				r.logger.Info().Str("code", item.Code).Int("attempt", attempt).Int("max_retries", maxRetries).Msg("history fetch succeeded after retry")
			}
			return history, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		r.logger.Debug().Str("code", item.Code).Str("name", item.Name).Int("attempt", attempt).Int("max_retries", maxRetries).Msg("history fetch retry")
	}
	if lastErr == nil {
		lastErr = provider.ErrNoData
	}
	return nil, lastErr
}

func (r *Runner) publishCounts(taskID string, counts passCounts, item catalog.Item) {
	r.tracker.Set(taskID, progress.Update{
		ProcessedCount:   progress.Int(counts.processed),
		SuccessCount:     progress.Int(counts.success),
		SkippedCount:     progress.Int(counts.skipped),
		FailedCount:      progress.Int(counts.failed),
		CurrentIndexCode: progress.String(item.Code),
		CurrentIndexName: progress.String(item.Name),
	})
}

func (r *Runner) failTask(ctx context.Context, taskID string, cause error) {
	r.logger.Error().Err(cause).Str("task_id", taskID).Msg("refresh pass failed")
	if err := r.tasks.UpdateTask(ctx, taskID, storage.TaskStatusFailed, r.now().UTC(), cause.Error()); err != nil {
		r.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist task failure")
	}
	r.tracker.Set(taskID, progress.Update{Status: progress.String(storage.TaskStatusFailed)})
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// buildMetric derives the valuation snapshot from a normalized series.
// Window rules follow the established contract: 1-month and 3-year windows
// fall back to the full series when empty, and the 3-year high/low/mean come
// from whichever window was actually used.
func buildMetric(code string, today time.Time, series provider.Series) storage.MetricRecord {
	closes := series.Closes()
	current := closes[len(closes)-1]

	percentileAll := analytics.Percentile(current, closes)

	win1m := series.Since(today.AddDate(0, 0, -30))
	if len(win1m) == 0 {
		win1m = series
	}
	percentile1M := analytics.Percentile(current, win1m.Closes())

	win3y := series.Since(today.AddDate(0, 0, -365*3))
	if len(win3y) == 0 {
		win3y = series
	}
	closes3y := win3y.Closes()
	percentile3Y := analytics.Percentile(current, closes3y)

	high, low, sum := closes3y[0], closes3y[0], 0.0
	for _, v := range closes3y {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
		sum += v
	}
	avg := sum / float64(len(closes3y))

	return storage.MetricRecord{
		IndexCode:                code,
		AsOfDate:                 today,
		CurrentPrice:             decimal.NewNullDecimal(decimal.NewFromFloat(current)),
		Percentile1M:             &percentile1M,
		Percentile3Y:             &percentile3Y,
		PercentileSinceInception: &percentileAll,
		High3Y:                   decimal.NewFromFloat(high),
		Low3Y:                    decimal.NewFromFloat(low),
		Avg3Y:                    decimal.NewFromFloat(avg),
	}
}

func indexRecord(item catalog.Item) storage.IndexRecord {
	rec := storage.IndexRecord{Code: item.Code, Name: item.Name, Market: "CN"}
	if item.FullName != "" {
		full := item.FullName
		rec.FullName = &full
	}
	return rec
}

func normalizeForceCodes(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// filterForceCodes keeps only catalog items named in forceSet. Requested
// codes missing from the source are reported but not fatal unless nothing
// remains.
func filterForceCodes(items []catalog.Item, forceSet map[string]struct{}, logger zerolog.Logger) ([]catalog.Item, error) {
	present := make(map[string]struct{}, len(items))
	for _, item := range items {
		present[item.Code] = struct{}{}
	}

	missing := make([]string, 0)
	for code := range forceSet {
		if _, ok := present[code]; !ok {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		logger.Warn().Strs("codes", missing).Msg("force list not found in index source, ignored")
	}

	filtered := make([]catalog.Item, 0, len(forceSet))
	for _, item := range items {
		if _, ok := forceSet[item.Code]; ok {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("force refresh codes missing from index source: %s", strings.Join(missing, ","))
	}
	return filtered, nil
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
