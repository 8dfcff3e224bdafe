package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertIndexSQL = `INSERT INTO indices (code, name, full_name, market, created_at, updated_at)
    VALUES ($1, $2, $3, $4, now(), now())
    ON CONFLICT (code) DO UPDATE
    SET name       = EXCLUDED.name,
        full_name  = EXCLUDED.full_name,
        updated_at = now();`

	getIndexSQL = `SELECT code, name, full_name, market, created_at, updated_at
    FROM indices
    WHERE code = $1;`

	deleteMetricsSQL = `DELETE FROM index_metrics WHERE index_code = $1;`

	insertMetricSQL = `INSERT INTO index_metrics (
        index_code,
        as_of_date,
        current_price,
        percentile_1m,
        percentile_3y,
        percentile_since_inception,
        high_3y,
        low_3y,
        avg_3y
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	metricExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM index_metrics WHERE index_code = $1 AND as_of_date = $2
    );`

	listIndicesSQL = `SELECT
        i.code, i.name, i.full_name, i.market, i.created_at, i.updated_at,
        m.id, m.as_of_date, m.current_price,
        m.percentile_1m, m.percentile_3y, m.percentile_since_inception,
        m.high_3y, m.low_3y, m.avg_3y
    FROM indices i
    LEFT JOIN index_metrics m ON m.index_code = i.code
    ORDER BY %s
    LIMIT $1 OFFSET $2;`

	countIndicesSQL = `SELECT COUNT(*) FROM indices;`

	createTaskSQL = `INSERT INTO refresh_tasks (task_id, status, started_at, finished_at, message)
    VALUES ($1, $2, now(), NULL, $3)
    RETURNING task_id, status, started_at, finished_at, message;`

	getTaskSQL = `SELECT task_id, status, started_at, finished_at, message
    FROM refresh_tasks
    WHERE task_id = $1;`

	updateTaskSQL = `UPDATE refresh_tasks
    SET status = $2, finished_at = $3, message = $4
    WHERE task_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Sort keys accepted by ListIndices; anything else falls back to code.
var indexSortColumns = map[string]string{
	"code":                       "i.code",
	"name":                       "i.name",
	"updated_at":                 "i.updated_at DESC",
	"current_price":              "m.current_price DESC NULLS LAST",
	"percentile_1m":              "m.percentile_1m DESC NULLS LAST",
	"percentile_3y":              "m.percentile_3y DESC NULLS LAST",
	"percentile_since_inception": "m.percentile_since_inception DESC NULLS LAST",
}

// ListOptions controls index listing pagination and ordering.
type ListOptions struct {
	Limit  int
	Offset int
	Sort   string
}

// IndexStore defines catalog read/write operations used by the refresh pass
// and the query surface.
type IndexStore interface {
	GetIndex(ctx context.Context, code string) (*IndexRecord, error)
	UpsertIndex(ctx context.Context, code, name string, fullName *string) error
	DeleteMetrics(ctx context.Context, code string) error
	InsertMetric(ctx context.Context, metric MetricRecord) error
	MetricExistsForDate(ctx context.Context, code string, asOf time.Time) (bool, error)
	ApplyRefreshResult(ctx context.Context, index IndexRecord, metric *MetricRecord) error
	ListIndices(ctx context.Context, opts ListOptions) ([]IndexWithMetric, error)
	CountIndices(ctx context.Context) (int64, error)
}

// TaskStore defines refresh task persistence.
type TaskStore interface {
	CreateTask(ctx context.Context, taskID string) (TaskRecord, error)
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	UpdateTask(ctx context.Context, taskID, status string, finishedAt time.Time, message string) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// execer is satisfied by both the pool and a transaction so the granular
// write helpers can run inside ApplyRefreshResult's transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store aggregates access to indices, metrics, and refresh tasks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetIndex loads one index by code; returns nil when absent.
func (s *Store) GetIndex(ctx context.Context, code string) (*IndexRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rec IndexRecord
	var fullName sql.NullString
	row := pool.QueryRow(ctx, getIndexSQL, code)
	if scanErr := row.Scan(&rec.Code, &rec.Name, &fullName, &rec.Market, &rec.CreatedAt, &rec.UpdatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get index: %w", scanErr)
	}
	if fullName.Valid {
		rec.FullName = &fullName.String
	}
	return &rec, nil
}

// UpsertIndex creates or refreshes one index row.
func (s *Store) UpsertIndex(ctx context.Context, code, name string, fullName *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return upsertIndex(ctx, pool, code, name, fullName)
}

// DeleteMetrics removes any metric snapshot for code.
func (s *Store) DeleteMetrics(ctx context.Context, code string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return deleteMetrics(ctx, pool, code)
}

// InsertMetric persists a new metric snapshot.
func (s *Store) InsertMetric(ctx context.Context, metric MetricRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return insertMetric(ctx, pool, metric)
}

// MetricExistsForDate reports whether code already has a snapshot for asOf.
func (s *Store) MetricExistsForDate(ctx context.Context, code string, asOf time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if scanErr := pool.QueryRow(ctx, metricExistsSQL, code, asOf).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("metric exists for date: %w", scanErr)
	}
	return exists, nil
}

// ApplyRefreshResult commits one refresh item atomically: upsert the index,
// drop the previous snapshot, and insert the new one when metric is non-nil.
// A nil metric records a failed fetch; the stale snapshot is still dropped so
// old numbers are never silently kept.
func (s *Store) ApplyRefreshResult(ctx context.Context, index IndexRecord, metric *MetricRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refresh item tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertIndex(ctx, tx, index.Code, index.Name, index.FullName); err != nil {
		return err
	}
	if err := deleteMetrics(ctx, tx, index.Code); err != nil {
		return err
	}
	if metric != nil {
		if err := insertMetric(ctx, tx, *metric); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refresh item tx: %w", err)
	}
	return nil
}

func upsertIndex(ctx context.Context, db execer, code, name string, fullName *string) error {
	var full any
	if fullName != nil && *fullName != "" {
		full = *fullName
	}
	if _, err := db.Exec(ctx, upsertIndexSQL, code, name, full, "CN"); err != nil {
		return fmt.Errorf("upsert index: %w", err)
	}
	return nil
}

func deleteMetrics(ctx context.Context, db execer, code string) error {
	if _, err := db.Exec(ctx, deleteMetricsSQL, code); err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}
	return nil
}

func insertMetric(ctx context.Context, db execer, metric MetricRecord) error {
	var price any
	if metric.CurrentPrice.Valid {
		price = metric.CurrentPrice.Decimal.String()
	}

	_, err := db.Exec(ctx, insertMetricSQL,
		metric.IndexCode,
		metric.AsOfDate,
		price,
		metric.Percentile1M,
		metric.Percentile3Y,
		metric.PercentileSinceInception,
		metric.High3Y.String(),
		metric.Low3Y.String(),
		metric.Avg3Y.String(),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// ListIndices returns indices joined with their snapshots.
func (s *Store) ListIndices(ctx context.Context, opts ListOptions) ([]IndexWithMetric, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	orderBy, ok := indexSortColumns[opts.Sort]
	if !ok {
		orderBy = indexSortColumns["code"]
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(listIndicesSQL, orderBy), limit, opts.Offset)
	if queryErr != nil {
		return nil, fmt.Errorf("list indices: %w", queryErr)
	}
	defer rows.Close()

	items := make([]IndexWithMetric, 0, limit)
	for rows.Next() {
		item, scanErr := scanIndexWithMetric(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// CountIndices counts catalog entries.
func (s *Store) CountIndices(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countIndicesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count indices: %w", scanErr)
	}
	return count, nil
}

// CreateTask inserts a running task row.
func (s *Store) CreateTask(ctx context.Context, taskID string) (TaskRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return TaskRecord{}, err
	}

	row := pool.QueryRow(ctx, createTaskSQL, taskID, TaskStatusRunning, "Task started")
	rec, scanErr := scanTask(row)
	if scanErr != nil {
		return TaskRecord{}, fmt.Errorf("create task: %w", scanErr)
	}
	return rec, nil
}

// GetTask loads a task by id; returns nil when absent.
func (s *Store) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanTask(pool.QueryRow(ctx, getTaskSQL, taskID))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", scanErr)
	}
	return &rec, nil
}

// UpdateTask records the terminal transition for a task.
func (s *Store) UpdateTask(ctx context.Context, taskID, status string, finishedAt time.Time, message string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateTaskSQL, taskID, status, finishedAt, message)
	if execErr != nil {
		return fmt.Errorf("update task: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func scanTask(row pgx.Row) (TaskRecord, error) {
	var rec TaskRecord
	var finished sql.NullTime
	var message sql.NullString
	if err := row.Scan(&rec.TaskID, &rec.Status, &rec.StartedAt, &finished, &message); err != nil {
		return TaskRecord{}, err
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	if message.Valid {
		rec.Message = message.String
	}
	return rec, nil
}

func scanIndexWithMetric(rows pgx.Rows) (IndexWithMetric, error) {
	var (
		item     IndexWithMetric
		fullName sql.NullString

		metricID int64
		hasID    sql.NullInt64
		asOf     sql.NullTime
		price    sql.NullString
		pct1m    sql.NullFloat64
		pct3y    sql.NullFloat64
		pctAll   sql.NullFloat64
		high3y   sql.NullString
		low3y    sql.NullString
		avg3y    sql.NullString
	)

	if err := rows.Scan(
		&item.Index.Code,
		&item.Index.Name,
		&fullName,
		&item.Index.Market,
		&item.Index.CreatedAt,
		&item.Index.UpdatedAt,
		&hasID,
		&asOf,
		&price,
		&pct1m,
		&pct3y,
		&pctAll,
		&high3y,
		&low3y,
		&avg3y,
	); err != nil {
		return IndexWithMetric{}, err
	}

	if fullName.Valid {
		item.Index.FullName = &fullName.String
	}
	if !hasID.Valid {
		return item, nil
	}
	metricID = hasID.Int64

	metric := MetricRecord{ID: metricID, IndexCode: item.Index.Code}
	if asOf.Valid {
		metric.AsOfDate = asOf.Time
	}
	if price.Valid {
		d, convErr := decimal.NewFromString(price.String)
		if convErr != nil {
			return IndexWithMetric{}, fmt.Errorf("parse current price: %w", convErr)
		}
		metric.CurrentPrice = decimal.NewNullDecimal(d)
	}
	if pct1m.Valid {
		metric.Percentile1M = &pct1m.Float64
	}
	if pct3y.Valid {
		metric.Percentile3Y = &pct3y.Float64
	}
	if pctAll.Valid {
		metric.PercentileSinceInception = &pctAll.Float64
	}

	var convErr error
	if metric.High3Y, convErr = parseNumeric(high3y); convErr != nil {
		return IndexWithMetric{}, fmt.Errorf("parse high_3y: %w", convErr)
	}
	if metric.Low3Y, convErr = parseNumeric(low3y); convErr != nil {
		return IndexWithMetric{}, fmt.Errorf("parse low_3y: %w", convErr)
	}
	if metric.Avg3Y, convErr = parseNumeric(avg3y); convErr != nil {
		return IndexWithMetric{}, fmt.Errorf("parse avg_3y: %w", convErr)
	}

	item.Metric = &metric
	return item, nil
}

func parseNumeric(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.String)
}

var (
	_ IndexStore     = (*Store)(nil)
	_ TaskStore      = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
