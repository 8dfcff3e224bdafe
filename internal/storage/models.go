package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// IndexRecord is a tracked market index. Code is the primary key; name and
// full name are kept current on every refresh attempt, even failed ones.
type IndexRecord struct {
	Code      string
	Name      string
	FullName  *string
	Market    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetricRecord is the single valuation snapshot belonging to one index.
// It is replaced wholesale on each refresh; metrics are not a time series.
type MetricRecord struct {
	ID                       int64
	IndexCode                string
	AsOfDate                 time.Time
	CurrentPrice             decimal.NullDecimal
	Percentile1M             *float64
	Percentile3Y             *float64
	PercentileSinceInception *float64
	High3Y                   decimal.Decimal
	Low3Y                    decimal.Decimal
	Avg3Y                    decimal.Decimal
}

// Task statuses. Terminal states are final; a task row is mutated exactly
// once after creation, at the terminal transition.
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// TaskRecord is the persisted ground truth for one refresh pass.
type TaskRecord struct {
	TaskID     string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Message    string
}

// IndexWithMetric joins an index with its current metric snapshot, if any.
type IndexWithMetric struct {
	Index  IndexRecord
	Metric *MetricRecord
}
