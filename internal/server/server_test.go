package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"indexheat/internal/catalog"
	"indexheat/internal/progress"
	"indexheat/internal/provider"
	"indexheat/internal/refresh"
	"indexheat/internal/storage"
)

type fakeIndexStore struct {
	items    []storage.IndexWithMetric
	existing map[string]bool
}

func (f *fakeIndexStore) GetIndex(ctx context.Context, code string) (*storage.IndexRecord, error) {
	return nil, nil
}

func (f *fakeIndexStore) UpsertIndex(ctx context.Context, code, name string, fullName *string) error {
	return nil
}

func (f *fakeIndexStore) DeleteMetrics(ctx context.Context, code string) error { return nil }

func (f *fakeIndexStore) InsertMetric(ctx context.Context, metric storage.MetricRecord) error {
	return nil
}

func (f *fakeIndexStore) MetricExistsForDate(ctx context.Context, code string, asOf time.Time) (bool, error) {
	return f.existing[code], nil
}

func (f *fakeIndexStore) ApplyRefreshResult(ctx context.Context, index storage.IndexRecord, metric *storage.MetricRecord) error {
	return nil
}

func (f *fakeIndexStore) ListIndices(ctx context.Context, opts storage.ListOptions) ([]storage.IndexWithMetric, error) {
	return f.items, nil
}

func (f *fakeIndexStore) CountIndices(ctx context.Context) (int64, error) {
	return int64(len(f.items)), nil
}

type fakeTaskStore struct {
	mu      sync.Mutex
	records map[string]storage.TaskRecord
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{records: map[string]storage.TaskRecord{}}
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, taskID string) (storage.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := storage.TaskRecord{TaskID: taskID, Status: storage.TaskStatusRunning, StartedAt: time.Now().UTC(), Message: "Task started"}
	f.records[taskID] = rec
	return rec, nil
}

func (f *fakeTaskStore) GetTask(ctx context.Context, taskID string) (*storage.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[taskID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeTaskStore) UpdateTask(ctx context.Context, taskID, status string, finishedAt time.Time, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[taskID]
	if !ok {
		return errors.New("task not found")
	}
	rec.Status = status
	rec.FinishedAt = &finishedAt
	rec.Message = message
	f.records[taskID] = rec
	return nil
}

type fakeCatalog struct {
	items []catalog.Item
}

func (f *fakeCatalog) ListIndices() ([]catalog.Item, error) { return f.items, nil }

type fakeFetcher struct{}

func (f *fakeFetcher) FetchHistory(ctx context.Context, code string, historyYears int) (*provider.History, error) {
	now := time.Now().UTC()
	return &provider.History{Source: "em_index_hist", Series: provider.Series{
		{TradeDate: now.AddDate(0, 0, -1), Close: 100, High: 100, Low: 100},
		{TradeDate: now, Close: 105, High: 105, Low: 105},
	}}, nil
}

func newTestServer(t *testing.T, indices *fakeIndexStore, tasks *fakeTaskStore) (*httptest.Server, *fakeTaskStore) {
	t.Helper()

	tracker := progress.NewTracker()
	runner := refresh.NewRunner(refresh.RunnerOptions{
		Source:  &fakeCatalog{items: []catalog.Item{{Code: "000300", Name: "沪深300"}}},
		Fetcher: &fakeFetcher{},
		Indices: indices,
		Tasks:   tasks,
		Tracker: tracker,
	}, zerolog.Nop())

	s := New(Options{PercentileLow: 30, PercentileHigh: 70}, runner, tracker, indices, tasks, zerolog.Nop())
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv, tasks
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeIndexStore{}, newFakeTaskStore())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz 请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", resp.StatusCode)
	}
}

func TestTriggerRefreshRunsToCompletion(t *testing.T) {
	srv, tasks := newTestServer(t, &fakeIndexStore{}, newFakeTaskStore())

	resp, err := http.Post(srv.URL+"/api/v1/tasks/refresh", "application/json", strings.NewReader(`{"force_all":true}`))
	if err != nil {
		t.Fatalf("触发请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("期望 202, 实际 %d", resp.StatusCode)
	}

	var trig struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trig); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if trig.TaskID == "" || trig.Status != storage.TaskStatusRunning {
		t.Fatalf("触发响应错误: %+v", trig)
	}

	// 后台任务很快完成, 轮询等待终态
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, _ := tasks.GetTask(context.Background(), trig.TaskID)
		if rec != nil && rec.Status != storage.TaskStatusRunning {
			if rec.Status != storage.TaskStatusCompleted {
				t.Fatalf("任务应完成, 实际 %s: %s", rec.Status, rec.Message)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("等待任务完成超时")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeIndexStore{}, newFakeTaskStore())

	resp, err := http.Get(srv.URL + "/api/v1/tasks/deadbeef")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("未知任务期望 404, 实际 %d", resp.StatusCode)
	}
}

func TestGetTaskWithProgress(t *testing.T) {
	tasks := newFakeTaskStore()
	srv, _ := newTestServer(t, &fakeIndexStore{}, tasks)

	if _, err := tasks.CreateTask(context.Background(), "abc123"); err != nil {
		t.Fatalf("CreateTask 失败: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/tasks/abc123")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", resp.StatusCode)
	}

	var body taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if body.TaskID != "abc123" || body.Status != storage.TaskStatusRunning {
		t.Fatalf("任务响应错误: %+v", body)
	}
	// 无进度快照时 progress 省略
	if body.Progress != nil {
		t.Fatalf("未运行的任务不应携带进度: %+v", body.Progress)
	}
}

func TestListIndices(t *testing.T) {
	pctAll := 95.0
	pct1m := 40.0
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	indices := &fakeIndexStore{items: []storage.IndexWithMetric{
		{
			Index: storage.IndexRecord{Code: "000300", Name: "沪深300", Market: "CN"},
			Metric: &storage.MetricRecord{
				IndexCode:                "000300",
				AsOfDate:                 asOf,
				CurrentPrice:             decimal.NewNullDecimal(decimal.NewFromFloat(3520.5)),
				Percentile1M:             &pct1m,
				PercentileSinceInception: &pctAll,
				High3Y:                   decimal.NewFromFloat(3600),
				Low3Y:                    decimal.NewFromFloat(3000),
				Avg3Y:                    decimal.NewFromFloat(3300),
			},
		},
		{Index: storage.IndexRecord{Code: "399006", Name: "创业板指", Market: "CN"}},
	}}
	srv, _ := newTestServer(t, indices, newFakeTaskStore())

	resp, err := http.Get(srv.URL + "/api/v1/indices?page=1&page_size=10")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", resp.StatusCode)
	}

	var body indexListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if body.Total != 2 || len(body.Items) != 2 {
		t.Fatalf("列表长度错误: total=%d items=%d", body.Total, len(body.Items))
	}

	first := body.Items[0]
	if first.CurrentPrice == nil || *first.CurrentPrice != "3520.50" {
		t.Fatalf("当前价格应保留两位小数: %+v", first.CurrentPrice)
	}
	if first.AsOfDate == nil || *first.AsOfDate != "2024-06-01" {
		t.Fatalf("as_of_date 格式错误: %+v", first.AsOfDate)
	}
	if first.Temperature == nil || *first.Temperature != "high" {
		t.Fatalf("分位 95 应判定 high: %+v", first.Temperature)
	}

	second := body.Items[1]
	if second.Temperature != nil || second.CurrentPrice != nil {
		t.Fatalf("无指标的指数不应携带快照字段: %+v", second)
	}
}
