package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"indexheat/internal/analytics"
	"indexheat/internal/progress"
	"indexheat/internal/refresh"
	"indexheat/internal/storage"
)

// Options wire the HTTP surface.
type Options struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	PercentileLow   float64
	PercentileHigh  float64
}

// Server exposes the task status and index listing API. It is thin plumbing
// over the store and the live progress tracker; all refresh logic lives in
// the runner.
type Server struct {
	opts    Options
	runner  *refresh.Runner
	tracker *progress.Tracker
	indices storage.IndexStore
	tasks   storage.TaskStore
	logger  zerolog.Logger
	httpSrv *http.Server
}

// New constructs the API server.
func New(opts Options, runner *refresh.Runner, tracker *progress.Tracker, indices storage.IndexStore, tasks storage.TaskStore, logger zerolog.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:8000"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:    opts,
		runner:  runner,
		tracker: tracker,
		indices: indices,
		tasks:   tasks,
		logger:  logger.With().Str("component", "api_server").Logger(),
	}
	s.httpSrv = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks/refresh", s.handleTriggerRefresh)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Get("/indices", s.handleListIndices)
	})

	return r
}

// Run serves until ctx is cancelled, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("api server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type triggerRequest struct {
	ForceAll   bool     `json:"force_all"`
	ForceCodes []string `json:"force_codes"`
}

type triggerResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleTriggerRefresh(w http.ResponseWriter, req *http.Request) {
	var body triggerRequest
	if req.ContentLength > 0 {
		if err := render.DecodeJSON(req.Body, &body); err != nil {
			renderError(w, req, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	task, err := s.runner.CreateTask(req.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create refresh task")
		renderError(w, req, http.StatusInternalServerError, "failed to create task")
		return
	}

	opts := refresh.Options{ForceAll: body.ForceAll, ForceCodes: body.ForceCodes}
	// The pass outlives the request; it runs on its own context and always
	// lands the task in a terminal, queryable state.
	go s.runner.Run(context.Background(), task.TaskID, opts)

	render.Status(req, http.StatusAccepted)
	render.JSON(w, req, triggerResponse{TaskID: task.TaskID, Status: task.Status})
}

type taskResponse struct {
	TaskID     string             `json:"task_id"`
	Status     string             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Message    string             `json:"message"`
	Progress   *progress.Snapshot `json:"progress,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, req *http.Request) {
	taskID := chi.URLParam(req, "taskID")

	task, err := s.tasks.GetTask(req.Context(), taskID)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to load task")
		renderError(w, req, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		renderError(w, req, http.StatusNotFound, "task not found")
		return
	}

	resp := taskResponse{
		TaskID:     task.TaskID,
		Status:     task.Status,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
		Message:    task.Message,
	}
	if snap, ok := s.tracker.Get(taskID); ok {
		resp.Progress = &snap
	}

	render.JSON(w, req, resp)
}

type indexItem struct {
	Code                     string     `json:"code"`
	Name                     string     `json:"name"`
	FullName                 *string    `json:"full_name,omitempty"`
	Market                   string     `json:"market"`
	AsOfDate                 *string    `json:"as_of_date,omitempty"`
	CurrentPrice             *string    `json:"current_price,omitempty"`
	Percentile1M             *float64   `json:"percentile_1m,omitempty"`
	Percentile3Y             *float64   `json:"percentile_3y,omitempty"`
	PercentileSinceInception *float64   `json:"percentile_since_inception,omitempty"`
	High3Y                   *string    `json:"high_3y,omitempty"`
	Low3Y                    *string    `json:"low_3y,omitempty"`
	Avg3Y                    *string    `json:"avg_3y,omitempty"`
	Temperature              *string    `json:"temperature,omitempty"`
}

type indexListResponse struct {
	Items    []indexItem `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func (s *Server) handleListIndices(w http.ResponseWriter, req *http.Request) {
	page := queryInt(req, "page", 1)
	pageSize := queryInt(req, "page_size", 50)
	if pageSize > 200 {
		pageSize = 200
	}
	sortKey := req.URL.Query().Get("sort")

	items, err := s.indices.ListIndices(req.Context(), storage.ListOptions{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
		Sort:   sortKey,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list indices")
		renderError(w, req, http.StatusInternalServerError, "failed to list indices")
		return
	}

	total, err := s.indices.CountIndices(req.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count indices")
		renderError(w, req, http.StatusInternalServerError, "failed to count indices")
		return
	}

	resp := indexListResponse{
		Items:    make([]indexItem, 0, len(items)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, s.toIndexItem(item))
	}

	render.JSON(w, req, resp)
}

func (s *Server) toIndexItem(src storage.IndexWithMetric) indexItem {
	out := indexItem{
		Code:     src.Index.Code,
		Name:     src.Index.Name,
		FullName: src.Index.FullName,
		Market:   src.Index.Market,
	}
	m := src.Metric
	if m == nil {
		return out
	}

	asOf := m.AsOfDate.Format("2006-01-02")
	out.AsOfDate = &asOf
	if m.CurrentPrice.Valid {
		price := m.CurrentPrice.Decimal.StringFixed(2)
		out.CurrentPrice = &price
	}
	out.Percentile1M = m.Percentile1M
	out.Percentile3Y = m.Percentile3Y
	out.PercentileSinceInception = m.PercentileSinceInception

	high := m.High3Y.StringFixed(2)
	low := m.Low3Y.StringFixed(2)
	avg := m.Avg3Y.StringFixed(2)
	out.High3Y = &high
	out.Low3Y = &low
	out.Avg3Y = &avg

	if m.PercentileSinceInception != nil {
		temp := analytics.TemperatureStatus(*m.PercentileSinceInception, s.opts.PercentileLow, s.opts.PercentileHigh)
		out.Temperature = &temp
	}
	return out
}

func renderError(w http.ResponseWriter, req *http.Request, status int, msg string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]string{"error": msg})
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
