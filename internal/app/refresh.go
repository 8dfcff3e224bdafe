package app

import (
	"context"
	"fmt"

	"indexheat/internal/refresh"
	"indexheat/internal/storage"
)

// RefreshOptions configure a one-shot refresh pass.
type RefreshOptions struct {
	ForceAll   bool
	ForceCodes []string
}

// Refresh runs one catalog pass to completion and reports the outcome.
// The returned error is non-nil when the pass itself failed (catalog
// unreadable, force filter empty, storage failure); per-index fetch failures
// are part of a completed pass and show up in the summary counts instead.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := a.newRunner(store)

	task, err := runner.CreateAndRun(ctx, refresh.Options{
		ForceAll:   opts.ForceAll,
		ForceCodes: opts.ForceCodes,
		MaxRetries: a.Config.Refresh.MaxRetries,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("task_id", task.TaskID).
		Str("status", task.Status).
		Str("message", task.Message).
		Msg("refresh pass finished")

	if task.Status == storage.TaskStatusFailed {
		return fmt.Errorf("refresh task %s failed: %s", task.TaskID, task.Message)
	}
	return nil
}

// TaskStatus prints the persisted state and live progress for one task.
func (a *App) TaskStatus(ctx context.Context, taskID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	fmt.Printf("task_id:     %s\n", task.TaskID)
	fmt.Printf("status:      %s\n", task.Status)
	fmt.Printf("started_at:  %s\n", task.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	if task.FinishedAt != nil {
		fmt.Printf("finished_at: %s\n", task.FinishedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("message:     %s\n", task.Message)

	if snap, ok := a.tracker.Get(taskID); ok {
		fmt.Printf("progress:    %.2f%% (%d/%d, success=%d skipped=%d failed=%d)\n",
			snap.ProgressPercent, snap.ProcessedCount, snap.TotalCount,
			snap.SuccessCount, snap.SkippedCount, snap.FailedCount)
	}
	return nil
}
