package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
)

// HandleRetry re-enters processing for an asset in warning or failed state.
// The requested tasks are validated against the asset type's stage plan;
// the error ledger entries stay in place until each re-run succeeds, so a
// retry that fails again does not erase the history.
func (p *Processor) HandleRetry(ctx context.Context, job *queue.Job, args queue.AssetRetryPayload) error {
	id, err := uuid.Parse(args.AssetID)
	if err != nil {
		return queue.Permanent(fmt.Errorf("parse asset id %q: %w", args.AssetID, err))
	}

	asset, err := p.assets.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			return queue.Permanent(err)
		}
		return err
	}
	if asset.DeletedAt != nil {
		slog.Info("retry skipped for deleted asset", "asset_id", id)
		return nil
	}
	if !asset.Status.IsRetryable() {
		slog.Info("retry skipped, asset not in a retryable state",
			"asset_id", id, "state", asset.Status.State)
		return nil
	}

	allTasks := tasksFor(planStages(asset, p.mlCfg))

	var tasks []string
	switch {
	case args.ForceFullRetry:
		tasks = allTasks
	case len(args.RetryTasks) > 0:
		for _, task := range args.RetryTasks {
			if !slices.Contains(allTasks, task) {
				return queue.Permanent(
					fmt.Errorf("task %q not in the %s stage plan", task, asset.Type))
			}
		}
		tasks = args.RetryTasks
	default:
		for _, task := range asset.Status.FailedTasks() {
			if slices.Contains(allTasks, task) {
				tasks = append(tasks, task)
			}
		}
		// Only fatal entries in the ledger: the per-task mapping is gone, so
		// run the whole plan again.
		if len(tasks) == 0 {
			tasks = allTasks
		}
	}

	if err := p.assets.SetPendingTasks(ctx, id, tasks, "retry requested"); err != nil {
		return fmt.Errorf("reset pending tasks: %w", err)
	}

	for _, task := range tasks {
		stage, ok := stageArgsFor(asset, task)
		if !ok {
			return queue.Permanent(fmt.Errorf("no stage job for task %q", task))
		}
		if _, err := p.jobs.Submit(ctx, stage); err != nil {
			return fmt.Errorf("enqueue %s retry: %w", task, err)
		}
	}

	slog.Info("asset retry scheduled", "asset_id", id, "tasks", tasks)
	return nil
}
