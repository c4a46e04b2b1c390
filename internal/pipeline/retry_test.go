package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
)

// seedWarningAsset installs a photo that finished with one failed task.
func seedWarningAsset(t *testing.T, env *testEnv, failedTask string) *models.Asset {
	t.Helper()
	a := env.seedAsset(t, models.AssetTypePhoto, jpegBytes(t, 10, 10))
	for _, task := range append([]string(nil), env.assets.get(a.ID).PendingTasks...) {
		var err error
		if task == failedTask {
			_, err = env.assets.FailTask(context.Background(), a.ID, task, "boom")
		} else {
			_, err = env.assets.ResolveTask(context.Background(), a.ID, task)
		}
		require.NoError(t, err)
	}
	require.Equal(t, models.StateWarning, env.assets.get(a.ID).Status.State)
	return a
}

func TestHandleRetryReplaysFailedTasks(t *testing.T) {
	env := newTestEnv(config.MLConfig{OCREnabled: true})
	a := seedWarningAsset(t, env, models.TaskOCR)

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String()})
	require.NoError(t, err)

	got := env.assets.get(a.ID)
	assert.Equal(t, models.StateProcessing, got.Status.State)
	assert.Equal(t, []string{models.TaskOCR}, got.PendingTasks)
	assert.Equal(t, []string{models.TaskOCR}, got.Status.FailedTasks(),
		"ledger entry survives until the re-run succeeds")
	assert.Equal(t, []string{models.TaskOCR}, env.jobs.kinds())
}

func TestHandleRetryExplicitTasks(t *testing.T) {
	env := newTestEnv(config.MLConfig{OCREnabled: true, ClipEnabled: true})
	a := seedWarningAsset(t, env, models.TaskOCR)

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String(), RetryTasks: []string{models.TaskClip}})
	require.NoError(t, err)

	assert.Equal(t, []string{models.TaskClip}, env.assets.get(a.ID).PendingTasks)
	assert.Equal(t, []string{models.TaskClip}, env.jobs.kinds())
}

func TestHandleRetryRejectsUnknownTask(t *testing.T) {
	env := newTestEnv(config.MLConfig{OCREnabled: true})
	a := seedWarningAsset(t, env, models.TaskOCR)

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String(), RetryTasks: []string{"transcode"}})

	require.Error(t, err)
	assert.Empty(t, env.jobs.submitted)
}

func TestHandleRetryForceFullRetry(t *testing.T) {
	env := newTestEnv(config.MLConfig{})
	a := seedWarningAsset(t, env, models.TaskThumbnail)

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String(), ForceFullRetry: true})
	require.NoError(t, err)

	assert.Equal(t, []string{models.TaskMetadata, models.TaskThumbnail},
		env.assets.get(a.ID).PendingTasks)
	assert.Equal(t, []string{models.TaskMetadata, models.TaskThumbnail}, env.jobs.kinds())
}

func TestHandleRetryFatalLedgerRunsFullPlan(t *testing.T) {
	env := newTestEnv(config.MLConfig{})
	a := env.seedAsset(t, models.AssetTypePhoto, jpegBytes(t, 10, 10))
	_, err := env.assets.FailTask(context.Background(), a.ID, models.TaskFileRead, "object missing")
	require.NoError(t, err)

	err = env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String()})
	require.NoError(t, err)

	assert.Equal(t, []string{models.TaskMetadata, models.TaskThumbnail},
		env.assets.get(a.ID).PendingTasks)
}

func TestHandleRetrySkipsCompleteAsset(t *testing.T) {
	env := newTestEnv(config.MLConfig{})
	a := env.seedAsset(t, models.AssetTypePhoto, jpegBytes(t, 10, 10))
	for _, task := range append([]string(nil), env.assets.get(a.ID).PendingTasks...) {
		_, err := env.assets.ResolveTask(context.Background(), a.ID, task)
		require.NoError(t, err)
	}
	require.Equal(t, models.StateComplete, env.assets.get(a.ID).Status.State)

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String()})

	require.NoError(t, err)
	assert.Empty(t, env.jobs.submitted)
}

func TestHandleRetrySkipsDeletedAsset(t *testing.T) {
	env := newTestEnv(config.MLConfig{})
	a := seedWarningAsset(t, env, models.TaskThumbnail)
	now := time.Now().UTC()
	env.assets.get(a.ID).DeletedAt = &now

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: a.ID.String()})

	require.NoError(t, err)
	assert.Empty(t, env.jobs.submitted)
}

func TestHandleRetryUnknownAssetIsPermanent(t *testing.T) {
	env := newTestEnv(config.MLConfig{})

	err := env.proc.HandleRetry(context.Background(), stageJob(),
		queue.AssetRetryPayload{AssetID: "00000000-0000-0000-0000-000000000001"})

	require.Error(t, err)
}
