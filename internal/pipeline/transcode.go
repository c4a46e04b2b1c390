package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
)

// HandleTranscode produces the web-friendly rendition: H.264/AAC mp4 for
// video, AAC m4a for audio. The rendition path lands in the asset metadata.
func (p *Processor) HandleTranscode(ctx context.Context, job *queue.Job, args queue.TranscodeArgs) error {
	asset, run, err := p.loadStageAsset(ctx, args.AssetID)
	if err != nil || !run {
		return err
	}

	local, cleanup, err := p.downloadOriginal(ctx, asset.StoragePath)
	if err != nil {
		return p.stageFailure(ctx, job, asset.ID, failTaskFor(err, models.TaskTranscode), err)
	}
	defer cleanup()

	var (
		ext         string
		contentType string
		ffmpegArgs  []string
	)
	switch asset.Type {
	case models.AssetTypeVideo:
		ext, contentType = "mp4", "video/mp4"
		ffmpegArgs = []string{
			"-c:v", "libx264",
			"-preset", "medium",
			"-crf", "23",
			"-c:a", "aac",
			"-movflags", "+faststart",
		}
	case models.AssetTypeAudio:
		ext, contentType = "m4a", "audio/mp4"
		ffmpegArgs = []string{
			"-vn",
			"-c:a", "aac",
			"-b:a", "192k",
		}
	default:
		return queue.Permanent(fmt.Errorf("transcode not applicable to %s asset", asset.Type))
	}

	out, err := os.CreateTemp("", "medialib-transcode-*."+ext)
	if err != nil {
		return fmt.Errorf("create transcode temp file: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	cmdArgs := append([]string{"-y", "-i", local}, ffmpegArgs...)
	cmdArgs = append(cmdArgs, out.Name())
	cmd := exec.CommandContext(ctx, "ffmpeg", cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		err = fmt.Errorf("ffmpeg transcode: %w: %s", err, tail(stderr.String()))
		return p.stageFailure(ctx, job, asset.ID, models.TaskTranscode, err)
	}

	rendition, err := os.Open(out.Name())
	if err != nil {
		return fmt.Errorf("open rendition: %w", err)
	}
	defer rendition.Close()
	info, err := rendition.Stat()
	if err != nil {
		return fmt.Errorf("stat rendition: %w", err)
	}

	path := fmt.Sprintf("transcodes/%s.%s", asset.ID, ext)
	if err := p.blobs.Put(ctx, path, rendition, info.Size(), contentType); err != nil {
		return p.stageFailure(ctx, job, asset.ID, models.TaskTranscode, err)
	}

	if err := p.assets.MergeMetadata(ctx, asset.ID, map[string]any{
		"transcode_path": path,
		"transcode_size": info.Size(),
	}); err != nil {
		return p.stageFailure(ctx, job, asset.ID, models.TaskTranscode, err)
	}

	return p.resolveStage(ctx, asset.ID, models.TaskTranscode)
}
