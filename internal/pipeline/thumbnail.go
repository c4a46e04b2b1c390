package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/taskgroup"
)

var thumbnailSizes = []struct {
	Name string
	Edge int
}{
	{"small", 400},
	{"medium", 800},
	{"large", 1920},
}

// HandleThumbnail renders the thumbnail set for a photo, or for the poster
// frame of a video. The three sizes are independent, so they run through a
// fault-tolerant group and every failure is reported, not just the first.
func (p *Processor) HandleThumbnail(ctx context.Context, job *queue.Job, args queue.ThumbnailArgs) error {
	asset, run, err := p.loadStageAsset(ctx, args.AssetID)
	if err != nil || !run {
		return err
	}

	src, err := p.thumbnailSource(ctx, asset)
	if err != nil {
		return p.stageFailure(ctx, job, asset.ID, failTaskFor(err, models.TaskThumbnail), err)
	}
	if src == nil {
		// Decode failed: the object is there but not a readable image.
		err = fmt.Errorf("undecodable %s content", asset.Type)
		return p.stageFailure(ctx, job, asset.ID, models.TaskFileCorrupted, err)
	}

	g := taskgroup.New()
	for _, size := range thumbnailSizes {
		size := size
		g.Go(func() error {
			return p.renderThumbnail(ctx, asset.ID, src, size.Name, size.Edge)
		})
	}
	if errs := g.Wait(); len(errs) > 0 {
		err := fmt.Errorf("render thumbnails: %w", errors.Join(errs...))
		return p.stageFailure(ctx, job, asset.ID, models.TaskThumbnail, err)
	}

	return p.resolveStage(ctx, asset.ID, models.TaskThumbnail)
}

// thumbnailSource returns the decoded source image, or (nil, nil) when the
// bytes could not be decoded.
func (p *Processor) thumbnailSource(ctx context.Context, asset *models.Asset) (image.Image, error) {
	if asset.Type == models.AssetTypeVideo {
		return p.videoPosterFrame(ctx, asset)
	}

	data, err := p.readOriginal(ctx, asset.StoragePath)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil
	}
	return img, nil
}

// videoPosterFrame extracts a single frame one second in.
func (p *Processor) videoPosterFrame(ctx context.Context, asset *models.Asset) (image.Image, error) {
	local, cleanup, err := p.downloadOriginal(ctx, asset.StoragePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	frame, err := os.CreateTemp("", "medialib-poster-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create poster temp file: %w", err)
	}
	frame.Close()
	defer os.Remove(frame.Name())

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", "1",
		"-i", local,
		"-frames:v", "1",
		"-q:v", "2",
		frame.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extract poster frame: %w: %s", err, tail(stderr.String()))
	}

	img, err := imaging.Open(frame.Name())
	if err != nil {
		return nil, nil
	}
	return img, nil
}

func (p *Processor) renderThumbnail(ctx context.Context, assetID uuid.UUID, src image.Image, name string, edge int) error {
	thumb := imaging.Fit(src, edge, edge, imaging.Lanczos)
	bounds := thumb.Bounds()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode %s thumbnail: %w", name, err)
	}

	path := fmt.Sprintf("thumbs/%s/%s.jpg", assetID, name)
	if err := p.blobs.Put(ctx, path, &buf, int64(buf.Len()), "image/jpeg"); err != nil {
		return fmt.Errorf("store %s thumbnail: %w", name, err)
	}

	if err := p.assets.SaveThumbnail(ctx, &models.Thumbnail{
		AssetID: assetID,
		Size:    name,
		Path:    path,
		Width:   int32(bounds.Dx()),
		Height:  int32(bounds.Dy()),
	}); err != nil {
		return fmt.Errorf("save %s thumbnail row: %w", name, err)
	}
	return nil
}

// tail keeps the last part of ffmpeg/ffprobe stderr for error messages.
func tail(s string) string {
	const max = 300
	if len(s) > max {
		return "…" + s[len(s)-max:]
	}
	return s
}
