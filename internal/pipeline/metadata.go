package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strconv"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
)

// HandleMetadata extracts intrinsic properties of the original: dimensions
// and EXIF for photos, duration/dimensions/codecs via ffprobe for video and
// audio.
func (p *Processor) HandleMetadata(ctx context.Context, job *queue.Job, args queue.MetadataArgs) error {
	asset, run, err := p.loadStageAsset(ctx, args.AssetID)
	if err != nil || !run {
		return err
	}

	switch asset.Type {
	case models.AssetTypePhoto:
		err = p.photoMetadata(ctx, job, asset)
	default:
		err = p.probeMetadata(ctx, job, asset)
	}
	if err != nil {
		return err
	}
	return p.resolveStage(ctx, asset.ID, models.TaskMetadata)
}

func (p *Processor) photoMetadata(ctx context.Context, job *queue.Job, asset *models.Asset) error {
	data, err := p.readOriginal(ctx, asset.StoragePath)
	if err != nil {
		return p.stageFailure(ctx, job, asset.ID, failTaskFor(err, models.TaskMetadata), err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		err = fmt.Errorf("decode image: %w", err)
		return p.stageFailure(ctx, job, asset.ID, models.TaskFileCorrupted, err)
	}
	if err := p.assets.UpdateDimensions(ctx, asset.ID, int32(cfg.Width), int32(cfg.Height)); err != nil {
		return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
	}

	// EXIF is best effort; plenty of valid images carry none.
	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		fields := map[string]any{}
		if tag, err := x.Get(exif.Make); err == nil {
			if v, err := tag.StringVal(); err == nil {
				fields["camera_make"] = v
			}
		}
		if tag, err := x.Get(exif.Model); err == nil {
			if v, err := tag.StringVal(); err == nil {
				fields["camera_model"] = v
			}
		}
		if lat, lon, err := x.LatLong(); err == nil {
			fields["gps_latitude"] = lat
			fields["gps_longitude"] = lon
		}
		if len(fields) > 0 {
			if err := p.assets.MergeMetadata(ctx, asset.ID, fields); err != nil {
				return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
			}
		}
		if taken, err := x.DateTime(); err == nil {
			if err := p.assets.SetCapturedAt(ctx, asset.ID, taken.UTC()); err != nil {
				return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
			}
		}
	}
	return nil
}

type ffprobeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int32  `json:"width"`
		Height    int32  `json:"height"`
	} `json:"streams"`
}

func (p *Processor) probeMetadata(ctx context.Context, job *queue.Job, asset *models.Asset) error {
	local, cleanup, err := p.downloadOriginal(ctx, asset.StoragePath)
	if err != nil {
		return p.stageFailure(ctx, job, asset.ID, failTaskFor(err, models.TaskMetadata), err)
	}
	defer cleanup()

	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		local).Output()
	if err != nil {
		err = fmt.Errorf("ffprobe: %w", err)
		// A missing binary or a cancelled context is infrastructure trouble,
		// not evidence the file is bad.
		if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
			return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
		}
		return p.stageFailure(ctx, job, asset.ID, models.TaskFileCorrupted, err)
	}

	var probe ffprobeResult
	if err := json.Unmarshal(out, &probe); err != nil {
		err = fmt.Errorf("parse ffprobe output: %w", err)
		return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
	}

	fields := map[string]any{}
	if probe.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			if err := p.assets.UpdateDuration(ctx, asset.ID, seconds); err != nil {
				return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
			}
		}
	}
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			fields["video_codec"] = stream.CodecName
			if stream.Width > 0 && stream.Height > 0 {
				if err := p.assets.UpdateDimensions(ctx, asset.ID, stream.Width, stream.Height); err != nil {
					return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
				}
			}
		case "audio":
			fields["audio_codec"] = stream.CodecName
		}
	}
	if len(fields) > 0 {
		if err := p.assets.MergeMetadata(ctx, asset.ID, fields); err != nil {
			return p.stageFailure(ctx, job, asset.ID, models.TaskMetadata, err)
		}
	}
	return nil
}
