package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
)

// The ML stages share a shape: load the image bytes, cross the inference
// boundary, persist the result, resolve the task. Transient service trouble
// goes back to the queue for backoff; a rejection of the input itself will
// not improve with retries and is recorded right away.

func (p *Processor) HandleClip(ctx context.Context, job *queue.Job, args queue.ProcessClipArgs) error {
	return p.mlStage(ctx, job, args.AssetID, args.ImageData, models.TaskClip,
		func(ctx context.Context, image []byte) error {
			vector, err := p.infer.Embed(ctx, args.AssetID.String(), image)
			if err != nil {
				return err
			}
			return p.assets.SaveEmbedding(ctx, args.AssetID, vector)
		})
}

func (p *Processor) HandleOCR(ctx context.Context, job *queue.Job, args queue.ProcessOcrArgs) error {
	return p.mlStage(ctx, job, args.AssetID, args.ImageData, models.TaskOCR,
		func(ctx context.Context, image []byte) error {
			text, err := p.infer.OCR(ctx, args.AssetID.String(), image)
			if err != nil {
				return err
			}
			return p.assets.MergeMetadata(ctx, args.AssetID, map[string]any{"ocr_text": text})
		})
}

func (p *Processor) HandleCaption(ctx context.Context, job *queue.Job, args queue.ProcessCaptionArgs) error {
	return p.mlStage(ctx, job, args.AssetID, args.ImageData, models.TaskCaption,
		func(ctx context.Context, image []byte) error {
			text, err := p.infer.Caption(ctx, args.AssetID.String(), image, args.CustomPrompt)
			if err != nil {
				return err
			}
			return p.assets.MergeMetadata(ctx, args.AssetID, map[string]any{"caption": text})
		})
}

func (p *Processor) HandleFace(ctx context.Context, job *queue.Job, args queue.ProcessFaceArgs) error {
	return p.mlStage(ctx, job, args.AssetID, args.ImageData, models.TaskFace,
		func(ctx context.Context, image []byte) error {
			faces, err := p.infer.DetectFaces(ctx, args.AssetID.String(), image)
			if err != nil {
				return err
			}
			if faces == nil {
				faces = []ml.FaceBox{}
			}
			return p.assets.MergeMetadata(ctx, args.AssetID, map[string]any{
				"faces":      faces,
				"face_count": len(faces),
			})
		})
}

func (p *Processor) mlStage(
	ctx context.Context,
	job *queue.Job,
	assetID uuid.UUID,
	imageData []byte,
	task string,
	fn func(ctx context.Context, image []byte) error,
) error {
	asset, run, err := p.loadStageAsset(ctx, assetID)
	if err != nil || !run {
		return err
	}

	image := imageData
	if len(image) == 0 {
		image, err = p.readOriginal(ctx, asset.StoragePath)
		if err != nil {
			return p.stageFailure(ctx, job, asset.ID, failTaskFor(err, task), err)
		}
	}

	if err := fn(ctx, image); err != nil {
		if !ml.IsRetryable(err) {
			p.recordFailure(ctx, asset.ID, task, err)
			return queue.Permanent(err)
		}
		return p.stageFailure(ctx, job, asset.ID, task, err)
	}

	return p.resolveStage(ctx, asset.ID, task)
}
