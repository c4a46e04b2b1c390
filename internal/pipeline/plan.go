package pipeline

import (
	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
)

// stagePlanner builds the stage jobs for one asset type. ML stages only
// appear when the deployment has the capability enabled.
type stagePlanner func(a *models.Asset, mlCfg config.MLConfig) []queue.Args

var planners = map[models.AssetType]stagePlanner{
	models.AssetTypePhoto: planPhoto,
	models.AssetTypeVideo: planVideo,
	models.AssetTypeAudio: planAudio,
}

func planPhoto(a *models.Asset, mlCfg config.MLConfig) []queue.Args {
	plan := []queue.Args{
		queue.MetadataArgs{
			AssetID:          a.ID,
			StoragePath:      a.StoragePath,
			AssetType:        a.Type,
			OriginalFilename: a.OriginalFilename,
			FileSize:         a.SizeBytes,
			MimeType:         a.MimeType,
		},
		queue.ThumbnailArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type},
	}
	if mlCfg.ClipEnabled {
		plan = append(plan, queue.ProcessClipArgs{AssetID: a.ID, StoragePath: a.StoragePath})
	}
	if mlCfg.OCREnabled {
		plan = append(plan, queue.ProcessOcrArgs{AssetID: a.ID, StoragePath: a.StoragePath})
	}
	if mlCfg.CaptionEnabled {
		plan = append(plan, queue.ProcessCaptionArgs{AssetID: a.ID, StoragePath: a.StoragePath})
	}
	if mlCfg.FaceEnabled {
		plan = append(plan, queue.ProcessFaceArgs{AssetID: a.ID, StoragePath: a.StoragePath})
	}
	return plan
}

func planVideo(a *models.Asset, _ config.MLConfig) []queue.Args {
	return []queue.Args{
		queue.MetadataArgs{
			AssetID:          a.ID,
			StoragePath:      a.StoragePath,
			AssetType:        a.Type,
			OriginalFilename: a.OriginalFilename,
			FileSize:         a.SizeBytes,
			MimeType:         a.MimeType,
		},
		queue.ThumbnailArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type},
		queue.TranscodeArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type},
	}
}

func planAudio(a *models.Asset, _ config.MLConfig) []queue.Args {
	return []queue.Args{
		queue.MetadataArgs{
			AssetID:          a.ID,
			StoragePath:      a.StoragePath,
			AssetType:        a.Type,
			OriginalFilename: a.OriginalFilename,
			FileSize:         a.SizeBytes,
			MimeType:         a.MimeType,
		},
		queue.TranscodeArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type},
	}
}

// planStages returns the full stage plan for the asset.
func planStages(a *models.Asset, mlCfg config.MLConfig) []queue.Args {
	planner, ok := planners[a.Type]
	if !ok {
		return nil
	}
	return planner(a, mlCfg)
}

// tasksFor lists the status task names of a plan, in enqueue order.
func tasksFor(plan []queue.Args) []string {
	tasks := make([]string, 0, len(plan))
	for _, stage := range plan {
		tasks = append(tasks, string(stage.Kind()))
	}
	return tasks
}

// stageArgsFor maps a single task name back to its stage job for the asset.
// Used by the retry workflow.
func stageArgsFor(a *models.Asset, task string) (queue.Args, bool) {
	switch task {
	case models.TaskMetadata:
		return queue.MetadataArgs{
			AssetID:          a.ID,
			StoragePath:      a.StoragePath,
			AssetType:        a.Type,
			OriginalFilename: a.OriginalFilename,
			FileSize:         a.SizeBytes,
			MimeType:         a.MimeType,
		}, true
	case models.TaskThumbnail:
		return queue.ThumbnailArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type}, true
	case models.TaskTranscode:
		return queue.TranscodeArgs{AssetID: a.ID, StoragePath: a.StoragePath, AssetType: a.Type}, true
	case models.TaskClip:
		return queue.ProcessClipArgs{AssetID: a.ID, StoragePath: a.StoragePath}, true
	case models.TaskOCR:
		return queue.ProcessOcrArgs{AssetID: a.ID, StoragePath: a.StoragePath}, true
	case models.TaskCaption:
		return queue.ProcessCaptionArgs{AssetID: a.ID, StoragePath: a.StoragePath}, true
	case models.TaskFace:
		return queue.ProcessFaceArgs{AssetID: a.ID, StoragePath: a.StoragePath}, true
	default:
		return nil, false
	}
}
