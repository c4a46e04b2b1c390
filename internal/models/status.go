package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AssetState is the processing state of an asset.
type AssetState string

const (
	StateProcessing AssetState = "processing"
	StateComplete   AssetState = "complete"
	StateWarning    AssetState = "warning"
	StateFailed     AssetState = "failed"
)

// Canonical task names. A task name is also the queue kind that executes it,
// except the fatal input tasks which are recorded by whichever stage hit them.
const (
	TaskMetadata  = "metadata"
	TaskThumbnail = "thumbnail"
	TaskTranscode = "transcode"
	TaskClip      = "clip"
	TaskOCR       = "ocr"
	TaskCaption   = "caption"
	TaskFace      = "face"

	TaskInitialValidation = "initial_validation"
	TaskFileRead          = "file_read"
	TaskFileCorrupted     = "file_corrupted"
)

// fatalTasks are failures that invalidate the asset itself. Retrying them
// with the same input cannot succeed without operator intervention.
var fatalTasks = map[string]bool{
	TaskInitialValidation: true,
	TaskFileRead:          true,
	TaskFileCorrupted:     true,
}

func IsFatalTask(task string) bool { return fatalTasks[task] }

// ErrorDetail is one entry in the per-asset error ledger.
type ErrorDetail struct {
	Task  string    `json:"task"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// AssetStatus is the status document embedded on the asset row.
//
// Invariants: state complete implies an empty error list; warning and failed
// imply a non-empty one. Only enrichment workers and the retry workflow
// mutate it.
type AssetStatus struct {
	State     AssetState    `json:"state"`
	Message   string        `json:"message"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewProcessingStatus(message string) AssetStatus {
	return AssetStatus{
		State:     StateProcessing,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
}

// ResolveTask removes any recorded error for the task. Called when a task
// succeeds so a later retry of a previously failed task clears its ledger
// entry.
func (s *AssetStatus) ResolveTask(task string) {
	kept := s.Errors[:0]
	for _, e := range s.Errors {
		if e.Task != task {
			kept = append(kept, e)
		}
	}
	s.Errors = kept
	if len(s.Errors) == 0 {
		s.Errors = nil
	}
	s.UpdatedAt = time.Now().UTC()
}

// RecordFailure appends (or replaces) the ledger entry for the task. A fatal
// task flips the state to failed immediately; non-fatal failures leave the
// state to be decided by Finalize once no work is pending.
func (s *AssetStatus) RecordFailure(task, message string) {
	s.ResolveTask(task)
	s.Errors = append(s.Errors, ErrorDetail{
		Task:  task,
		Error: message,
		Time:  time.Now().UTC(),
	})
	if IsFatalTask(task) {
		s.State = StateFailed
		s.Message = fmt.Sprintf("fatal task %s failed", task)
	}
	s.UpdatedAt = time.Now().UTC()
}

// Finalize computes the terminal state once pending reaches zero. While work
// is still pending the state stays processing (unless a fatal failure
// already moved it to failed).
func (s *AssetStatus) Finalize(pending int) {
	s.UpdatedAt = time.Now().UTC()
	if s.State == StateFailed {
		return
	}
	if pending > 0 {
		s.State = StateProcessing
		return
	}
	switch {
	case s.HasFatalErrors():
		s.State = StateFailed
		s.Message = "asset processing failed"
	case len(s.Errors) > 0:
		s.State = StateWarning
		s.Message = fmt.Sprintf("asset processed with %d failed task(s)", len(s.Errors))
	default:
		s.State = StateComplete
		s.Message = "asset processed successfully"
	}
}

// IsRetryable reports whether the retry workflow accepts this asset.
func (s AssetStatus) IsRetryable() bool {
	return s.State == StateWarning || s.State == StateFailed
}

func (s AssetStatus) HasFatalErrors() bool {
	for _, e := range s.Errors {
		if fatalTasks[e.Task] {
			return true
		}
	}
	return false
}

// FailedTasks returns the task names currently recorded in the error ledger.
func (s AssetStatus) FailedTasks() []string {
	tasks := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		tasks = append(tasks, e.Task)
	}
	return tasks
}

func (s AssetStatus) MarshalJSONB() ([]byte, error) {
	return json.Marshal(s)
}

func StatusFromJSONB(data []byte) (AssetStatus, error) {
	var s AssetStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return AssetStatus{}, fmt.Errorf("unmarshal asset status: %w", err)
	}
	return s, nil
}
