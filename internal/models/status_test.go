package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessingStatus(t *testing.T) {
	s := NewProcessingStatus("ingest accepted")

	assert.Equal(t, StateProcessing, s.State)
	assert.Equal(t, "ingest accepted", s.Message)
	assert.Empty(t, s.Errors)
	assert.False(t, s.UpdatedAt.IsZero())
}

func TestRecordFailureReplacesEntry(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskThumbnail, "resize failed")
	s.RecordFailure(TaskThumbnail, "resize failed again")

	require.Len(t, s.Errors, 1)
	assert.Equal(t, "resize failed again", s.Errors[0].Error)
	assert.Equal(t, StateProcessing, s.State)
}

func TestRecordFatalFailureFlipsToFailed(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskFileCorrupted, "bad magic bytes")

	assert.Equal(t, StateFailed, s.State)
	assert.True(t, s.HasFatalErrors())
}

func TestResolveTaskClearsLedgerEntry(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskOCR, "unavailable")
	s.RecordFailure(TaskClip, "unavailable")

	s.ResolveTask(TaskOCR)

	require.Len(t, s.Errors, 1)
	assert.Equal(t, TaskClip, s.Errors[0].Task)
}

func TestFinalizeStaysProcessingWhilePending(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskCaption, "unavailable")

	s.Finalize(2)

	assert.Equal(t, StateProcessing, s.State)
}

func TestFinalizeCompleteWithoutErrors(t *testing.T) {
	s := NewProcessingStatus("")

	s.Finalize(0)

	assert.Equal(t, StateComplete, s.State)
	assert.Empty(t, s.Errors)
}

func TestFinalizeWarningWithNonFatalErrors(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskFace, "model overloaded")

	s.Finalize(0)

	assert.Equal(t, StateWarning, s.State)
	assert.True(t, s.IsRetryable())
}

func TestFinalizeFailedDominatesWarning(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskThumbnail, "resize failed")
	s.RecordFailure(TaskFileRead, "object missing")

	s.Finalize(0)

	assert.Equal(t, StateFailed, s.State)
}

func TestFailedStateSticksThroughFinalize(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskInitialValidation, "hash mismatch")

	// Pending siblings do not pull a failed asset back to processing.
	s.Finalize(3)
	assert.Equal(t, StateFailed, s.State)

	s.Finalize(0)
	assert.Equal(t, StateFailed, s.State)
}

func TestFailedTasks(t *testing.T) {
	s := NewProcessingStatus("")
	s.RecordFailure(TaskOCR, "x")
	s.RecordFailure(TaskTranscode, "y")

	assert.ElementsMatch(t, []string{TaskOCR, TaskTranscode}, s.FailedTasks())
}

func TestStatusJSONBRoundTrip(t *testing.T) {
	s := NewProcessingStatus("working")
	s.RecordFailure(TaskMetadata, "probe failed")

	data, err := s.MarshalJSONB()
	require.NoError(t, err)

	got, err := StatusFromJSONB(data)
	require.NoError(t, err)
	assert.Equal(t, s.State, got.State)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, TaskMetadata, got.Errors[0].Task)
}

func TestIsFatalTask(t *testing.T) {
	assert.True(t, IsFatalTask(TaskFileRead))
	assert.True(t, IsFatalTask(TaskInitialValidation))
	assert.True(t, IsFatalTask(TaskFileCorrupted))
	assert.False(t, IsFatalTask(TaskThumbnail))
}
