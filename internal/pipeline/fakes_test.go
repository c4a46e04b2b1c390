package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
)

type fakeAssetStore struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*models.Asset

	thumbnails []*models.Thumbnail
	embeddings map[uuid.UUID][]float32
	metadata   map[uuid.UUID]map[string]any

	// saveThumbnailHook, when set, replaces SaveThumbnail.
	saveThumbnailHook func(*models.Thumbnail) error
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{
		assets:     make(map[uuid.UUID]*models.Asset),
		embeddings: make(map[uuid.UUID][]float32),
		metadata:   make(map[uuid.UUID]map[string]any),
	}
}

func (s *fakeAssetStore) CreateAsset(_ context.Context, a *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.assets[a.ID] = &copied
	return nil
}

func (s *fakeAssetStore) GetAsset(_ context.Context, id uuid.UUID) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, storage.ErrAssetNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeAssetStore) FindByHashAndOwner(_ context.Context, hash, ownerID string) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.Hash == hash && a.OwnerID == ownerID && a.DeletedAt == nil {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeAssetStore) mutate(id uuid.UUID, fn func(a *models.Asset)) (models.AssetStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return models.AssetStatus{}, storage.ErrAssetNotFound
	}
	fn(a)
	return a.Status, nil
}

func (s *fakeAssetStore) ResolveTask(_ context.Context, id uuid.UUID, task string) (models.AssetStatus, error) {
	return s.mutate(id, func(a *models.Asset) {
		a.Status.ResolveTask(task)
		a.PendingTasks = removePending(a.PendingTasks, task)
		a.Status.Finalize(len(a.PendingTasks))
	})
}

func (s *fakeAssetStore) FailTask(_ context.Context, id uuid.UUID, task, message string) (models.AssetStatus, error) {
	return s.mutate(id, func(a *models.Asset) {
		a.Status.RecordFailure(task, message)
		a.PendingTasks = removePending(a.PendingTasks, task)
		if models.IsFatalTask(task) {
			a.PendingTasks = nil
		}
		a.Status.Finalize(len(a.PendingTasks))
	})
}

func (s *fakeAssetStore) SetPendingTasks(_ context.Context, id uuid.UUID, tasks []string, message string) error {
	_, err := s.mutate(id, func(a *models.Asset) {
		a.Status.State = models.StateProcessing
		a.Status.Message = message
		a.PendingTasks = tasks
	})
	return err
}

func (s *fakeAssetStore) UpdateDimensions(_ context.Context, id uuid.UUID, width, height int32) error {
	_, err := s.mutate(id, func(a *models.Asset) {
		a.Width, a.Height = &width, &height
	})
	return err
}

func (s *fakeAssetStore) UpdateDuration(_ context.Context, id uuid.UUID, seconds float64) error {
	_, err := s.mutate(id, func(a *models.Asset) { a.DurationSeconds = &seconds })
	return err
}

func (s *fakeAssetStore) SetCapturedAt(_ context.Context, id uuid.UUID, capturedAt time.Time) error {
	_, err := s.mutate(id, func(a *models.Asset) { a.CapturedAt = &capturedAt })
	return err
}

func (s *fakeAssetStore) MergeMetadata(_ context.Context, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[id]; !ok {
		return storage.ErrAssetNotFound
	}
	m := s.metadata[id]
	if m == nil {
		m = make(map[string]any)
		s.metadata[id] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (s *fakeAssetStore) SaveThumbnail(_ context.Context, t *models.Thumbnail) error {
	if s.saveThumbnailHook != nil {
		return s.saveThumbnailHook(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thumbnails = append(s.thumbnails, t)
	return nil
}

func (s *fakeAssetStore) SaveEmbedding(_ context.Context, assetID uuid.UUID, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[assetID] = vector
	return nil
}

func (s *fakeAssetStore) get(id uuid.UUID) *models.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets[id]
}

func (s *fakeAssetStore) embedding(id uuid.UUID) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddings[id]
}

func (s *fakeAssetStore) thumbnailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.thumbnails)
}

func removePending(tasks []string, task string) []string {
	kept := tasks[:0]
	for _, t := range tasks {
		if t != task {
			kept = append(kept, t)
		}
	}
	return kept
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(_ context.Context, path string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *fakeBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", path, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *fakeBlobStore) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []queue.Args
}

func (s *fakeSubmitter) Submit(_ context.Context, args queue.Args, _ ...queue.SubmitOption) (*queue.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, args)
	return &queue.JobHandle{ID: uuid.New(), Kind: args.Kind()}, nil
}

func (s *fakeSubmitter) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.submitted))
	for _, args := range s.submitted {
		out = append(out, string(args.Kind()))
	}
	return out
}

type fakeInference struct {
	embedFn   func(ctx context.Context, assetID string, image []byte) ([]float32, error)
	ocrFn     func(ctx context.Context, assetID string, image []byte) (string, error)
	captionFn func(ctx context.Context, assetID string, image []byte, prompt string) (string, error)
	faceFn    func(ctx context.Context, assetID string, image []byte) ([]ml.FaceBox, error)
}

func (f *fakeInference) Embed(ctx context.Context, assetID string, image []byte) ([]float32, error) {
	return f.embedFn(ctx, assetID, image)
}

func (f *fakeInference) OCR(ctx context.Context, assetID string, image []byte) (string, error) {
	return f.ocrFn(ctx, assetID, image)
}

func (f *fakeInference) Caption(ctx context.Context, assetID string, image []byte, prompt string) (string, error) {
	return f.captionFn(ctx, assetID, image, prompt)
}

func (f *fakeInference) DetectFaces(ctx context.Context, assetID string, image []byte) ([]ml.FaceBox, error) {
	return f.faceFn(ctx, assetID, image)
}
