package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedSampler(availableMB uint64) Sampler {
	return func() (MemoryInfo, error) {
		return MemoryInfo{Available: availableMB * mib, Total: 16 * 1024 * mib}, nil
	}
}

func TestChunkConfigStepsWithAvailableMemory(t *testing.T) {
	cases := []struct {
		availableMB   uint64
		wantChunkMB   int64
		wantConcurrent int
	}{
		{8192, 20, 8},
		{3000, 10, 5},
		{1500, 5, 3},
		{512, 2, 2},
	}

	for _, tc := range cases {
		m := NewMonitor(WithSampler(fixedSampler(tc.availableMB)), WithCacheDuration(0))
		cfg := m.GetOptimalChunkConfig()
		assert.Equal(t, tc.wantChunkMB*mib, cfg.ChunkSize, "available=%dMB", tc.availableMB)
		assert.Equal(t, tc.wantConcurrent, cfg.MaxConcurrent, "available=%dMB", tc.availableMB)
	}
}

func TestChunkConfigIsCached(t *testing.T) {
	calls := 0
	sampler := func() (MemoryInfo, error) {
		calls++
		return MemoryInfo{Available: 8192 * mib}, nil
	}

	m := NewMonitor(WithSampler(sampler), WithCacheDuration(time.Hour))
	m.GetOptimalChunkConfig()
	m.GetOptimalChunkConfig()
	m.GetOptimalChunkConfig()

	assert.Equal(t, 1, calls, "config should come from cache within the TTL")
}

func TestBufferIsTenPercentOfAvailable(t *testing.T) {
	m := NewMonitor(WithSampler(fixedSampler(1000)), WithCacheDuration(0))
	cfg := m.GetOptimalChunkConfig()
	assert.Equal(t, int64(100*mib), cfg.MemoryBuffer)
}

func TestAdmissionRejectsWhenProjectedDemandExceedsAvailable(t *testing.T) {
	// 1000MB available, buffer 100MB: a 600MB file needs 2*600+100 = 1300MB.
	m := NewMonitor(WithSampler(fixedSampler(1000)), WithCacheDuration(0))

	ok, reason := m.CanAcceptNewUpload(600 * mib)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.Contains(t, reason, "insufficient memory")
}

func TestAdmissionAcceptsWhenDemandFits(t *testing.T) {
	// 1000MB available, buffer 100MB: a 400MB file needs 2*400+100 = 900MB.
	m := NewMonitor(WithSampler(fixedSampler(1000)), WithCacheDuration(0))

	ok, reason := m.CanAcceptNewUpload(400 * mib)
	assert.True(t, ok)
	assert.NotEmpty(t, reason)
}

func TestAdmissionFallsOpenOnSamplerFailure(t *testing.T) {
	failing := func() (MemoryInfo, error) {
		return MemoryInfo{}, errors.New("probe unavailable")
	}
	m := NewMonitor(WithSampler(failing), WithCacheDuration(0))

	ok, reason := m.CanAcceptNewUpload(100 * mib)
	assert.True(t, ok)
	assert.Equal(t, "memory check unavailable", reason)
}
