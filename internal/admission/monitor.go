// Package admission applies memory-aware backpressure to upload intake.
// Rejected uploads carry an explicit reason so the caller can retry later or
// chunk differently; this is not a hard queue.
package admission

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// ChunkConfig is the upload configuration derived from available memory.
type ChunkConfig struct {
	ChunkSize     int64 `json:"chunk_size"`
	MaxConcurrent int   `json:"max_concurrent"`
	MemoryBuffer  int64 `json:"memory_buffer"`
}

// MemoryInfo is the subset of system memory state the controller samples.
type MemoryInfo struct {
	Available uint64
	Total     uint64
}

// Sampler reads current system memory. Injectable for tests.
type Sampler func() (MemoryInfo, error)

func systemSampler() (MemoryInfo, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryInfo{}, err
	}
	return MemoryInfo{Available: vm.Available, Total: vm.Total}, nil
}

// Monitor computes chunk sizing and admits or refuses uploads based on
// projected memory demand. Results are cached briefly so hot request paths
// don't sample system memory every time.
type Monitor struct {
	sample        Sampler
	cacheDuration time.Duration

	mu          sync.Mutex
	cached      *ChunkConfig
	lastUpdated time.Time
}

type Option func(*Monitor)

// WithSampler replaces the system memory sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sample = s }
}

// WithCacheDuration overrides the config cache TTL.
func WithCacheDuration(d time.Duration) Option {
	return func(m *Monitor) { m.cacheDuration = d }
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		sample:        systemSampler,
		cacheDuration: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

const mib = 1024 * 1024

// GetOptimalChunkConfig returns chunk size and concurrency as a step
// function of currently available memory, down to a conservative floor under
// pressure.
func (m *Monitor) GetOptimalChunkConfig() *ChunkConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && time.Since(m.lastUpdated) < m.cacheDuration {
		return m.cached
	}

	info, err := m.sample()
	if err != nil {
		slog.Warn("memory sample failed, using default chunk config", "error", err)
		return defaultConfig()
	}

	availableMB := int64(info.Available) / mib

	var chunkSize int64
	var maxConcurrent int
	switch {
	case availableMB > 4096:
		chunkSize = 20 * mib
		maxConcurrent = 8
	case availableMB > 2048:
		chunkSize = 10 * mib
		maxConcurrent = 5
	case availableMB > 1024:
		chunkSize = 5 * mib
		maxConcurrent = 3
	default:
		chunkSize = 2 * mib
		maxConcurrent = 2
	}

	cfg := &ChunkConfig{
		ChunkSize:     chunkSize,
		MaxConcurrent: maxConcurrent,
		MemoryBuffer:  int64(float64(info.Available) * 0.1),
	}
	m.cached = cfg
	m.lastUpdated = time.Now()

	slog.Debug("chunk config refreshed",
		"available_mb", availableMB,
		"chunk_size_mb", chunkSize/mib,
		"max_concurrent", maxConcurrent)

	return cfg
}

// CanAcceptNewUpload estimates the request's working set as twice the
// declared file size (decode and processing buffers) plus the safety buffer,
// and refuses when available memory cannot cover it. Sampling failures fall
// open: refusing all intake on a broken probe would be worse than admitting.
func (m *Monitor) CanAcceptNewUpload(fileSize int64) (bool, string) {
	cfg := m.GetOptimalChunkConfig()

	info, err := m.sample()
	if err != nil {
		return true, "memory check unavailable"
	}

	required := fileSize*2 + cfg.MemoryBuffer
	available := int64(info.Available)

	if available < required {
		return false, fmt.Sprintf("insufficient memory: available=%dMB, required=%dMB",
			available/mib, required/mib)
	}
	return true, "sufficient memory available"
}

func defaultConfig() *ChunkConfig {
	return &ChunkConfig{
		ChunkSize:     5 * mib,
		MaxConcurrent: 3,
		MemoryBuffer:  100 * mib,
	}
}
