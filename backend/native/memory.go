package native

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMemoryBudgetExceeded is returned when a persistent allocation would
// exceed the device memory budget.
var ErrMemoryBudgetExceeded = errors.New("native: memory budget exceeded")

// Default memory limits.
const (
	// DefaultMaxMemoryMB is the default budget for persistent resources.
	DefaultMaxMemoryMB = 512

	// MinMemoryMB is the smallest accepted budget.
	MinMemoryMB = 16
)

type memoryKind uint8

const (
	memoryBuffer memoryKind = iota
	memoryTexture
	memoryRenderTarget
	memoryRing
	memoryKinds
)

// MemoryStats contains GPU memory usage statistics.
type MemoryStats struct {
	// TotalBytes is the memory budget in bytes.
	TotalBytes uint64

	// UsedBytes is the memory held by persistent resources and the ring.
	UsedBytes uint64

	BufferBytes       uint64
	TextureBytes      uint64
	RenderTargetBytes uint64
	RingBytes         uint64

	// Utilization is the fraction of the budget in use (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d MB, buffers %d KB, textures %d KB, targets %d KB, ring %d KB]",
		s.Utilization*100,
		s.UsedBytes/(1024*1024),
		s.TotalBytes/(1024*1024),
		s.BufferBytes/1024,
		s.TextureBytes/1024,
		s.RenderTargetBytes/1024,
		s.RingBytes/1024)
}

// memoryTracker accounts GPU allocations against a budget. It is read by
// Stats from other goroutines, so it carries its own lock.
type memoryTracker struct {
	mu     sync.RWMutex
	budget uint64
	used   [memoryKinds]uint64
}

func newMemoryTracker(megabytes int) *memoryTracker {
	if megabytes < MinMemoryMB {
		megabytes = DefaultMaxMemoryMB
	}
	//nolint:gosec // G115: megabytes bounded by MinMemoryMB minimum
	return &memoryTracker{budget: uint64(megabytes) * 1024 * 1024}
}

func (m *memoryTracker) totalLocked() uint64 {
	var n uint64
	for _, v := range m.used {
		n += v
	}
	return n
}

// reserve accounts bytes of kind, failing when the budget would be exceeded.
func (m *memoryTracker) reserve(kind memoryKind, bytes uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total := m.totalLocked(); total+bytes > m.budget {
		return fmt.Errorf("%w: %d KB requested, %d of %d MB used",
			ErrMemoryBudgetExceeded, bytes/1024, total/(1024*1024), m.budget/(1024*1024))
	}
	m.used[kind] += bytes
	return nil
}

func (m *memoryTracker) release(kind memoryKind, bytes uint64) {
	m.mu.Lock()
	m.used[kind] -= min(bytes, m.used[kind])
	m.mu.Unlock()
}

func (m *memoryTracker) stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := m.totalLocked()
	var utilization float64
	if m.budget > 0 {
		utilization = float64(used) / float64(m.budget)
	}
	return MemoryStats{
		TotalBytes:        m.budget,
		UsedBytes:         used,
		BufferBytes:       m.used[memoryBuffer],
		TextureBytes:      m.used[memoryTexture],
		RenderTargetBytes: m.used[memoryRenderTarget],
		RingBytes:         m.used[memoryRing],
		Utilization:       utilization,
	}
}
