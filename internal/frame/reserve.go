package frame

import (
	"errors"
	"time"

	"github.com/gogpu/framegraph/internal/ring"
)

// ErrRingFull is returned by Reserve when the frame being recorded has
// filled the ring buffer by itself.
var ErrRingFull = errors.New("frame: ring buffer full")

// Reserve allocates size bytes from a without overwriting bytes that frames
// still in flight may read. When the allocation would reach such bytes it
// waits for the oldest frames to retire first, calling pump between polls.
func (r *Ring) Reserve(a *ring.Allocator, size, alignment uint64, timeout time.Duration, pump func()) (uint64, error) {
	for {
		_, end, err := a.Peek(size, alignment)
		if err != nil {
			return 0, err
		}
		if end-r.lastSyncedCursor <= a.Size() {
			return a.Allocate(size, alignment)
		}

		waited, err := r.RetireOldest(timeout, pump)
		if err != nil {
			return 0, err
		}
		if !waited {
			return 0, ErrRingFull
		}
		r.ringWaits.Add(1)
	}
}
