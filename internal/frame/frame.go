// Package frame paces the CPU against asynchronous GPU execution.
//
// A Ring holds one record per frame that may be in flight. A record becomes
// outstanding when its frame is presented and is retired once the GPU
// reports its completion token as done. Retiring releases the ephemeral
// allocations and runs the deferred deletions the frame collected.
package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a blocking wait gives up.
var ErrTimeout = errors.New("frame: timed out waiting for GPU")

// Completion reports GPU progress as the highest completed submission token.
// hal.Queue satisfies it through PollCompleted.
type Completion interface {
	PollCompleted() uint64
}

// PollInterval is the sleep between completion polls in blocking waits.
var PollInterval = 200 * time.Microsecond

type slot struct {
	token       uint64
	outstanding bool
	frameNum    uint64
	cursor      uint64
	ephemeral   []func()
	deletions   []func()
}

// retire releases ephemeral allocations first, then runs deferred deletions
// in the order they were queued.
func (s *slot) retire() {
	for _, release := range s.ephemeral {
		release()
	}
	for _, del := range s.deletions {
		del()
	}
	clear(s.ephemeral)
	clear(s.deletions)
	s.ephemeral = s.ephemeral[:0]
	s.deletions = s.deletions[:0]
	s.outstanding = false
}

// Stats is a snapshot of ring counters.
type Stats struct {
	FrameNum        uint64
	InFlight        int
	Slots           int
	LastSyncedFrame uint64
	Stalls          uint64
	Retired         uint64
	RingWaits       uint64
}

// Ring is the fixed-depth array of in-flight frame records.
type Ring struct {
	slots      []slot
	completion Completion
	frameNum   uint64

	lastSyncedFrame  uint64
	lastSyncedCursor uint64

	stalls    atomic.Uint64
	retired   atomic.Uint64
	ringWaits atomic.Uint64
}

// NewRing creates a ring with n slots polling c for completion.
func NewRing(n int, c Completion) *Ring {
	if n < 1 {
		panic(fmt.Sprintf("frame: ring depth %d < 1", n))
	}
	return &Ring{slots: make([]slot, n), completion: c}
}

// Len returns the number of slots (the maximum frames in flight).
func (r *Ring) Len() int { return len(r.slots) }

// FrameNum returns the number of frames presented so far.
func (r *Ring) FrameNum() uint64 { return r.frameNum }

// Current returns the index of the slot the frame being recorded uses.
func (r *Ring) Current() int { return int(r.frameNum % uint64(len(r.slots))) } //nolint:gosec // G115: bounded by len

// LastSynced returns the latest retired frame number and the ring buffer
// cursor that frame had reached. Bytes before the cursor are consumed.
func (r *Ring) LastSynced() (frameNum, cursor uint64) {
	return r.lastSyncedFrame, r.lastSyncedCursor
}

// InFlight returns the number of outstanding slots.
func (r *Ring) InFlight() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].outstanding {
			n++
		}
	}
	return n
}

// TrackEphemeral attaches the release of an ephemeral allocation to the
// frame being recorded.
func (r *Ring) TrackEphemeral(release func()) {
	s := &r.slots[r.Current()]
	s.ephemeral = append(s.ephemeral, release)
}

// Defer queues fn to run when the frame being recorded retires.
func (r *Ring) Defer(fn func()) {
	s := &r.slots[r.Current()]
	s.deletions = append(s.deletions, fn)
}

func (r *Ring) tryRetire(i int) bool {
	s := &r.slots[i]
	if !s.outstanding {
		return true
	}
	if r.completion.PollCompleted() < s.token {
		return false
	}
	r.retireSlot(s)
	return true
}

func (r *Ring) retireSlot(s *slot) {
	r.lastSyncedFrame = max(r.lastSyncedFrame, s.frameNum)
	r.lastSyncedCursor = max(r.lastSyncedCursor, s.cursor)
	s.retire()
	r.retired.Add(1)
}

// Begin prepares the slot for the next frame. It never blocks: if the slot
// is still outstanding it returns false and the caller pumps its event loop
// and retries.
func (r *Ring) Begin() bool {
	if r.tryRetire(r.Current()) {
		return true
	}
	r.stalls.Add(1)
	return false
}

// Present marks the current slot outstanding until completion reaches token,
// records the ring buffer cursor the frame reached and advances the frame
// number.
func (r *Ring) Present(token, cursor uint64) {
	s := &r.slots[r.Current()]
	if s.outstanding {
		panic("frame: present into an outstanding slot")
	}
	s.token = token
	s.cursor = cursor
	s.frameNum = r.frameNum
	s.outstanding = true
	r.frameNum++
}

// wait blocks until slot i retires, calling pump between polls.
func (r *Ring) wait(i int, timeout time.Duration, pump func()) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for !r.tryRetire(i) {
		if pump != nil {
			pump()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: frame %d after %v", ErrTimeout, r.slots[i].frameNum, timeout)
		}
		time.Sleep(PollInterval)
	}
	return nil
}

// WaitIdle waits for every outstanding slot, oldest first. A zero timeout
// waits forever.
func (r *Ring) WaitIdle(timeout time.Duration, pump func()) error {
	for {
		i, ok := r.oldest()
		if !ok {
			return nil
		}
		if err := r.wait(i, timeout, pump); err != nil {
			return err
		}
	}
}

// RetireOldest waits for the oldest outstanding slot. It reports false when
// no slot was outstanding.
func (r *Ring) RetireOldest(timeout time.Duration, pump func()) (bool, error) {
	i, ok := r.oldest()
	if !ok {
		return false, nil
	}
	return true, r.wait(i, timeout, pump)
}

func (r *Ring) oldest() (int, bool) {
	best, found := 0, false
	for i := range r.slots {
		s := &r.slots[i]
		if s.outstanding && (!found || s.frameNum < r.slots[best].frameNum) {
			best, found = i, true
		}
	}
	return best, found
}

// Resize changes the ring depth. Every slot must be idle; the current
// frame's pending releases and deletions carry over to the new ring.
func (r *Ring) Resize(n int) {
	if n < 1 {
		panic(fmt.Sprintf("frame: ring depth %d < 1", n))
	}
	if r.InFlight() != 0 {
		panic("frame: resize with frames in flight")
	}
	if n == len(r.slots) {
		return
	}
	var carry slot
	for i := range r.slots {
		carry.ephemeral = append(carry.ephemeral, r.slots[i].ephemeral...)
		carry.deletions = append(carry.deletions, r.slots[i].deletions...)
	}
	r.slots = make([]slot, n)
	r.slots[r.Current()] = carry
}

// Rebase marks every ring buffer byte before cursor as consumed, as when the
// backing buffer is replaced. Every slot must be idle.
func (r *Ring) Rebase(cursor uint64) {
	if r.InFlight() != 0 {
		panic("frame: rebase with frames in flight")
	}
	r.lastSyncedCursor = max(r.lastSyncedCursor, cursor)
}

// Drain runs every pending release and deletion. Every slot must be idle.
func (r *Ring) Drain() {
	if r.InFlight() != 0 {
		panic("frame: drain with frames in flight")
	}
	for i := range r.slots {
		r.slots[i].retire()
	}
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	return Stats{
		FrameNum:        r.frameNum,
		InFlight:        r.InFlight(),
		Slots:           len(r.slots),
		LastSyncedFrame: r.lastSyncedFrame,
		Stalls:          r.stalls.Load(),
		Retired:         r.retired.Load(),
		RingWaits:       r.ringWaits.Load(),
	}
}
