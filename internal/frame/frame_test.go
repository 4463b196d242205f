package frame

import (
	"errors"
	"testing"
	"time"
)

// timeline is a fake GPU: submissions complete only when advanced.
type timeline struct {
	completed uint64
	onPoll    func(*timeline)
}

func (t *timeline) PollCompleted() uint64 {
	if t.onPoll != nil {
		t.onPoll(t)
	}
	return t.completed
}

func TestBeginFailsWhileSlotOutstanding(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(2, gpu)

	for token := uint64(1); token <= 2; token++ {
		if !r.Begin() {
			t.Fatalf("Begin() frame %d = false, want true", token)
		}
		r.Present(token, 0)
	}
	if got := r.InFlight(); got != 2 {
		t.Fatalf("InFlight() = %d, want 2", got)
	}

	// Slot 0 still holds token 1.
	if r.Begin() {
		t.Fatal("Begin() = true with slot outstanding")
	}
	if r.Stats().Stalls != 1 {
		t.Errorf("Stalls = %d, want 1", r.Stats().Stalls)
	}

	gpu.completed = 1
	if !r.Begin() {
		t.Fatal("Begin() = false after completion")
	}
	if got := r.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}
}

func TestFrameBound(t *testing.T) {
	const depth = 3
	gpu := &timeline{}
	r := NewRing(depth, gpu)

	token := uint64(0)
	for i := 0; i < 50; i++ {
		for !r.Begin() {
			gpu.completed++
		}
		token++
		r.Present(token, 0)
		if r.InFlight() > depth {
			t.Fatalf("InFlight() = %d exceeds depth %d", r.InFlight(), depth)
		}
	}
}

func TestRetireReleasesInOrder(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(2, gpu)

	var order []string
	r.Begin()
	r.TrackEphemeral(func() { order = append(order, "buffer") })
	r.Defer(func() { order = append(order, "texture") })
	r.Present(1, 640)

	if len(order) != 0 {
		t.Fatalf("released before completion: %v", order)
	}

	gpu.completed = 1
	if err := r.WaitIdle(0, nil); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "buffer" || order[1] != "texture" {
		t.Errorf("release order = %v, want [buffer texture]", order)
	}
	frameNum, cursor := r.LastSynced()
	if frameNum != 0 || cursor != 640 {
		t.Errorf("LastSynced() = (%d, %d), want (0, 640)", frameNum, cursor)
	}
}

func TestWaitIdlePumps(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(3, gpu)
	for token := uint64(1); token <= 3; token++ {
		r.Begin()
		r.Present(token, token*100)
	}

	pumps := 0
	pump := func() {
		pumps++
		gpu.completed++
	}
	if err := r.WaitIdle(time.Second, pump); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if pumps == 0 {
		t.Error("WaitIdle never pumped the event loop")
	}
	if r.InFlight() != 0 {
		t.Errorf("InFlight() = %d after WaitIdle", r.InFlight())
	}
	if _, cursor := r.LastSynced(); cursor != 300 {
		t.Errorf("last synced cursor = %d, want 300", cursor)
	}
}

func TestWaitIdleTimeout(t *testing.T) {
	r := NewRing(2, &timeline{})
	r.Begin()
	r.Present(1, 0)
	err := r.WaitIdle(time.Millisecond, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitIdle() error = %v, want ErrTimeout", err)
	}
}

func TestRetireOldest(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(3, gpu)
	r.Begin()
	r.Present(1, 10)
	r.Begin()
	r.Present(2, 20)

	gpu.onPoll = func(tl *timeline) { tl.completed = 1 }
	ok, err := r.RetireOldest(time.Second, nil)
	if !ok || err != nil {
		t.Fatalf("RetireOldest() = %v, %v", ok, err)
	}
	if _, cursor := r.LastSynced(); cursor != 10 {
		t.Errorf("cursor = %d, want 10", cursor)
	}
	if r.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", r.InFlight())
	}

	gpu.onPoll = func(tl *timeline) { tl.completed = 2 }
	r.RetireOldest(time.Second, nil)
	if ok, _ := r.RetireOldest(time.Second, nil); ok {
		t.Error("RetireOldest() reported work with nothing outstanding")
	}
}

func TestResizeCarriesPendingWork(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(2, gpu)
	r.Begin()
	released := false
	r.TrackEphemeral(func() { released = true })

	r.Resize(4)
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	r.Present(1, 0)
	gpu.completed = 1
	r.WaitIdle(0, nil)
	if !released {
		t.Error("pending release lost across Resize")
	}
}

func TestResizePanicsWithFramesInFlight(t *testing.T) {
	r := NewRing(2, &timeline{})
	r.Begin()
	r.Present(1, 0)
	defer func() {
		if recover() == nil {
			t.Error("Resize with frames in flight did not panic")
		}
	}()
	r.Resize(3)
}

func TestRebase(t *testing.T) {
	tl := &timeline{}
	r := NewRing(2, tl)
	r.Begin()
	r.Present(1, 100)
	tl.completed = 1
	if err := r.WaitIdle(time.Second, nil); err != nil {
		t.Fatal(err)
	}
	r.Rebase(512)
	if _, cursor := r.LastSynced(); cursor != 512 {
		t.Errorf("LastSynced() cursor = %d, want 512", cursor)
	}
	r.Rebase(10)
	if _, cursor := r.LastSynced(); cursor != 512 {
		t.Errorf("Rebase moved the cursor backwards to %d", cursor)
	}
}
