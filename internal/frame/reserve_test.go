package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/framegraph/internal/ring"
)

func TestReserveWaitsForOldFrames(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(2, gpu)
	a, _ := ring.New(1024)

	r.Begin()
	if off, err := r.Reserve(a, 600, 8, time.Second, nil); err != nil || off != 0 {
		t.Fatalf("Reserve(600) = %d, %v", off, err)
	}
	r.Present(1, a.Cursor())

	r.Begin()
	gpu.onPoll = func(tl *timeline) { tl.completed = 1 }
	off, err := r.Reserve(a, 500, 8, time.Second, nil)
	if err != nil {
		t.Fatalf("Reserve(500) error = %v", err)
	}
	if off != 0 {
		t.Errorf("Reserve(500) = %d, want 0 after wrap", off)
	}
	if r.Stats().RingWaits != 1 {
		t.Errorf("RingWaits = %d, want 1", r.Stats().RingWaits)
	}
	if r.InFlight() != 0 {
		t.Errorf("frame 0 still in flight after Reserve waited for it")
	}
}

func TestReserveFullWithinOneFrame(t *testing.T) {
	r := NewRing(2, &timeline{})
	a, _ := ring.New(1024)
	r.Begin()
	if _, err := r.Reserve(a, 600, 8, time.Second, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reserve(a, 500, 8, time.Second, nil); !errors.Is(err, ErrRingFull) {
		t.Errorf("Reserve() error = %v, want ErrRingFull", err)
	}
}

func TestReserveTooLarge(t *testing.T) {
	r := NewRing(2, &timeline{})
	a, _ := ring.New(256)
	if _, err := r.Reserve(a, 257, 4, 0, nil); !errors.Is(err, ring.ErrAllocationTooLarge) {
		t.Errorf("Reserve() error = %v, want ring.ErrAllocationTooLarge", err)
	}
}

func TestReservePumpsWhileWaiting(t *testing.T) {
	gpu := &timeline{}
	r := NewRing(2, gpu)
	a, _ := ring.New(1024)

	r.Begin()
	if _, err := r.Reserve(a, 600, 8, time.Second, nil); err != nil {
		t.Fatal(err)
	}
	r.Present(1, a.Cursor())

	r.Begin()
	pumps := 0
	gpu.onPoll = func(tl *timeline) {
		if pumps >= 3 {
			tl.completed = 1
		}
	}
	if _, err := r.Reserve(a, 500, 8, time.Second, func() { pumps++ }); err != nil {
		t.Fatalf("Reserve(500) error = %v", err)
	}
	if pumps != 3 {
		t.Errorf("pump called %d times, want 3", pumps)
	}
}
