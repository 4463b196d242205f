package pool

import "testing"

type record struct {
	name string
	size int
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestAddGet(t *testing.T) {
	p := New[record]()
	rec, h := p.Add(record{name: "a", size: 1})
	if !h.IsValid() {
		t.Fatal("Add() returned invalid handle")
	}
	rec.size = 7

	got := p.Get(h)
	if got.name != "a" || got.size != 7 {
		t.Errorf("Get() = %+v, want {a 7}", *got)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestZeroHandleInvalid(t *testing.T) {
	var h Handle
	if h.IsValid() {
		t.Error("zero Handle must be invalid")
	}
	p := New[record]()
	p.Add(record{})
	mustPanic(t, "Get(0)", func() { p.Get(0) })
	if _, ok := p.Lookup(0); ok {
		t.Error("Lookup(0) reported live")
	}
}

func TestStaleHandle(t *testing.T) {
	p := New[record]()
	_, h := p.Add(record{name: "old"})

	cleaned := ""
	p.Remove(h, func(r *record) { cleaned = r.name })
	if cleaned != "old" {
		t.Errorf("cleanup saw %q, want %q", cleaned, "old")
	}

	mustPanic(t, "Get(stale)", func() { p.Get(h) })
	mustPanic(t, "Remove(twice)", func() { p.Remove(h, nil) })

	// The slot is recycled with a new generation.
	_, h2 := p.Add(record{name: "new"})
	if h2 == h {
		t.Fatal("recycled slot reused the stale handle value")
	}
	if h2.index() != h.index() {
		t.Errorf("slot not recycled: index %d, want %d", h2.index(), h.index())
	}
	if _, ok := p.Lookup(h); ok {
		t.Error("stale handle resolved after slot reuse")
	}
	if got := p.Get(h2).name; got != "new" {
		t.Errorf("Get(h2).name = %q, want %q", got, "new")
	}
}

func TestPointerStability(t *testing.T) {
	p := New[record]()
	first, h := p.Add(record{name: "first"})
	for i := 0; i < 3*pageSize; i++ {
		p.Add(record{size: i})
	}
	if p.Get(h) != first {
		t.Error("record pointer moved while the pool grew")
	}
	if first.name != "first" {
		t.Errorf("record changed: %+v", *first)
	}
}

func TestEachAndHandles(t *testing.T) {
	p := New[record]()
	var hs []Handle
	for i := 0; i < 5; i++ {
		_, h := p.Add(record{size: i})
		hs = append(hs, h)
	}
	p.Remove(hs[1], nil)
	p.Remove(hs[3], nil)

	sum := 0
	p.Each(func(_ Handle, r *record) { sum += r.size })
	if sum != 0+2+4 {
		t.Errorf("Each sum = %d, want 6", sum)
	}
	if got := len(p.Handles()); got != 3 {
		t.Errorf("len(Handles()) = %d, want 3", got)
	}
	if !p.Contains(hs[4]) || p.Contains(hs[3]) {
		t.Error("Contains() mismatch")
	}
}

func TestHandleString(t *testing.T) {
	tests := []struct {
		h    Handle
		want string
	}{
		{0, "#invalid"},
		{makeHandle(0, 0), "#0.0"},
		{makeHandle(5, 2), "#5.2"},
	}
	for _, tt := range tests {
		if got := tt.h.String(); got != tt.want {
			t.Errorf("Handle(%d).String() = %q, want %q", uint64(tt.h), got, tt.want)
		}
	}
}
