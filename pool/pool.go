package pool

import "fmt"

const (
	pageShift = 8
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

type page[T any] [pageSize]slot[T]

// Pool is an arena of T records addressed by generation-checked handles.
type Pool[T any] struct {
	pages []*page[T]
	free  []uint32
	next  uint32
	live  int
}

// New creates an empty pool.
func New[T any]() *Pool[T] {
	return &Pool[T]{}
}

func (p *Pool[T]) slot(index uint32) *slot[T] {
	return &p.pages[index>>pageShift][index&pageMask]
}

// Add moves v into the pool and returns a pointer to the stored record and
// its handle. The pointer stays valid until the record is removed.
func (p *Pool[T]) Add(v T) (*T, Handle) {
	var index uint32
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		index = p.next
		p.next++
		if int(index>>pageShift) == len(p.pages) {
			p.pages = append(p.pages, new(page[T]))
		}
	}

	s := p.slot(index)
	s.value = v
	s.live = true
	p.live++
	return &s.value, makeHandle(index, s.generation)
}

func (p *Pool[T]) find(h Handle) (*slot[T], bool) {
	if !h.IsValid() {
		return nil, false
	}
	index := h.index()
	if index >= p.next {
		return nil, false
	}
	s := p.slot(index)
	if !s.live || s.generation != h.generation() {
		return nil, false
	}
	return s, true
}

// Get returns the record for h. It panics if h is zero, stale or foreign.
func (p *Pool[T]) Get(h Handle) *T {
	s, ok := p.find(h)
	if !ok {
		panic(fmt.Sprintf("pool: get of invalid or stale handle %v", h))
	}
	return &s.value
}

// Lookup returns the record for h and whether h is live.
func (p *Pool[T]) Lookup(h Handle) (*T, bool) {
	s, ok := p.find(h)
	if !ok {
		return nil, false
	}
	return &s.value, true
}

// Contains reports whether h refers to a live record.
func (p *Pool[T]) Contains(h Handle) bool {
	_, ok := p.find(h)
	return ok
}

// Remove runs cleanup on the record (if cleanup is non-nil), then frees the
// slot and invalidates h and every copy of it. It panics if h is not live,
// which includes removing the same handle twice.
func (p *Pool[T]) Remove(h Handle, cleanup func(*T)) {
	s, ok := p.find(h)
	if !ok {
		panic(fmt.Sprintf("pool: remove of invalid or stale handle %v", h))
	}
	if cleanup != nil {
		cleanup(&s.value)
	}

	var zero T
	s.value = zero
	s.live = false
	s.generation++
	p.live--
	p.free = append(p.free, h.index())
}

// Len returns the number of live records.
func (p *Pool[T]) Len() int {
	return p.live
}

// Each calls fn for every live record in slot order. fn must not add or
// remove records.
func (p *Pool[T]) Each(fn func(Handle, *T)) {
	for index := uint32(0); index < p.next; index++ {
		s := p.slot(index)
		if s.live {
			fn(makeHandle(index, s.generation), &s.value)
		}
	}
}

// Handles returns the handles of every live record in slot order.
func (p *Pool[T]) Handles() []Handle {
	out := make([]Handle, 0, p.live)
	p.Each(func(h Handle, _ *T) { out = append(out, h) })
	return out
}
