// Package ring implements the wraparound bump allocator used to place
// ephemeral (frame-scoped) buffer contents inside one persistent GPU buffer.
//
// The allocator only hands out offsets. Keeping live regions from being
// overwritten is the caller's job: it compares the end cursor an allocation
// would reach against the cursor of the last retired frame (see Peek).
package ring

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrSizeNotPowerOfTwo is returned by New for sizes that are zero or not a power of two.
	ErrSizeNotPowerOfTwo = errors.New("ring: size must be a non-zero power of two")

	// ErrAllocationTooLarge is returned when a single allocation exceeds the buffer size.
	ErrAllocationTooLarge = errors.New("ring: allocation larger than ring buffer")
)

// Allocator hands out offsets into a circular region of Size bytes.
//
// The cursor grows monotonically; the byte offset of a cursor value is
// cursor & (size-1). An allocation that would cross the end of the region
// skips the tail and starts at offset zero of the next lap.
type Allocator struct {
	size   uint64
	cursor uint64
}

// New creates an allocator over size bytes.
func New(size uint64) (*Allocator, error) {
	if size == 0 || bits.OnesCount64(size) != 1 {
		return nil, fmt.Errorf("%w: %d", ErrSizeNotPowerOfTwo, size)
	}
	return &Allocator{size: size}, nil
}

// Size returns the region size in bytes.
func (a *Allocator) Size() uint64 { return a.size }

// Cursor returns the monotonic write cursor.
func (a *Allocator) Cursor() uint64 { return a.cursor }

// Offset converts a cursor value into a byte offset within the region.
func (a *Allocator) Offset(cursor uint64) uint64 { return cursor & (a.size - 1) }

// Peek computes where an allocation of size bytes would land without
// committing it. begin and end are cursor values; the allocation occupies
// [begin, end) and its byte offset is Offset(begin).
func (a *Allocator) Peek(size, alignment uint64) (begin, end uint64, err error) {
	if size > a.size {
		return 0, 0, fmt.Errorf("%w: %d > %d", ErrAllocationTooLarge, size, a.size)
	}
	if alignment == 0 || bits.OnesCount64(alignment) != 1 {
		panic(fmt.Sprintf("ring: alignment %d is not a power of two", alignment))
	}

	mask := alignment - 1
	begin = (a.cursor + mask) &^ mask
	if a.Offset(begin)+size > a.size {
		// Skip the tail; the next lap starts at a size boundary, which is
		// aligned for every alignment not larger than the region.
		begin = (begin | (a.size - 1)) + 1
	}
	return begin, begin + size, nil
}

// Allocate reserves size bytes aligned to alignment and returns the byte
// offset of the reservation. alignment must be a power of two.
func (a *Allocator) Allocate(size, alignment uint64) (uint64, error) {
	begin, end, err := a.Peek(size, alignment)
	if err != nil {
		return 0, err
	}
	a.cursor = end
	return a.Offset(begin), nil
}

// Resize switches to a region of size bytes, as when the backing buffer is
// replaced. The cursor moves to the next multiple of the new size so that
// cursor arithmetic against older synced cursors stays monotonic.
func (a *Allocator) Resize(size uint64) error {
	if size == 0 || bits.OnesCount64(size) != 1 {
		return fmt.Errorf("%w: %d", ErrSizeNotPowerOfTwo, size)
	}
	a.cursor = (a.cursor + size - 1) &^ (size - 1)
	a.size = size
	return nil
}
