package pool

import "fmt"

// Handle identifies a live record in a Pool.
//
// The low 32 bits hold the slot index plus one, the high 32 bits hold the
// generation of the slot at the time the record was added. The zero Handle
// is never valid.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index+1))
}

// IsValid reports whether h could refer to a record. It does not check
// whether the record is still alive; use Pool.Lookup for that.
func (h Handle) IsValid() bool {
	return uint32(h) != 0 //nolint:gosec // G115: low half extraction
}

func (h Handle) index() uint32 {
	return uint32(h) - 1 //nolint:gosec // G115: low half extraction
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// String returns a short form like "#3.1" (index, generation).
func (h Handle) String() string {
	if !h.IsValid() {
		return "#invalid"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.generation())
}
