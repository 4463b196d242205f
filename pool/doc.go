// Package pool provides a generation-checked arena for GPU resource records.
//
// A Pool owns every record of one resource kind. Records are addressed by an
// opaque Handle that packs the slot index with the slot's generation, so a
// handle that outlives its record is detected instead of silently aliasing a
// newer record in the same slot:
//
//	p := pool.New[bufferRecord]()
//	rec, h := p.Add(bufferRecord{size: 64})
//	rec.offset = 128
//	p.Get(h).size // 64
//	p.Remove(h, func(r *bufferRecord) { r.release() })
//	p.Get(h) // panics: stale handle
//
// Records are stored in fixed-size pages, so the pointer returned by Add or
// Get stays valid until the record is removed, even while the pool grows.
//
// A Pool is not safe for concurrent use. All resource records are created and
// destroyed by the single recording goroutine that owns the device.
package pool
