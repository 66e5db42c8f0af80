// Package uid provides the monotonic identifier allocator shared by every
// resource and request in a runtime instance.
package uid

import "strconv"

// Uid is a 64-bit identifier allocated once and never reused within the
// lifetime of an instance. The zero value is reserved as the
// default/sentinel and is never handed out by a Source.
type Uid uint64

// Zero is the reserved sentinel value.
const Zero Uid = 0

// IsZero reports whether u is the sentinel value.
func (u Uid) IsZero() bool { return u == Zero }

// Uint64 converts u to its underlying 64-bit representation.
func (u Uid) Uint64() uint64 { return uint64(u) }

// Int converts u to a platform int, for use as a map/slice index hint.
// Callers must not assume this is a dense index; Uids are sparse.
func (u Uid) Int() int { return int(u) }

func (u Uid) String() string { return strconv.FormatUint(uint64(u), 10) }

// FromUint64 wraps a raw 64-bit value as a Uid. Used when deserializing
// a recorded action whose payload carries a previously allocated Uid.
func FromUint64(v uint64) Uid { return Uid(v) }

// Source allocates strictly increasing Uids for one instance. The zero
// value of Source is ready to use and starts counting at 1.
type Source struct {
	next uint64
}

// New allocates and returns the next Uid. Never returns Zero.
func (s *Source) New() Uid {
	s.next++
	return Uid(s.next)
}

// Peek returns the Uid that the next call to New will allocate, without
// consuming it.
func (s *Source) Peek() Uid {
	return Uid(s.next + 1)
}
