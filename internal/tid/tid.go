// Package tid normalizes a caller's "as-of" point in time to the
// coordination core's canonical 8-byte snapshot key.
package tid

import (
	"encoding/binary"
	"time"
)

// TID is the canonical 8-byte, lexicographically ordered snapshot key.
// Equality and ordering are byte-wise.
type TID [8]byte

// Zero is the root OID's companion zero value; it is also the smallest
// possible TID.
var Zero = TID{}

// FromTime encodes a wall-clock point in time as a TID by its UTC Unix
// nanosecond count, big-endian, so byte order matches time order.
func FromTime(t time.Time) TID {
	var out TID
	binary.BigEndian.PutUint64(out[:], uint64(t.UTC().UnixNano()))
	return out
}

// FromBytes copies an externally supplied raw 8-byte transaction id.
func FromBytes(b []byte) TID {
	var out TID
	copy(out[:], b)
	return out
}

// Bytes returns the TID's 8-byte wire representation.
func (t TID) Bytes() []byte {
	b := make([]byte, 8)
	copy(b, t[:])
	return b
}

// Less reports whether t sorts strictly before other.
func (t TID) Less(other TID) bool {
	for i := range t {
		if t[i] != other[i] {
			return t[i] < other[i]
		}
	}
	return false
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater
// than other.
func (t TID) Compare(other TID) int {
	for i := range t {
		if t[i] != other[i] {
			if t[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Next returns the smallest TID strictly later than t, used to shift an
// `at` selector so a subsequent "strictly before" read sees it inclusively.
func (t TID) Next() TID {
	v := binary.BigEndian.Uint64(t[:])
	var out TID
	binary.BigEndian.PutUint64(out[:], v+1)
	return out
}

// Selector is a caller's raw as-of input: either a wall-clock point in
// time or a raw 8-byte transaction id. At most one of the two fields is
// ever read by Normalize; construct with FromWallClock or FromRaw.
type Selector struct {
	t   time.Time
	raw []byte
	set bool
}

// FromWallClock builds a Selector from a point in time.
func FromWallClock(t time.Time) *Selector {
	return &Selector{t: t, set: true}
}

// FromRaw builds a Selector from a raw 8-byte transaction id.
func FromRaw(raw []byte) *Selector {
	return &Selector{raw: raw, set: true}
}

func (s *Selector) resolve() TID {
	if s.raw != nil {
		return FromBytes(s.raw)
	}
	return FromTime(s.t)
}

// Normalize resolves an at/before pair into a single snapshot key: at
// most one of the two may be given. Returns the canonical `before` key
// and whether the result means "live" (both nil).
func Normalize(at, before *Selector) (key TID, isLive bool, err error) {
	switch {
	case at != nil && before != nil:
		return TID{}, false, errBothAtAndBefore
	case at != nil:
		return at.resolve().Next(), false, nil
	case before != nil:
		return before.resolve(), false, nil
	default:
		return TID{}, true, nil
	}
}

// errBothAtAndBefore is returned as a sentinel; coordinator wraps it with
// the core's structured AppError so callers branch on errors.AppError
// rather than on this package.
var errBothAtAndBefore = errAtAndBefore{}

type errAtAndBefore struct{}

func (errAtAndBefore) Error() string { return "at most one of at/before may be given" }
