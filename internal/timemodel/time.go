// Package timemodel is the Pure model wrapping wall-clock time:
// it owns no OS resources itself, instead issuing ioeffect.IORequest{Op:
// OpSystemTime} and caching the last-seen value so every other Pure
// model reads a single, replay-stable clock.
package timemodel

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
)

// Millis is a point in time, milliseconds since the Unix epoch.
type Millis uint64

// Timeout is a deadline relative to a Millis reading. Never (-1) means
// no deadline; it is the only value treated that way.
type Timeout int64

const Never Timeout = -1

// Elapsed reports whether `now` has reached or passed the deadline
// produced by adding `t` to the Millis it was computed from.
func (t Timeout) Elapsed(deadline, now Millis) bool {
	if t == Never {
		return false
	}
	return now >= deadline
}

// StateHaver is the projector interface a root state must satisfy so
// this package can read/write its substate without importing the
// concrete root type (avoiding an import cycle back to runtime).
type StateHaver interface {
	TimeState() *State
}

// State is the cached substate every Pure model reads through
// StateHaver. NowMs is only ever advanced by applying a
// systemTimeApplied action; it never calls the kernel itself.
type State struct {
	NowMs   Millis
	Pending bool // true between a RequestRefresh request and its result
}

// GetCurrentTime returns the last cached reading without blocking. If
// no reading has ever landed (NowMs == 0), callers should first issue a
// refresh via RequestRefresh.
func GetCurrentTime(s StateHaver) Millis {
	return s.TimeState().NowMs
}

// GetTimeoutAbsolute computes the absolute deadline for a relative
// timeout measured from the cached current time.
func GetTimeoutAbsolute(s StateHaver, relative Timeout) Millis {
	if relative == Never {
		return Millis(^uint64(0) >> 1)
	}
	return s.TimeState().NowMs + Millis(relative)
}

// Model is the Pure model: it issues one OpSystemTime Output action per
// RequestRefresh call, and on the matching IOResult updates NowMs.
type Model struct{}

// Actions returns the UUID->Constructor vtable this model contributes to
// a runtime registry, mirroring tcp.Model/tcpserver.Model.
func (Model) Actions() map[action.UUID]action.Constructor {
	return map[action.UUID]action.Constructor{
		systemTimeAppliedUUID: func() action.Action { return &systemTimeApplied{} },
	}
}

// UUIDs lists the action UUIDs this model owns.
func (Model) UUIDs() []action.UUID {
	return []action.UUID{systemTimeAppliedUUID}
}

// RequestRefresh issues an ioeffect system-time request and arranges for
// the cached NowMs to be updated when it completes.
func RequestRefresh(d *dispatch.Dispatcher, s StateHaver) {
	st := s.TimeState()
	if st.Pending {
		return
	}
	st.Pending = true
	d.Dispatch(&ioeffect.IORequest{
		Op: ioeffect.OpSystemTime,
		Done: func(r ioeffect.IOResult) action.Action {
			return &systemTimeApplied{millis: r.Millis}
		},
	})
}

var systemTimeAppliedUUID = action.MustUUID(0x54696d65, 0x4170706c696564)

type systemTimeApplied struct {
	action.Base
	millis uint64
}

func (a *systemTimeApplied) ActionUUID() action.UUID { return systemTimeAppliedUUID }
func (a *systemTimeApplied) ActionKind() action.Kind { return action.Input }
func (a *systemTimeApplied) Equal(o action.Action) bool {
	other, ok := o.(*systemTimeApplied)
	return ok && other.millis == a.millis
}
func (a *systemTimeApplied) MarshalPayload() ([]byte, error) {
	b := make([]byte, 8)
	putUint64(b, a.millis)
	return b, nil
}
func (a *systemTimeApplied) UnmarshalPayload(b []byte) error {
	a.millis = getUint64(b)
	return nil
}

// Apply updates the cached clock from a systemTimeApplied action,
// reporting whether a was one. The runtime's RegisterTime applier calls it.
func Apply(s StateHaver, a action.Action) bool {
	applied, ok := a.(*systemTimeApplied)
	if !ok {
		return false
	}
	st := s.TimeState()
	st.NowMs = Millis(applied.millis)
	st.Pending = false
	return true
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
