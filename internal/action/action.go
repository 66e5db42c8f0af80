// Package action defines the action taxonomy: the three action
// kinds, the stable per-type identity every concrete action carries, and
// the debug/provenance record attached at dispatch time.
package action

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/automaton/internal/uid"
)

// Kind classifies what an action is allowed to do. Every concrete action
// type declares exactly one Kind at compile time via its ActionKind method.
type Kind uint8

const (
	// Pure mutates state-machine state only. Deterministic from
	// (state, action); recorded for diagnostics only, never required
	// for correctness on replay.
	Pure Kind = iota
	// Input carries an external result into the state machine. Must be
	// recorded and replayed verbatim: its payload often closes over
	// identities (Redispatch callbacks) that cannot serialize.
	Input
	// Output performs a side effect outside state-machine state. Its
	// completion always returns later as an Input action.
	Output
)

func (k Kind) String() string {
	switch k {
	case Pure:
		return "Pure"
	case Input:
		return "Input"
	case Output:
		return "Output"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// UUID is the 128-bit stable type identity used as the model registry key.
// Concrete action types each return a distinct, fixed UUID.
type UUID [16]byte

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// IsZero reports whether u is the unset UUID.
func (u UUID) IsZero() bool { return u == UUID{} }

// MustUUID builds a UUID from its high and low 64-bit halves, each
// written big-endian, for use in package-level UUID tables.
func MustUUID(hi, lo uint64) UUID {
	var u UUID
	binary.BigEndian.PutUint64(u[0:8], hi)
	binary.BigEndian.PutUint64(u[8:16], lo)
	return u
}

// SerializedCallback is a reserved sentinel UUID for a record whose true
// UUID follows inline in the next record. The recorder and runner in
// this module never write or check for it: every journal record carries
// its own action's UUID.
var SerializedCallback = MustUUID(0, 0xFFFFFFFFFFFFFFFF)

// Meta is the debug/provenance record every action carries: where it was
// constructed, how deep in the dispatch call stack it was produced, and
// which action (if any) caused it.
type Meta struct {
	File     string  // source file that constructed the action
	Line     int     // source line that constructed the action
	Depth    int     // call-depth counter at construction time
	ActionID uid.Uid // this action's own allocated id, for trace correlation
	Caller   UUID    // UUID of the action whose processor produced this one
	Callback string  // symbolic name of the redispatch/constructor, for logs
}

// Action is implemented by every concrete action type. A concrete type
// embeds Base to get Meta storage for free and only needs to supply
// ActionUUID/ActionKind/Equal.
type Action interface {
	ActionUUID() UUID
	ActionKind() Kind
	ActionMeta() Meta
	SetActionMeta(Meta)
	// Equal reports whether two actions of the same concrete type carry
	// identical payloads. Replay does not call it; it compares Meta
	// through replay.MetaEqual.
	Equal(other Action) bool
}

// Base is embedded by every concrete action struct to satisfy the Meta
// half of the Action interface without repeating boilerplate.
type Base struct {
	Meta Meta
}

func (b *Base) ActionMeta() Meta        { return b.Meta }
func (b *Base) SetActionMeta(m Meta)    { b.Meta = m }

// Constructor builds an Action, used by decoders and by model
// registrations that need to allocate a zero-value action of a given
// UUID before populating it from wire bytes.
type Constructor func() Action
