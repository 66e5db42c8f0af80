// Package dispatch implements the per-instance FIFO action queue:
// strictly ordered dispatch, a tick-callback fallback for when the queue
// runs dry, and completion dispatch for turning an I/O result into the
// Input action that carries it back into the state machine.
package dispatch

import (
	"fmt"
	"runtime"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/uid"
)

// TickFunc produces the action a dispatcher enqueues when its queue is
// observed empty at an outer-loop boundary. It is never interleaved with
// pending queued work; see NextAction.
type TickFunc func() action.Action

// Redispatch turns a result payload of type R into an Input action. Its
// identity is irrelevant for record/replay: only the Input action it
// produces is ever materialized into the journal.
type Redispatch[R any] func(R) action.Action

// DefaultMaxDepth bounds the call-depth counter before the dispatcher
// panics, catching a Pure action that recursively re-dispatches itself
// without ever reaching a tick boundary.
const DefaultMaxDepth = 1024

// Dispatcher is a strictly FIFO queue of actions for one instance, plus
// the bookkeeping a cooperative dispatcher needs: a tick generator invoked only
// when the queue is empty, a call-depth counter, and the UUID of the
// action currently being processed (used as provenance for anything it
// dispatches).
type Dispatcher struct {
	queue       []action.Action
	tick        TickFunc
	callDepth   int
	maxDepth    int
	callerUID   uid.Uid
	callerUUID  action.UUID
	uids        *uid.Source
}

// New creates a Dispatcher backed by the given tick function and UID
// source. The UID source is shared with the instance's Substate so that
// every allocated identifier — connections, requests, actions — comes
// from the same monotonic counter.
func New(tick TickFunc, uids *uid.Source) *Dispatcher {
	return &Dispatcher{
		tick:     tick,
		maxDepth: DefaultMaxDepth,
		uids:     uids,
	}
}

// SetMaxDepth overrides the call-depth panic threshold. Zero disables the
// guard (not recommended outside tests).
func (d *Dispatcher) SetMaxDepth(n int) { d.maxDepth = n }

// SetTick installs the tick function after construction, so a caller
// can build the dispatcher first and hand it to the tick closure it's
// wiring up (the tick almost always needs to dispatch through this same
// dispatcher).
func (d *Dispatcher) SetTick(tick TickFunc) { d.tick = tick }

// Len reports the number of actions currently queued.
func (d *Dispatcher) Len() int { return len(d.queue) }

// Dispatch enqueues action a at the tail of the queue, stamping it with
// provenance (source file/line, current call depth, the UUID of whatever
// action is currently being processed).
func (d *Dispatcher) Dispatch(a action.Action) {
	d.callDepth++
	if d.maxDepth > 0 && d.callDepth > d.maxDepth {
		panic(fmt.Sprintf("dispatch: call depth exceeded %d; likely a Pure action recursively re-dispatching itself", d.maxDepth))
	}
	meta := a.ActionMeta()
	if meta.ActionID.IsZero() && d.uids != nil {
		meta.ActionID = d.uids.New()
	}
	meta.Depth = d.callDepth
	meta.Caller = d.callerUUID
	if meta.File == "" {
		if _, file, line, ok := runtime.Caller(1); ok {
			meta.File, meta.Line = file, line
		}
	}
	a.SetActionMeta(meta)
	d.queue = append(d.queue, a)
}

// CompletionDispatch applies rd to value, enqueues the resulting action,
// and asserts that the result is an Input action — an Output's
// completion may never masquerade as anything else.
func CompletionDispatch[R any](d *Dispatcher, rd Redispatch[R], value R) {
	a := rd(value)
	if a.ActionKind() != action.Input {
		panic(fmt.Sprintf("dispatch: completion_dispatch produced a %s action, want Input", a.ActionKind()))
	}
	d.Dispatch(a)
}

// NextAction pops the head of the queue. If the queue is empty, it resets
// the call-depth counter to zero (a fresh outer-loop boundary) and
// invokes the tick function, which is never interleaved with pending
// queued work: a tick is only ever produced when the queue was observed
// empty.
func (d *Dispatcher) NextAction() action.Action {
	if len(d.queue) == 0 {
		d.callDepth = 0
		if d.tick == nil {
			return nil
		}
		return d.tick()
	}
	a := d.queue[0]
	d.queue = d.queue[1:]
	return a
}

// SetCallerUUID records the UUID of the action about to be processed so
// that anything it dispatches carries correct Caller provenance. The
// runtime calls this immediately before invoking a model's processor.
func (d *Dispatcher) SetCallerUUID(u action.UUID) { d.callerUUID = u }
