package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/uid"
)

type fakeAction struct {
	action.Base
	kind action.Kind
	name string
}

func (f *fakeAction) ActionUUID() action.UUID { return action.MustUUID(1, 2) }
func (f *fakeAction) ActionKind() action.Kind { return f.kind }
func (f *fakeAction) Equal(o action.Action) bool {
	other, ok := o.(*fakeAction)
	return ok && other.name == f.name
}

func TestFIFOOrdering(t *testing.T) {
	var src uid.Source
	d := New(nil, &src)
	d.Dispatch(&fakeAction{kind: action.Pure, name: "a"})
	d.Dispatch(&fakeAction{kind: action.Pure, name: "b"})
	d.Dispatch(&fakeAction{kind: action.Pure, name: "c"})

	got := []string{}
	for i := 0; i < 3; i++ {
		got = append(got, d.NextAction().(*fakeAction).name)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTickOnlyWhenEmpty(t *testing.T) {
	var src uid.Source
	ticks := 0
	tick := func() action.Action {
		ticks++
		return &fakeAction{kind: action.Pure, name: "tick"}
	}
	d := New(tick, &src)
	d.Dispatch(&fakeAction{kind: action.Pure, name: "queued"})

	a := d.NextAction()
	require.Equal(t, "queued", a.(*fakeAction).name)
	require.Equal(t, 0, ticks, "tick must not fire while the queue has work")

	a = d.NextAction()
	require.Equal(t, "tick", a.(*fakeAction).name)
	require.Equal(t, 1, ticks)
}

func TestCompletionDispatchRequiresInputKind(t *testing.T) {
	var src uid.Source
	d := New(nil, &src)
	rd := Redispatch[int](func(v int) action.Action {
		return &fakeAction{kind: action.Pure, name: "wrong-kind"}
	})
	require.Panics(t, func() {
		CompletionDispatch(d, rd, 42)
	})
}

func TestCompletionDispatchEnqueuesInput(t *testing.T) {
	var src uid.Source
	d := New(nil, &src)
	rd := Redispatch[int](func(v int) action.Action {
		return &fakeAction{kind: action.Input, name: "completed"}
	})
	CompletionDispatch(d, rd, 7)
	a := d.NextAction()
	require.NotNil(t, a)
	require.Equal(t, action.Input, a.ActionKind())
}

func TestCallDepthGuard(t *testing.T) {
	var src uid.Source
	d := New(nil, &src)
	d.SetMaxDepth(3)
	require.Panics(t, func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(&fakeAction{kind: action.Pure, name: "loop"})
		}
	})
}

func TestProvenanceStamping(t *testing.T) {
	var src uid.Source
	d := New(nil, &src)
	caller := action.MustUUID(9, 9)
	d.SetCallerUUID(caller)
	a := &fakeAction{kind: action.Pure, name: "x"}
	d.Dispatch(a)
	meta := a.ActionMeta()
	require.Equal(t, caller, meta.Caller)
	require.False(t, meta.ActionID.IsZero())
}
