package tcpserver

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/ioeffect"
)

// serverPollDone carries a listener-scoped poll result back into this
// package's own Apply, separate from tcp's pollDone: the accept
// reconciliation below needs to run synchronously with the event
// merge, and tcp's internal pollDone is only ever routed to tcp.Model.

var serverPollDoneUUID = action.MustUUID(0x5463705f7372765f, 0x506f6c6c446f6e65)

type serverPollDone struct {
	action.Base
	Events      []ioeffect.PollEvent
	Interrupted bool
	Err         string
}

func (a *serverPollDone) ActionUUID() action.UUID { return serverPollDoneUUID }
func (a *serverPollDone) ActionKind() action.Kind { return action.Input }
func (a *serverPollDone) Equal(o action.Action) bool {
	other, ok := o.(*serverPollDone)
	if !ok || other.Interrupted != a.Interrupted || other.Err != a.Err || len(other.Events) != len(a.Events) {
		return false
	}
	for i := range a.Events {
		if a.Events[i] != other.Events[i] {
			return false
		}
	}
	return true
}

type serverPollDoneWire struct {
	Events      []ioeffect.PollEvent
	Interrupted bool
	Err         string
}

func (a *serverPollDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(serverPollDoneWire{a.Events, a.Interrupted, a.Err})
}
func (a *serverPollDone) UnmarshalPayload(b []byte) error {
	var w serverPollDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Events, a.Interrupted, a.Err = w.Events, w.Interrupted, w.Err
	return nil
}

func actionUUIDs() []action.UUID {
	return []action.UUID{serverPollDoneUUID}
}

func constructors() map[action.UUID]action.Constructor {
	return map[action.UUID]action.Constructor{
		serverPollDoneUUID: func() action.Action { return &serverPollDone{} },
	}
}
