package tcp

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/uid"
)

// Every Input action below is produced by an ioeffect.IORequest.Done
// closure and consumed by Apply. Each carries only the fields Apply
// needs to resume the Pure state machine; MarshalPayload/UnmarshalPayload
// gob-encode exactly those fields, matching timemodel's convention for
// why gob (not a hand-rolled layout) is acceptable here: nothing outside
// this process ever reads a recording file.

var (
	pollCreateDoneUUID      = action.MustUUID(0x5463705f706f6c6c, 0x0001)
	eventsCreateDoneUUID    = action.MustUUID(0x5463705f706f6c6c, 0x0002)
	listenDoneUUID          = action.MustUUID(0x5463705f706f6c6c, 0x0003)
	connectIssuedUUID       = action.MustUUID(0x5463705f706f6c6c, 0x0004)
	peerAddrDoneUUID        = action.MustUUID(0x5463705f706f6c6c, 0x0005)
	acceptDoneUUID          = action.MustUUID(0x5463705f706f6c6c, 0x0006)
	pollDoneUUID            = action.MustUUID(0x5463705f706f6c6c, 0x0007)
	writeDoneUUID           = action.MustUUID(0x5463705f706f6c6c, 0x0008)
	readDoneUUID            = action.MustUUID(0x5463705f706f6c6c, 0x0009)
	closeDoneUUID           = action.MustUUID(0x5463705f706f6c6c, 0x000a)
	listenRegisterDoneUUID  = action.MustUUID(0x5463705f706f6c6c, 0x000b)
	connectRegisterDoneUUID = action.MustUUID(0x5463705f706f6c6c, 0x000c)
	acceptRegisterDoneUUID  = action.MustUUID(0x5463705f706f6c6c, 0x000d)
	deregisterDoneUUID      = action.MustUUID(0x5463705f706f6c6c, 0x000e)
)

type pollCreateDone struct {
	action.Base
	Err string
}

func (a *pollCreateDone) ActionUUID() action.UUID { return pollCreateDoneUUID }
func (a *pollCreateDone) ActionKind() action.Kind { return action.Input }
func (a *pollCreateDone) Equal(o action.Action) bool {
	other, ok := o.(*pollCreateDone)
	return ok && other.Err == a.Err
}
func (a *pollCreateDone) MarshalPayload() ([]byte, error)   { return gobMarshal(a.Err) }
func (a *pollCreateDone) UnmarshalPayload(b []byte) error   { return gobUnmarshal(b, &a.Err) }

type eventsCreateDone struct {
	action.Base
	Err string
}

func (a *eventsCreateDone) ActionUUID() action.UUID { return eventsCreateDoneUUID }
func (a *eventsCreateDone) ActionKind() action.Kind { return action.Input }
func (a *eventsCreateDone) Equal(o action.Action) bool {
	other, ok := o.(*eventsCreateDone)
	return ok && other.Err == a.Err
}
func (a *eventsCreateDone) MarshalPayload() ([]byte, error) { return gobMarshal(a.Err) }
func (a *eventsCreateDone) UnmarshalPayload(b []byte) error { return gobUnmarshal(b, &a.Err) }

type listenDone struct {
	action.Base
	Listener uid.Uid
	Addr     string
	Err      string
}

func (a *listenDone) ActionUUID() action.UUID { return listenDoneUUID }
func (a *listenDone) ActionKind() action.Kind { return action.Input }
func (a *listenDone) Equal(o action.Action) bool {
	other, ok := o.(*listenDone)
	return ok && *other == *a
}

type listenDoneWire struct {
	Listener uid.Uid
	Addr     string
	Err      string
}

func (a *listenDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(listenDoneWire{a.Listener, a.Addr, a.Err})
}
func (a *listenDone) UnmarshalPayload(b []byte) error {
	var w listenDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Listener, a.Addr, a.Err = w.Listener, w.Addr, w.Err
	return nil
}

type connectIssued struct {
	action.Base
	Conn uid.Uid
	Err  string
}

func (a *connectIssued) ActionUUID() action.UUID { return connectIssuedUUID }
func (a *connectIssued) ActionKind() action.Kind { return action.Input }
func (a *connectIssued) Equal(o action.Action) bool {
	other, ok := o.(*connectIssued)
	return ok && *other == *a
}

type connectIssuedWire struct {
	Conn uid.Uid
	Err  string
}

func (a *connectIssued) MarshalPayload() ([]byte, error) {
	return gobMarshal(connectIssuedWire{a.Conn, a.Err})
}
func (a *connectIssued) UnmarshalPayload(b []byte) error {
	var w connectIssuedWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Conn, a.Err = w.Conn, w.Err
	return nil
}

type peerAddrDone struct {
	action.Base
	Conn uid.Uid
	Addr string
	Err  string
}

func (a *peerAddrDone) ActionUUID() action.UUID { return peerAddrDoneUUID }
func (a *peerAddrDone) ActionKind() action.Kind { return action.Input }
func (a *peerAddrDone) Equal(o action.Action) bool {
	other, ok := o.(*peerAddrDone)
	return ok && *other == *a
}

type peerAddrDoneWire struct {
	Conn uid.Uid
	Addr string
	Err  string
}

func (a *peerAddrDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(peerAddrDoneWire{a.Conn, a.Addr, a.Err})
}
func (a *peerAddrDone) UnmarshalPayload(b []byte) error {
	var w peerAddrDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Conn, a.Addr, a.Err = w.Conn, w.Addr, w.Err
	return nil
}

type acceptDone struct {
	action.Base
	Listener uid.Uid
	Conn     uid.Uid
	Status   ioeffect.Status
	Addr     string
	Err      string
}

func (a *acceptDone) ActionUUID() action.UUID { return acceptDoneUUID }
func (a *acceptDone) ActionKind() action.Kind { return action.Input }
func (a *acceptDone) Equal(o action.Action) bool {
	other, ok := o.(*acceptDone)
	return ok && *other == *a
}

type acceptDoneWire struct {
	Listener uid.Uid
	Conn     uid.Uid
	Status   ioeffect.Status
	Addr     string
	Err      string
}

func (a *acceptDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(acceptDoneWire{a.Listener, a.Conn, a.Status, a.Addr, a.Err})
}
func (a *acceptDone) UnmarshalPayload(b []byte) error {
	var w acceptDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Listener, a.Conn, a.Status, a.Addr, a.Err = w.Listener, w.Conn, w.Status, w.Addr, w.Err
	return nil
}

type pollDone struct {
	action.Base
	Poll        uid.Uid
	Events      []ioeffect.PollEvent
	Interrupted bool
	Err         string
}

func (a *pollDone) ActionUUID() action.UUID { return pollDoneUUID }
func (a *pollDone) ActionKind() action.Kind { return action.Input }
func (a *pollDone) Equal(o action.Action) bool {
	other, ok := o.(*pollDone)
	if !ok {
		return false
	}
	return other.Poll == a.Poll && other.Interrupted == a.Interrupted && other.Err == a.Err && len(other.Events) == len(a.Events)
}

type pollDoneWire struct {
	Poll        uid.Uid
	Events      []ioeffect.PollEvent
	Interrupted bool
	Err         string
}

func (a *pollDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(pollDoneWire{a.Poll, a.Events, a.Interrupted, a.Err})
}
func (a *pollDone) UnmarshalPayload(b []byte) error {
	var w pollDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Poll, a.Events, a.Interrupted, a.Err = w.Poll, w.Events, w.Interrupted, w.Err
	return nil
}

type writeDone struct {
	action.Base
	Send   uid.Uid
	Status ioeffect.Status
	N      int
	Err    string
}

func (a *writeDone) ActionUUID() action.UUID { return writeDoneUUID }
func (a *writeDone) ActionKind() action.Kind { return action.Input }
func (a *writeDone) Equal(o action.Action) bool {
	other, ok := o.(*writeDone)
	return ok && *other == *a
}

type writeDoneWire struct {
	Send   uid.Uid
	Status ioeffect.Status
	N      int
	Err    string
}

func (a *writeDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(writeDoneWire{a.Send, a.Status, a.N, a.Err})
}
func (a *writeDone) UnmarshalPayload(b []byte) error {
	var w writeDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Send, a.Status, a.N, a.Err = w.Send, w.Status, w.N, w.Err
	return nil
}

type readDone struct {
	action.Base
	Recv   uid.Uid
	Status ioeffect.Status
	Data   []byte
	Err    string
}

func (a *readDone) ActionUUID() action.UUID { return readDoneUUID }
func (a *readDone) ActionKind() action.Kind { return action.Input }
func (a *readDone) Equal(o action.Action) bool {
	other, ok := o.(*readDone)
	if !ok {
		return false
	}
	return other.Recv == a.Recv && other.Status == a.Status && string(other.Data) == string(a.Data) && other.Err == a.Err
}

type readDoneWire struct {
	Recv   uid.Uid
	Status ioeffect.Status
	Data   []byte
	Err    string
}

func (a *readDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(readDoneWire{a.Recv, a.Status, a.Data, a.Err})
}
func (a *readDone) UnmarshalPayload(b []byte) error {
	var w readDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Recv, a.Status, a.Data, a.Err = w.Recv, w.Status, w.Data, w.Err
	return nil
}

type closeDone struct {
	action.Base
	Target uid.Uid
	Err    string
}

func (a *closeDone) ActionUUID() action.UUID { return closeDoneUUID }
func (a *closeDone) ActionKind() action.Kind { return action.Input }
func (a *closeDone) Equal(o action.Action) bool {
	other, ok := o.(*closeDone)
	return ok && *other == *a
}

type closeDoneWire struct {
	Target uid.Uid
	Err    string
}

func (a *closeDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(closeDoneWire{a.Target, a.Err})
}
func (a *closeDone) UnmarshalPayload(b []byte) error {
	var w closeDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Target, a.Err = w.Target, w.Err
	return nil
}

// listenRegisterDone reports whether a just-listened listener was
// successfully registered with the instance's poll ring; the Listen
// caller isn't notified until this completes.
type listenRegisterDone struct {
	action.Base
	Listener uid.Uid
	Addr     string
	Err      string
}

func (a *listenRegisterDone) ActionUUID() action.UUID { return listenRegisterDoneUUID }
func (a *listenRegisterDone) ActionKind() action.Kind { return action.Input }
func (a *listenRegisterDone) Equal(o action.Action) bool {
	other, ok := o.(*listenRegisterDone)
	return ok && *other == *a
}

type listenRegisterDoneWire struct {
	Listener uid.Uid
	Addr     string
	Err      string
}

func (a *listenRegisterDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(listenRegisterDoneWire{a.Listener, a.Addr, a.Err})
}
func (a *listenRegisterDone) UnmarshalPayload(b []byte) error {
	var w listenRegisterDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Listener, a.Addr, a.Err = w.Listener, w.Addr, w.Err
	return nil
}

// connectRegisterDone reports whether a just-issued outgoing
// connection was successfully registered with the poll ring; only
// then does it sit ConnPending waiting for writability.
type connectRegisterDone struct {
	action.Base
	Conn uid.Uid
	Err  string
}

func (a *connectRegisterDone) ActionUUID() action.UUID { return connectRegisterDoneUUID }
func (a *connectRegisterDone) ActionKind() action.Kind { return action.Input }
func (a *connectRegisterDone) Equal(o action.Action) bool {
	other, ok := o.(*connectRegisterDone)
	return ok && *other == *a
}

type connectRegisterDoneWire struct {
	Conn uid.Uid
	Err  string
}

func (a *connectRegisterDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(connectRegisterDoneWire{a.Conn, a.Err})
}
func (a *connectRegisterDone) UnmarshalPayload(b []byte) error {
	var w connectRegisterDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Conn, a.Err = w.Conn, w.Err
	return nil
}

// acceptRegisterDone reports whether a just-accepted connection was
// successfully registered with the poll ring; the Accept caller isn't
// notified until this completes.
type acceptRegisterDone struct {
	action.Base
	Listener uid.Uid
	Conn     uid.Uid
	Err      string
}

func (a *acceptRegisterDone) ActionUUID() action.UUID { return acceptRegisterDoneUUID }
func (a *acceptRegisterDone) ActionKind() action.Kind { return action.Input }
func (a *acceptRegisterDone) Equal(o action.Action) bool {
	other, ok := o.(*acceptRegisterDone)
	return ok && *other == *a
}

type acceptRegisterDoneWire struct {
	Listener uid.Uid
	Conn     uid.Uid
	Err      string
}

func (a *acceptRegisterDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(acceptRegisterDoneWire{a.Listener, a.Conn, a.Err})
}
func (a *acceptRegisterDone) UnmarshalPayload(b []byte) error {
	var w acceptRegisterDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Listener, a.Conn, a.Err = w.Listener, w.Conn, w.Err
	return nil
}

// deregisterDone reports that Close's poll-deregister step finished
// (successfully or not); either way Close proceeds to the actual
// socket teardown next.
type deregisterDone struct {
	action.Base
	Target uid.Uid
	Err    string
}

func (a *deregisterDone) ActionUUID() action.UUID { return deregisterDoneUUID }
func (a *deregisterDone) ActionKind() action.Kind { return action.Input }
func (a *deregisterDone) Equal(o action.Action) bool {
	other, ok := o.(*deregisterDone)
	return ok && *other == *a
}

type deregisterDoneWire struct {
	Target uid.Uid
	Err    string
}

func (a *deregisterDone) MarshalPayload() ([]byte, error) {
	return gobMarshal(deregisterDoneWire{a.Target, a.Err})
}
func (a *deregisterDone) UnmarshalPayload(b []byte) error {
	var w deregisterDoneWire
	if err := gobUnmarshal(b, &w); err != nil {
		return err
	}
	a.Target, a.Err = w.Target, w.Err
	return nil
}

// actionUUIDs lists every Input action type this package's registry
// entry owns, for wiring into the model registry.
func actionUUIDs() []action.UUID {
	return []action.UUID{
		pollCreateDoneUUID, eventsCreateDoneUUID, listenDoneUUID, connectIssuedUUID,
		peerAddrDoneUUID, acceptDoneUUID, pollDoneUUID, writeDoneUUID, readDoneUUID, closeDoneUUID,
		listenRegisterDoneUUID, connectRegisterDoneUUID, acceptRegisterDoneUUID, deregisterDoneUUID,
	}
}

func constructors() map[action.UUID]action.Constructor {
	return map[action.UUID]action.Constructor{
		pollCreateDoneUUID:      func() action.Action { return &pollCreateDone{} },
		eventsCreateDoneUUID:    func() action.Action { return &eventsCreateDone{} },
		listenDoneUUID:          func() action.Action { return &listenDone{} },
		connectIssuedUUID:       func() action.Action { return &connectIssued{} },
		peerAddrDoneUUID:        func() action.Action { return &peerAddrDone{} },
		acceptDoneUUID:          func() action.Action { return &acceptDone{} },
		pollDoneUUID:            func() action.Action { return &pollDone{} },
		writeDoneUUID:           func() action.Action { return &writeDone{} },
		readDoneUUID:            func() action.Action { return &readDone{} },
		closeDoneUUID:           func() action.Action { return &closeDone{} },
		listenRegisterDoneUUID:  func() action.Action { return &listenRegisterDone{} },
		connectRegisterDoneUUID: func() action.Action { return &connectRegisterDone{} },
		acceptRegisterDoneUUID:  func() action.Action { return &acceptRegisterDone{} },
		deregisterDoneUUID:      func() action.Action { return &deregisterDone{} },
	}
}
