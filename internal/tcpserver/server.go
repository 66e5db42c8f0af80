// Package tcpserver is the multi-connection accept-loop layer over tcp
//: a table of {listener-uid -> server-record} that issues Listen,
// polls its own listeners, and turns AcceptPending readiness into
// fresh connections, enforcing a per-listener connection cap.
package tcpserver

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/uid"
)

// ListenResultFunc fires once per New call, reporting whether the
// underlying Listen succeeded.
type ListenResultFunc func(listener uid.Uid, addr string, ok bool, err string) action.Action

// NewConnFunc fires once per accepted connection admitted under the
// listener's connection cap.
type NewConnFunc func(listener uid.Uid, conn uid.Uid) action.Action

// CloseConnFunc fires once a server-accepted connection is torn down
// via this package's Close.
type CloseConnFunc func(listener, conn uid.Uid, err string) action.Action

// PollErrorFunc fires whenever a poll cycle removes at least one
// server due to a listener error or disappearance.
type PollErrorFunc func(err string) action.Action

type record struct {
	maxConnections int
	onNew          NewConnFunc
	onCloseConn    CloseConnFunc
	conns          map[uid.Uid]bool
}

// StateHaver is the projector interface a root state satisfies.
type StateHaver interface {
	tcp.StateHaver
	ServerState() *State
}

// State tracks every listener this package manages.
type State struct {
	servers     map[uid.Uid]*record
	onPollError PollErrorFunc
}

// NewState returns a freshly initialized server substate. onPollError
// may be nil if the caller doesn't care about aggregated poll errors.
func NewState(onPollError PollErrorFunc) *State {
	return &State{servers: make(map[uid.Uid]*record), onPollError: onPollError}
}

// Model is the Pure model for the server accept loop.
type Model struct{}

func (Model) Actions() map[action.UUID]action.Constructor { return constructors() }
func (Model) UUIDs() []action.UUID                        { return actionUUIDs() }

// New issues Listen on addr and registers a server record once it
// succeeds, reporting either outcome via onListenResult.
func New(d *dispatch.Dispatcher, s StateHaver, addr string, maxConnections int, onListenResult ListenResultFunc, onNew NewConnFunc, onCloseConn CloseConnFunc) uid.Uid {
	ss := s.ServerState()
	return tcp.Listen(d, s, addr, func(o tcp.ListenOutcome) action.Action {
		if !o.OK {
			if onListenResult != nil {
				return onListenResult(o.Listener, o.Addr, false, o.Err)
			}
			return nil
		}
		ss.servers[o.Listener] = &record{
			maxConnections: maxConnections,
			onNew:          onNew,
			onCloseConn:    onCloseConn,
			conns:          make(map[uid.Uid]bool),
		}
		if onListenResult != nil {
			return onListenResult(o.Listener, o.Addr, true, "")
		}
		return nil
	})
}

// Close tears down a server-accepted connection and fires its
// listener's onCloseConn.
func Close(d *dispatch.Dispatcher, s StateHaver, listener, conn uid.Uid) {
	ss := s.ServerState()
	rec, ok := ss.servers[listener]
	tcp.Close(d, s, conn, func(o tcp.CloseOutcome) action.Action {
		if !ok {
			return nil
		}
		delete(rec.conns, conn)
		if rec.onCloseConn != nil {
			return rec.onCloseConn(listener, conn, o.Err)
		}
		return nil
	})
}

// Poll polls every managed listener's readiness, dispatching this
// package's own serverPollDone so accept reconciliation runs
// synchronously with the event merge.
func Poll(d *dispatch.Dispatcher, s StateHaver, timeoutMs int64) {
	ss := s.ServerState()
	tst := s.TCPState()
	if tst.Status != tcp.StatusReady || len(ss.servers) == 0 {
		return
	}
	listeners := make([]uid.Uid, 0, len(ss.servers))
	for lid := range ss.servers {
		listeners = append(listeners, lid)
	}
	d.Dispatch(&ioeffect.IORequest{
		Op:        ioeffect.OpPollEvents,
		Instance:  tst.PollUID,
		Objects:   listeners,
		TimeoutMs: timeoutMs,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &serverPollDone{Events: r.Events, Interrupted: r.Status == ioeffect.StatusInterrupted, Err: errMsg}
		},
	})
}

// Apply routes this package's sole Input action type into the accept
// reconciliation below.
func Apply(d *dispatch.Dispatcher, s StateHaver, a action.Action) bool {
	act, ok := a.(*serverPollDone)
	if !ok {
		return false
	}
	applyServerPollDone(d, s, act)
	return true
}

func applyServerPollDone(d *dispatch.Dispatcher, s StateHaver, act *serverPollDone) {
	ss := s.ServerState()
	tst := s.TCPState()
	if act.Err != "" || act.Interrupted {
		return
	}

	for _, ev := range act.Events {
		l, ok := tst.Listeners[ev.Target]
		if !ok {
			continue
		}
		if ev.Readable {
			l.Event.AcceptPending = true
		}
		l.Event.Error = l.Event.Error || ev.Error
	}

	removedErr := ""
	for lid := range ss.servers {
		l, ok := tst.Listeners[lid]
		if ok && !l.Event.Error {
			continue
		}
		delete(ss.servers, lid)
		if removedErr == "" {
			removedErr = "listener removed"
			if ok {
				removedErr = "listener error"
			}
		}
	}
	if removedErr != "" {
		if ss.onPollError != nil {
			enqueue(d, ss.onPollError(removedErr))
		}
		return
	}

	for lid := range ss.servers {
		l, ok := tst.Listeners[lid]
		if !ok || !l.Event.AcceptPending {
			continue
		}
		listener := lid
		tcp.Accept(d, s, listener, func(o tcp.ConnectOutcome) action.Action {
			return onAccepted(d, s, listener, o)
		})
	}
}

func onAccepted(d *dispatch.Dispatcher, s StateHaver, listener uid.Uid, o tcp.ConnectOutcome) action.Action {
	ss := s.ServerState()
	rec, ok := ss.servers[listener]
	if !ok || !o.OK {
		return nil
	}
	if len(rec.conns) >= rec.maxConnections {
		tcp.Close(d, s, o.Conn, func(tcp.CloseOutcome) action.Action { return nil })
		return nil
	}
	rec.conns[o.Conn] = true
	if rec.onNew != nil {
		return rec.onNew(listener, o.Conn)
	}
	return nil
}

func enqueue(d *dispatch.Dispatcher, a action.Action) {
	if a != nil {
		d.Dispatch(a)
	}
}
