// Package tcpclient is the single-connection convenience layer over
// tcp: it forwards Connect/Send/Recv/Close to the raw state
// machine, intercepts completions, and auto-closes on a Send/Recv
// error so callers never have to remember to tear down a half-dead
// connection themselves.
package tcpclient

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

// CloseFunc is invoked once, whenever a connection is torn down,
// whether by explicit Close or by an automatic close-on-error.
type CloseFunc func(err string) action.Action

// ConnectResultFunc is invoked once per Connect call, with success or
// failure.
type ConnectResultFunc func(conn uid.Uid, ok bool, err string) action.Action

// ResultFunc is invoked once per Send or Recv call.
type ResultFunc func(conn uid.Uid, data []byte, ok bool, err string) action.Action

type entry struct {
	onClose CloseFunc
}

// StateHaver is the projector interface a root state satisfies.
type StateHaver interface {
	tcp.StateHaver
	ClientState() *State
}

// State tracks the client's live connections and in-flight requests.
type State struct {
	conns map[uid.Uid]*entry
	sends map[uid.Uid]uid.Uid // send-request uid -> conn uid
	recvs map[uid.Uid]uid.Uid // recv-request uid -> conn uid
}

// NewState returns a freshly initialized client substate.
func NewState() *State {
	return &State{
		conns: make(map[uid.Uid]*entry),
		sends: make(map[uid.Uid]uid.Uid),
		recvs: make(map[uid.Uid]uid.Uid),
	}
}

// Connect opens a new connection, reporting the result via cb and
// registering onClose to fire on any future teardown of that
// connection, explicit or automatic.
func Connect(d *dispatch.Dispatcher, s StateHaver, addr string, timeout timemodel.Timeout, cb ConnectResultFunc, onClose CloseFunc) uid.Uid {
	cs := s.ClientState()
	return tcp.Connect(d, s, addr, timeout, func(o tcp.ConnectOutcome) action.Action {
		if !o.OK {
			return cb(o.Conn, false, o.Err)
		}
		cs.conns[o.Conn] = &entry{onClose: onClose}
		return cb(o.Conn, true, "")
	})
}

// Send writes data on conn, automatically closing the connection if
// the underlying write fails.
func Send(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, data []byte, timeout timemodel.Timeout, cb ResultFunc) uid.Uid {
	cs := s.ClientState()
	reqUID := tcp.Send(d, s, conn, data, timeout, func(r tcp.SendResult) action.Action {
		delete(cs.sends, r.Request)
		resultAction := cb(conn, nil, r.OK, r.Err)
		if !r.OK {
			closeOnError(d, s, conn, r.Err)
		}
		return resultAction
	})
	cs.sends[reqUID] = conn
	return reqUID
}

// Recv reads count bytes from conn, automatically closing the
// connection if the underlying read fails.
func Recv(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, count int, timeout timemodel.Timeout, cb ResultFunc) uid.Uid {
	cs := s.ClientState()
	reqUID := tcp.Recv(d, s, conn, count, timeout, func(r tcp.RecvResult) action.Action {
		delete(cs.recvs, r.Request)
		resultAction := cb(conn, r.Buffered, r.OK, r.Err)
		if !r.OK && !r.Partial {
			closeOnError(d, s, conn, r.Err)
		}
		return resultAction
	})
	cs.recvs[reqUID] = conn
	return reqUID
}

// Close tears down conn explicitly, firing its registered onClose (if
// any) with the socket close's error, which is empty on a clean close.
func Close(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid) {
	teardown(d, s, conn, "")
}

func closeOnError(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, errMsg string) {
	teardown(d, s, conn, errMsg)
}

func teardown(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, errMsg string) {
	cs := s.ClientState()
	e, ok := cs.conns[conn]
	delete(cs.conns, conn)
	tcp.Close(d, s, conn, func(o tcp.CloseOutcome) action.Action {
		final := errMsg
		if final == "" {
			final = o.Err
		}
		if ok && e.onClose != nil {
			return e.onClose(final)
		}
		return nil
	})
}

// Poll drives the underlying raw state machine's poll loop with an
// empty object list: the client itself has no listener or connection
// set worth filtering events for.
func Poll(d *dispatch.Dispatcher, s StateHaver, timeoutMs int64) {
	tcp.Poll(d, s, nil, timeoutMs)
}
