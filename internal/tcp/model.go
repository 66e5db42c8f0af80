package tcp

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

// Model is the Pure model for the raw TCP state machine.
type Model struct{}

// Actions returns this model's UUID->constructor table for registry
// wiring.
func (Model) Actions() map[action.UUID]action.Constructor { return constructors() }

// UUIDs lists the Input action types this model consumes.
func (Model) UUIDs() []action.UUID { return actionUUIDs() }

// Init begins the poll-create / events-create bootstrap sequence.
// Error at either step permanently parks Status at InitError.
func Init(d *dispatch.Dispatcher, s StateHaver, eventsCapacity int) {
	st := s.TCPState()
	if st.Status != StatusNew {
		return
	}
	st.PollUID = s.NextUID()
	st.Status = StatusInitPollCreate
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpPollCreate,
		Instance: st.PollUID,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &pollCreateDone{Err: errMsg}
		},
	})
	st.pendingCapacity = eventsCapacity
}

// Apply routes every Input action this model owns into a state
// transition, reporting whether a was one of them. Follow-up actions are
// dispatched through d rather than returned.
func Apply(d *dispatch.Dispatcher, s StateHaver, a action.Action) bool {
	st := s.TCPState()
	switch act := a.(type) {
	case *pollCreateDone:
		applyPollCreateDone(d, st, act)
		return true
	case *eventsCreateDone:
		applyEventsCreateDone(st, act)
		return true
	case *listenDone:
		applyListenDone(d, st, act)
		return true
	case *listenRegisterDone:
		applyListenRegisterDone(d, st, act)
		return true
	case *connectIssued:
		applyConnectIssued(d, s, act)
		return true
	case *connectRegisterDone:
		applyConnectRegisterDone(d, s, act)
		return true
	case *peerAddrDone:
		applyPeerAddrDone(d, s, act)
		return true
	case *acceptDone:
		applyAcceptDone(d, s, act)
		return true
	case *acceptRegisterDone:
		applyAcceptRegisterDone(d, s, act)
		return true
	case *pollDone:
		applyPollDone(d, s, act)
		return true
	case *writeDone:
		applyWriteDone(d, s, act)
		return true
	case *readDone:
		applyReadDone(d, s, act)
		return true
	case *deregisterDone:
		applyDeregisterDone(d, st, act)
		return true
	case *closeDone:
		applyCloseDone(d, s, act)
		return true
	}
	return false
}

// enqueue dispatches a, if non-nil, back into the instance's
// dispatcher. Every lifecycle callback in this package returns
// action.Action rather than acting directly, mirroring the
// Redispatch convention so replay sees the resulting Input action
// flow through the same recorded queue as everything else.
func enqueue(d *dispatch.Dispatcher, a action.Action) {
	if a != nil {
		d.Dispatch(a)
	}
}

func applyPollCreateDone(d *dispatch.Dispatcher, st *State, act *pollCreateDone) {
	if act.Err != "" {
		st.Status = StatusInitError
		st.InitErr = act.Err
		return
	}
	capacity := st.pendingCapacity
	st.Status = StatusInitEventsCreate
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpEventsCreate,
		Instance: st.PollUID,
		Max:      capacity,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &eventsCreateDone{Err: errMsg}
		},
	})
}

func applyEventsCreateDone(st *State, act *eventsCreateDone) {
	if act.Err != "" {
		st.Status = StatusInitError
		st.InitErr = act.Err
		return
	}
	st.EventsUID = st.PollUID
	st.Status = StatusReady
}

// Listen begins creating a new listener, notifying cb on completion.
func Listen(d *dispatch.Dispatcher, s StateHaver, addr string, cb ListenCallback) uid.Uid {
	st := s.TCPState()
	lUID := s.NextUID()
	st.Listeners[lUID] = &Listener{UID: lUID, Addr: addr}
	pendingListen[lUID] = cb
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpListen,
		Instance: lUID,
		Addr:     addr,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &listenDone{Listener: lUID, Addr: r.Addr, Err: errMsg}
		},
	})
	return lUID
}

// pendingListen, pendingConnect, etc. map ephemeral request UIDs to the
// caller's callback for the one in-flight lifecycle event each
// supports. Keyed outside State because callbacks are not
// serializable and must not enter the recorded/replayed substate.
var (
	pendingListen  = map[uid.Uid]ListenCallback{}
	pendingConnect = map[uid.Uid]ConnectCallback{}
)

func applyListenDone(d *dispatch.Dispatcher, st *State, act *listenDone) {
	l, ok := st.Listeners[act.Listener]
	if act.Err != "" {
		cb := pendingListen[act.Listener]
		delete(pendingListen, act.Listener)
		delete(st.Listeners, act.Listener)
		if cb != nil {
			enqueue(d, cb(ListenOutcome{Listener: act.Listener, Addr: act.Addr, OK: false, Err: act.Err}))
		}
		return
	}
	if ok {
		l.Addr = act.Addr
	}
	lUID, addr := act.Listener, act.Addr
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpPollRegisterListener,
		Instance: st.PollUID,
		Target:   lUID,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &listenRegisterDone{Listener: lUID, Addr: addr, Err: errMsg}
		},
	})
}

func applyListenRegisterDone(d *dispatch.Dispatcher, st *State, act *listenRegisterDone) {
	cb := pendingListen[act.Listener]
	delete(pendingListen, act.Listener)
	if act.Err != "" {
		delete(st.Listeners, act.Listener)
		if cb != nil {
			enqueue(d, cb(ListenOutcome{Listener: act.Listener, Addr: act.Addr, OK: false, Err: act.Err}))
		}
		return
	}
	if cb != nil {
		enqueue(d, cb(ListenOutcome{Listener: act.Listener, Addr: act.Addr, OK: true}))
	}
}

// Connect begins an outgoing connection. On the poll that observes the
// socket writable, a peer-address check confirms establishment; if the
// deadline passes first, Poll issues a timeout notification and purges
// the connection.
func Connect(d *dispatch.Dispatcher, s StateHaver, addr string, timeout timemodel.Timeout, cb ConnectCallback) uid.Uid {
	st := s.TCPState()
	connUID := s.NextUID()
	deadline := timemodel.GetTimeoutAbsolute(s, timeout)
	st.Conns[connUID] = &Conn{
		UID: connUID, Phase: ConnPending, Deadline: deadline,
		HasTimeout: timeout != timemodel.Never, OnConnect: cb,
		IssuedMs: timemodel.GetCurrentTime(s),
	}
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpConnect,
		Instance: connUID,
		Addr:     addr,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &connectIssued{Conn: connUID, Err: errMsg}
		},
	})
	return connUID
}

func applyConnectIssued(d *dispatch.Dispatcher, s StateHaver, act *connectIssued) {
	st := s.TCPState()
	conn, ok := st.Conns[act.Conn]
	if !ok {
		return
	}
	if act.Err != "" {
		s.Metrics().RecordConnect(connectLatencyNs(s, conn), false)
		enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: false, Err: act.Err}))
		delete(st.Conns, act.Conn)
		return
	}
	connUID := act.Conn
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpPollRegisterConn,
		Instance: st.PollUID,
		Target:   connUID,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &connectRegisterDone{Conn: connUID, Err: errMsg}
		},
	})
}

func applyConnectRegisterDone(d *dispatch.Dispatcher, s StateHaver, act *connectRegisterDone) {
	st := s.TCPState()
	conn, ok := st.Conns[act.Conn]
	if !ok {
		return
	}
	if act.Err != "" {
		s.Metrics().RecordConnect(connectLatencyNs(s, conn), false)
		enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: false, Err: act.Err}))
		delete(st.Conns, act.Conn)
	}
	// Otherwise remains ConnPending until poll observes writability.
}

// connectLatencyNs converts the elapsed time since a connection was
// issued into nanoseconds for Metrics, which tracks latency at
// nanosecond granularity even though this runtime's clock only
// advances in milliseconds.
func connectLatencyNs(s StateHaver, c *Conn) uint64 {
	now := timemodel.GetCurrentTime(s)
	if now <= c.IssuedMs {
		return 0
	}
	return uint64(now-c.IssuedMs) * 1_000_000
}

func notifyConnect(c *Conn, outcome ConnectOutcome) action.Action {
	if c.OnConnect == nil {
		return nil
	}
	cb := c.OnConnect
	c.OnConnect = nil
	return cb(outcome)
}

func applyPeerAddrDone(d *dispatch.Dispatcher, s StateHaver, act *peerAddrDone) {
	st := s.TCPState()
	conn, ok := st.Conns[act.Conn]
	if !ok {
		return
	}
	if act.Err != "" {
		s.Metrics().RecordConnect(connectLatencyNs(s, conn), false)
		enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: false, Err: act.Err}))
		delete(st.Conns, act.Conn)
		return
	}
	conn.Phase = ConnEstablished
	s.Metrics().RecordConnect(connectLatencyNs(s, conn), true)
	enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: true}))
}

// Accept attempts to accept one connection on listener, requiring that the listener's last event be AcceptPending.
func Accept(d *dispatch.Dispatcher, s StateHaver, listener uid.Uid, cb ConnectCallback) (uid.Uid, bool) {
	st := s.TCPState()
	l, ok := st.Listeners[listener]
	if !ok || !l.Event.AcceptPending {
		return uid.Zero, false
	}
	connUID := s.NextUID()
	st.Conns[connUID] = &Conn{UID: connUID, Phase: ConnEstablished, OnConnect: cb}
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpAccept,
		Instance: listener,
		Target:   connUID,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &acceptDone{Listener: listener, Conn: connUID, Status: r.Status, Addr: r.Addr, Err: errMsg}
		},
	})
	return connUID, true
}

func applyAcceptDone(d *dispatch.Dispatcher, s StateHaver, act *acceptDone) {
	st := s.TCPState()
	l, lok := st.Listeners[act.Listener]
	conn, cok := st.Conns[act.Conn]
	switch act.Status {
	case ioeffect.StatusWouldBlock:
		if lok {
			l.Event.AcceptPending = false
			l.Event.AllAccepted = true
		}
		if cok {
			delete(st.Conns, act.Conn)
		}
	case ioeffect.StatusErr:
		if cok {
			s.Metrics().RecordAccept(0, false)
			enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: false, Err: act.Err}))
			delete(st.Conns, act.Conn)
		}
	default:
		if cok {
			listener, connUID := act.Listener, act.Conn
			d.Dispatch(&ioeffect.IORequest{
				Op:       ioeffect.OpPollRegisterConn,
				Instance: st.PollUID,
				Target:   connUID,
				Done: func(r ioeffect.IOResult) action.Action {
					errMsg := ""
					if r.Status == ioeffect.StatusErr {
						errMsg = r.ErrMsg
					}
					return &acceptRegisterDone{Listener: listener, Conn: connUID, Err: errMsg}
				},
			})
		}
	}
}

func applyAcceptRegisterDone(d *dispatch.Dispatcher, s StateHaver, act *acceptRegisterDone) {
	st := s.TCPState()
	conn, ok := st.Conns[act.Conn]
	if !ok {
		return
	}
	if act.Err != "" {
		s.Metrics().RecordAccept(0, false)
		enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: false, Err: act.Err}))
		delete(st.Conns, act.Conn)
		return
	}
	s.Metrics().RecordAccept(0, true)
	enqueue(d, notifyConnect(conn, ConnectOutcome{Conn: act.Conn, OK: true}))
}

// Poll is the engine: issue a poll-events request, reconcile cached
// events, then process pending connect checks, sends, and recvs in that
// order. objects is carried on the request as given, with no dedup or
// filtering; the adapter polls every socket registered with the ring,
// every returned event updates the cache of the listener or connection
// it names, and no event list is reported back to the caller.
func Poll(d *dispatch.Dispatcher, s StateHaver, objects []uid.Uid, timeout int64) {
	st := s.TCPState()
	if st.Status != StatusReady {
		return
	}
	d.Dispatch(&ioeffect.IORequest{
		Op:        ioeffect.OpPollEvents,
		Instance:  st.PollUID,
		Objects:   objects,
		TimeoutMs: timeout,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &pollDone{Poll: st.PollUID, Events: r.Events, Interrupted: r.Status == ioeffect.StatusInterrupted, Err: errMsg}
		},
	})
}

func applyPollDone(d *dispatch.Dispatcher, s StateHaver, act *pollDone) {
	st := s.TCPState()
	if act.Err != "" || act.Interrupted {
		return
	}
	for _, ev := range act.Events {
		if l, ok := st.Listeners[ev.Target]; ok {
			if ev.Readable {
				l.Event.AcceptPending = true
			}
			l.Event.Error = l.Event.Error || ev.Error
			continue
		}
		if c, ok := st.Conns[ev.Target]; ok {
			c.Event.Readable = c.Event.Readable || ev.Readable
			c.Event.Writable = c.Event.Writable || ev.Writable
			c.Event.ReadClosed = c.Event.ReadClosed || ev.ReadClosed
			c.Event.Error = c.Event.Error || ev.Error
		}
	}

	now := timemodel.GetCurrentTime(s)

	// 1. pending outgoing-connection checks
	for id, c := range st.Conns {
		if c.Phase != ConnPending {
			continue
		}
		if c.HasTimeout && now >= c.Deadline {
			s.Metrics().RecordConnect(connectLatencyNs(s, c), false)
			enqueue(d, notifyConnect(c, ConnectOutcome{Conn: id, OK: false, Err: "connect timeout"}))
			delete(st.Conns, id)
			continue
		}
		if !c.Event.Writable {
			continue
		}
		c.Phase = ConnPendingCheck
		connUID := id
		d.Dispatch(&ioeffect.IORequest{
			Op:       ioeffect.OpPeerAddr,
			Instance: connUID,
			Done: func(r ioeffect.IOResult) action.Action {
				errMsg := ""
				if r.Status == ioeffect.StatusErr {
					errMsg = r.ErrMsg
				}
				return &peerAddrDone{Conn: connUID, Addr: r.Addr, Err: errMsg}
			},
		})
	}

	// 2. pending send requests
	for id, req := range st.Sends {
		if req.HasTimeout && now >= req.Deadline {
			delete(st.Sends, id)
			s.Metrics().RecordSend(uint64(req.Sent), requestLatencyNs(s, req.IssuedMs), false)
			if req.Done != nil {
				enqueue(d, req.Done(SendResult{Request: id, Conn: req.Conn, OK: false, Err: "send timeout"}))
			}
			continue
		}
		if !req.SendOnPoll {
			continue
		}
		tryWrite(d, st, req)
	}

	// 3. pending recv requests
	for id, req := range st.Recvs {
		if req.HasTimeout && now >= req.Deadline {
			delete(st.Recvs, id)
			s.Metrics().RecordRecv(uint64(len(req.Buffered)), requestLatencyNs(s, req.IssuedMs), false)
			if req.Done != nil {
				enqueue(d, req.Done(RecvResult{Request: id, Conn: req.Conn, Buffered: req.Buffered, OK: false, Partial: true, Err: "recv timeout"}))
			}
			continue
		}
		if !req.RecvOnPoll {
			continue
		}
		tryRead(d, st, req)
	}
}

// Send enqueues a SendRequest and attempts an immediate write if the
// cached event already shows writable.
func Send(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, data []byte, timeout timemodel.Timeout, cb SendCallback) uid.Uid {
	st := s.TCPState()
	reqUID := s.NextUID()
	deadline := timemodel.GetTimeoutAbsolute(s, timeout)
	req := &SendRequest{
		UID: reqUID, Conn: conn, Data: data, Deadline: deadline,
		HasTimeout: timeout != timemodel.Never, Done: cb,
		IssuedMs: timemodel.GetCurrentTime(s),
	}
	st.Sends[reqUID] = req
	c, ok := st.Conns[conn]
	if ok && c.Event.Writable {
		tryWrite(d, st, req)
	} else {
		req.SendOnPoll = true
	}
	return reqUID
}

func tryWrite(d *dispatch.Dispatcher, st *State, req *SendRequest) {
	reqUID := req.UID
	remaining := req.Data[req.Sent:]
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpWrite,
		Instance: req.Conn,
		Data:     remaining,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &writeDone{Send: reqUID, Status: r.Status, N: r.N, Err: errMsg}
		},
	})
}

func applyWriteDone(d *dispatch.Dispatcher, s StateHaver, act *writeDone) {
	st := s.TCPState()
	req, ok := st.Sends[act.Send]
	if !ok {
		return
	}
	switch act.Status {
	case ioeffect.StatusOK:
		delete(st.Sends, act.Send)
		s.Metrics().RecordSend(uint64(len(req.Data)), requestLatencyNs(s, req.IssuedMs), true)
		if req.Done != nil {
			enqueue(d, req.Done(SendResult{Request: act.Send, Conn: req.Conn, OK: true}))
		}
	case ioeffect.StatusWrittenPartial:
		req.Sent += act.N
		req.SendOnPoll = true
	case ioeffect.StatusInterrupted:
		// Treated like WouldBlock: retried on the next poll cycle rather
		// than re-issued immediately, keeping one write in flight at a time.
		req.SendOnPoll = true
	case ioeffect.StatusWouldBlock:
		req.SendOnPoll = true
		if c, ok := st.Conns[req.Conn]; ok {
			c.Event.Writable = false
		}
	case ioeffect.StatusErr:
		delete(st.Sends, act.Send)
		s.Metrics().RecordSend(uint64(req.Sent), requestLatencyNs(s, req.IssuedMs), false)
		if req.Done != nil {
			enqueue(d, req.Done(SendResult{Request: act.Send, Conn: req.Conn, OK: false, Err: act.Err}))
		}
	}
}

// requestLatencyNs converts the elapsed time since a send/recv request
// was issued into nanoseconds for Metrics.
func requestLatencyNs(s StateHaver, issuedMs timemodel.Millis) uint64 {
	now := timemodel.GetCurrentTime(s)
	if now <= issuedMs {
		return 0
	}
	return uint64(now-issuedMs) * 1_000_000
}

// Recv enqueues a RecvRequest for exactly count bytes.
func Recv(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, count int, timeout timemodel.Timeout, cb RecvCallback) uid.Uid {
	st := s.TCPState()
	reqUID := s.NextUID()
	deadline := timemodel.GetTimeoutAbsolute(s, timeout)
	req := &RecvRequest{
		UID: reqUID, Conn: conn, Remaining: count, Deadline: deadline,
		HasTimeout: timeout != timemodel.Never, Done: cb,
		IssuedMs: timemodel.GetCurrentTime(s),
	}
	st.Recvs[reqUID] = req
	c, ok := st.Conns[conn]
	if ok && c.Event.Readable {
		tryRead(d, st, req)
	} else {
		req.RecvOnPoll = true
	}
	return reqUID
}

func tryRead(d *dispatch.Dispatcher, st *State, req *RecvRequest) {
	reqUID := req.UID
	max := req.Remaining
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpRead,
		Instance: req.Conn,
		Max:      max,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &readDone{Recv: reqUID, Status: r.Status, Data: r.Bytes, Err: errMsg}
		},
	})
}

func applyReadDone(d *dispatch.Dispatcher, s StateHaver, act *readDone) {
	st := s.TCPState()
	req, ok := st.Recvs[act.Recv]
	if !ok {
		return
	}
	switch act.Status {
	case ioeffect.StatusOK, ioeffect.StatusReadPartial:
		req.Buffered = append(req.Buffered, act.Data...)
		req.Remaining -= len(act.Data)
		if req.Remaining <= 0 {
			delete(st.Recvs, act.Recv)
			s.Metrics().RecordRecv(uint64(len(req.Buffered)), requestLatencyNs(s, req.IssuedMs), true)
			if req.Done != nil {
				enqueue(d, req.Done(RecvResult{Request: act.Recv, Conn: req.Conn, Buffered: req.Buffered, OK: true}))
			}
			return
		}
		req.RecvOnPoll = true
	case ioeffect.StatusInterrupted:
		req.RecvOnPoll = true
	case ioeffect.StatusWouldBlock:
		req.RecvOnPoll = true
		if c, ok := st.Conns[req.Conn]; ok {
			c.Event.Readable = false
		}
	case ioeffect.StatusErr:
		delete(st.Recvs, act.Recv)
		s.Metrics().RecordRecv(uint64(len(req.Buffered)), requestLatencyNs(s, req.IssuedMs), false)
		if req.Done != nil {
			enqueue(d, req.Done(RecvResult{Request: act.Recv, Conn: req.Conn, Buffered: req.Buffered, OK: false, Err: act.Err}))
		}
	}
}

// Close tears down a connection or listener: deregisters from poll,
// closes the socket, and on completion purges any pending send/recv
// requests that referenced it (resolving each with an error) before
// notifying cb (if non-nil).
func Close(d *dispatch.Dispatcher, s StateHaver, target uid.Uid, cb CloseCallback) {
	st := s.TCPState()
	if c, ok := st.Conns[target]; ok {
		c.Phase = ConnCloseRequested
		c.OnClose = cb
	}
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpPollDeregisterConn,
		Instance: st.PollUID,
		Target:   target,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &deregisterDone{Target: target, Err: errMsg}
		},
	})
}

// applyDeregisterDone issues the actual socket close once the target
// has been taken out of the poll ring, regardless of whether the
// deregister itself succeeded (a target never registered, e.g. one
// whose connect failed before reaching poll, still needs its fd shut).
func applyDeregisterDone(d *dispatch.Dispatcher, st *State, act *deregisterDone) {
	target := act.Target
	d.Dispatch(&ioeffect.IORequest{
		Op:       ioeffect.OpClose,
		Instance: target,
		Done: func(r ioeffect.IOResult) action.Action {
			errMsg := ""
			if r.Status == ioeffect.StatusErr {
				errMsg = r.ErrMsg
			}
			return &closeDone{Target: target, Err: errMsg}
		},
	})
}

func applyCloseDone(d *dispatch.Dispatcher, s StateHaver, act *closeDone) {
	st := s.TCPState()
	if c, ok := st.Conns[act.Target]; ok {
		errMsg := act.Err
		if errMsg == "" {
			errMsg = "closed"
		}
		for _, purged := range purgeConnRequests(st, act.Target, errMsg) {
			enqueue(d, purged)
		}
		s.Metrics().RecordClose()
		if c.OnClose != nil {
			enqueue(d, c.OnClose(CloseOutcome{Conn: act.Target, Err: act.Err}))
		}
		delete(st.Conns, act.Target)
		return
	}
	delete(st.Listeners, act.Target)
}
