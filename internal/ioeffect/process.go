package ioeffect

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/uid"
)

// Process executes one IORequest and redispatches its IOResult. It is
// the single place in the module that calls into the kernel; every
// other package only ever sees the IORequest/IOResult action pair.
//
// In replay mode the adapter still redispatches a result, but the
// result is a structural placeholder only: the runner overwrites it
// with the recorded Input payload before anything downstream observes
// it, so no value computed here ever actually reaches a Pure model.
func (a *Adapter) Process(d *dispatch.Dispatcher, act action.Action) {
	req, ok := act.(*IORequest)
	if !ok {
		return
	}
	if a.replay {
		dispatch.CompletionDispatch(d, req.Done, IOResult{Op: req.Op, Status: StatusOK})
		return
	}

	result := a.execute(req)
	dispatch.CompletionDispatch(d, req.Done, result)
}

func (a *Adapter) execute(req *IORequest) IOResult {
	switch req.Op {
	case OpPollCreate:
		if err := a.pollCreate(req.Instance); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpEventsCreate:
		if err := a.eventsCreate(req.Instance, req.Max); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpPollRegisterListener, OpPollRegisterConn:
		fd, ok := a.fdOf(req.Target)
		if !ok {
			return errResult(req.Op, errNoFD(req.Target))
		}
		if err := a.pollRegister(req.Instance, req.Target, fd); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpPollDeregisterConn:
		fd, ok := a.fdOf(req.Target)
		if !ok {
			return IOResult{Op: req.Op, Status: StatusOK}
		}
		if err := a.pollDeregister(req.Instance, fd); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpPollEvents:
		events, interrupted, err := a.pollEvents(req.Instance, int(req.TimeoutMs))
		if interrupted {
			return IOResult{Op: req.Op, Status: StatusInterrupted}
		}
		if err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK, Events: events}

	case OpListen:
		bound, err := a.tcpListen(req.Instance, req.Addr)
		if err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK, Addr: bound}

	case OpAccept:
		_, addr, err := a.tcpAccept(req.Instance, req.Target)
		if isWouldBlock(err) {
			return IOResult{Op: req.Op, Status: StatusWouldBlock}
		}
		if err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK, Addr: addr}

	case OpConnect:
		if err := a.tcpConnect(req.Instance, req.Addr); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpClose:
		if err := a.tcpClose(req.Instance); err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK}

	case OpWrite:
		n, err := a.tcpWrite(req.Instance, req.Data)
		if isWouldBlock(err) {
			return IOResult{Op: req.Op, Status: StatusWouldBlock}
		}
		if err != nil {
			return errResult(req.Op, err)
		}
		if n < len(req.Data) {
			return IOResult{Op: req.Op, Status: StatusWrittenPartial, N: n}
		}
		return IOResult{Op: req.Op, Status: StatusOK, N: n}

	case OpRead:
		data, err := a.tcpRead(req.Instance, req.Max)
		if isWouldBlock(err) {
			return IOResult{Op: req.Op, Status: StatusWouldBlock}
		}
		if err != nil {
			return errResult(req.Op, err)
		}
		status := StatusOK
		if len(data) < req.Max {
			status = StatusReadPartial
		}
		return IOResult{Op: req.Op, Status: status, N: len(data), Bytes: data}

	case OpPeerAddr:
		addr, err := a.tcpPeerAddr(req.Instance)
		if err != nil {
			return errResult(req.Op, err)
		}
		return IOResult{Op: req.Op, Status: StatusOK, Addr: addr}

	case OpSystemTime:
		return IOResult{Op: req.Op, Status: StatusOK, Millis: a.systemTimeMillis()}

	default:
		return IOResult{Op: req.Op, Status: StatusErr, ErrMsg: "unknown op"}
	}
}

func (a *Adapter) fdOf(target uid.Uid) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.conns[target]; ok {
		return s.fd, true
	}
	if s, ok := a.listeners[target]; ok {
		return s.fd, true
	}
	return 0, false
}

func errNoFD(target uid.Uid) error {
	return fmt.Errorf("ioeffect: no socket registered for %s", target)
}

func errResult(op Op, err error) IOResult {
	return IOResult{Op: op, Status: StatusErr, ErrMsg: err.Error()}
}

func isWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINPROGRESS
}
