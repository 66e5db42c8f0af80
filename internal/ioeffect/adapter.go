// Package ioeffect is the only package in this module that touches the
// kernel: raw non-blocking TCP sockets, epoll readiness polling,
// and the wall clock. Every other component reaches the network only
// indirectly, through the IORequest/IOResult action pair this package
// defines and processes.
package ioeffect

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/uid"
)

// Op discriminates what operation an IORequest performs, the same
// bit-packed-envelope technique the corpus uses to multiplex many
// distinct device operations over one wire struct (compare the
// teacher's single UblksrvIOCmd shared by FETCH and COMMIT operations
// via a userData tag) rather than one bespoke Go type per adapter call.
type Op uint8

const (
	OpPollCreate Op = iota
	OpEventsCreate
	OpPollRegisterListener
	OpPollRegisterConn
	OpPollDeregisterConn
	OpPollEvents
	OpListen
	OpAccept
	OpConnect
	OpClose
	OpWrite
	OpRead
	OpPeerAddr
	OpSystemTime
)

func (o Op) String() string {
	names := [...]string{
		"PollCreate", "EventsCreate", "PollRegisterListener", "PollRegisterConn",
		"PollDeregisterConn", "PollEvents", "Listen", "Accept", "Connect", "Close",
		"Write", "Read", "PeerAddr", "SystemTime",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Status is the outcome of one adapter call, shared across every Op: not
// every field is meaningful for every Op, but a single enum keeps
// IOResult a single, record/replay-codable Go type.
type Status uint8

const (
	StatusOK Status = iota
	StatusWouldBlock
	StatusInterrupted
	StatusErr
	StatusWrittenPartial
	StatusReadPartial
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWouldBlock:
		return "WouldBlock"
	case StatusInterrupted:
		return "Interrupted"
	case StatusErr:
		return "Err"
	case StatusWrittenPartial:
		return "WrittenPartial"
	case StatusReadPartial:
		return "ReadPartial"
	default:
		return "Unknown"
	}
}

// PollEvent reports the cached readiness the adapter observed for one
// listener or connection UID in a single PollEvents call.
type PollEvent struct {
	Target     uid.Uid
	Readable   bool
	Writable   bool
	ReadClosed bool
	Error      bool
}

// IORequest is the single Output action type through which every
// effectful operation is requested. Its Done field is a Redispatch
// closure, not gob-codable; MarshalPayload deliberately serializes
// nothing for it (see design note on completion callbacks).
type IORequest struct {
	action.Base
	Op       Op
	Instance uid.Uid // poll UID, listener UID, or connection UID depending on Op
	Target   uid.Uid // secondary UID, e.g. the connection UID being accepted into
	Addr     string
	Data     []byte
	Max      int
	TimeoutMs int64 // <0 means "no timeout" (Never)
	Objects  []uid.Uid
	Done     func(IOResult) action.Action
}

var ioRequestUUID = action.MustUUID(0x494F5265, 0x7175657374000001) // "IORequest"

func (r *IORequest) ActionUUID() action.UUID { return ioRequestUUID }
func (r *IORequest) ActionKind() action.Kind { return action.Output }
func (r *IORequest) Equal(o action.Action) bool {
	other, ok := o.(*IORequest)
	return ok && other.Op == r.Op && other.Instance == r.Instance && other.Addr == r.Addr
}
func (r *IORequest) MarshalPayload() ([]byte, error) { return nil, nil }
func (r *IORequest) UnmarshalPayload([]byte) error   { return nil }

// IOResult is the single Input action type carrying every adapter
// completion back into the state machine.
type IOResult struct {
	action.Base
	Op      Op
	Status  Status
	N       int
	Bytes   []byte
	Events  []PollEvent
	ErrMsg  string
	Addr    string
	Millis  uint64
}

var ioResultUUID = action.MustUUID(0x494F5265, 0x7375657374000002) // "IOResult"

func (r *IOResult) ActionUUID() action.UUID { return ioResultUUID }
func (r *IOResult) ActionKind() action.Kind { return action.Input }
func (r *IOResult) Equal(o action.Action) bool {
	other, ok := o.(*IOResult)
	if !ok {
		return false
	}
	return other.Op == r.Op && other.Status == r.Status && other.N == r.N &&
		string(other.Bytes) == string(r.Bytes) && other.ErrMsg == r.ErrMsg && other.Addr == r.Addr && other.Millis == r.Millis
}
func (r *IOResult) MarshalPayload() ([]byte, error)   { return marshalIOResult(r) }
func (r *IOResult) UnmarshalPayload(b []byte) error   { return unmarshalIOResult(b, r) }

// pollRing is the epoll instance allocated for one poll UID.
type pollRing struct {
	epfd      int
	eventsCap int
	fdToUID   map[int]uid.Uid
}

// sock tracks one registered socket (listener or connection) by its
// owning UID.
type sock struct {
	fd int
}

// Adapter is the single Effectful model. Its fields are private
// state, invisible to the shared Substate and never recorded/replayed —
// only the IORequest/IOResult actions it exchanges cross that boundary.
type Adapter struct {
	mu        sync.Mutex
	replay    bool
	log       *obslog.Logger
	polls     map[uid.Uid]*pollRing
	listeners map[uid.Uid]*sock
	conns     map[uid.Uid]*sock
}

// New creates an Adapter in live mode: every call hits the kernel.
func New(log *obslog.Logger) *Adapter {
	if log == nil {
		log = obslog.Default()
	}
	return &Adapter{
		log:       log,
		polls:     make(map[uid.Uid]*pollRing),
		listeners: make(map[uid.Uid]*sock),
		conns:     make(map[uid.Uid]*sock),
	}
}

// NewReplay creates an Adapter in replay mode: no call ever touches the
// kernel; every method returns an inert sentinel that the
// runner will overwrite with the recorded Input payload.
func NewReplay(log *obslog.Logger) *Adapter {
	a := New(log)
	a.replay = true
	return a
}

// Actions returns the UUID->constructor table this model owns, for
// registry wiring.
func (a *Adapter) Actions() map[action.UUID]action.Constructor {
	return map[action.UUID]action.Constructor{
		ioRequestUUID: func() action.Action { return &IORequest{} },
		ioResultUUID:  func() action.Action { return &IOResult{} },
	}
}

// UUIDs lists the action types this model processes.
func (a *Adapter) UUIDs() []action.UUID { return []action.UUID{ioRequestUUID, ioResultUUID} }

// Close tears down every live socket and poll ring the adapter ever
// opened. Safe to call multiple times.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range a.listeners {
		unix.Close(l.fd)
	}
	for _, c := range a.conns {
		unix.Close(c.fd)
	}
	for _, p := range a.polls {
		unix.Close(p.epfd)
	}
	a.listeners = map[uid.Uid]*sock{}
	a.conns = map[uid.Uid]*sock{}
	a.polls = map[uid.Uid]*pollRing{}
}

func rawFD(c syscall.Conn) (int, error) {
	sc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var ctlErr error
	err = sc.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, err
	}
	return fd, ctlErr
}

// --- individual operations, each a thin wrapper over a raw syscall ---

func (a *Adapter) pollCreate(pollUID uid.Uid) error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	a.mu.Lock()
	a.polls[pollUID] = &pollRing{epfd: epfd, fdToUID: make(map[int]uid.Uid)}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) eventsCreate(pollUID uid.Uid, capacity int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.polls[pollUID]
	if !ok {
		return fmt.Errorf("events-create: no poll ring for %s", pollUID)
	}
	p.eventsCap = capacity
	return nil
}

func (a *Adapter) pollRegister(pollUID, target uid.Uid, fd int) error {
	a.mu.Lock()
	p, ok := a.polls[pollUID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("poll-register: no poll ring for %s", pollUID)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.fdToUID[fd] = target
	return nil
}

func (a *Adapter) pollDeregister(pollUID uid.Uid, fd int) error {
	a.mu.Lock()
	p, ok := a.polls[pollUID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("poll-deregister: no poll ring for %s", pollUID)
	}
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.fdToUID, fd)
	return nil
}

func (a *Adapter) pollEvents(pollUID uid.Uid, timeoutMs int) ([]PollEvent, bool, error) {
	a.mu.Lock()
	p, ok := a.polls[pollUID]
	a.mu.Unlock()
	if !ok {
		return nil, false, fmt.Errorf("poll-events: no poll ring for %s", pollUID)
	}
	cap := p.eventsCap
	if cap <= 0 {
		cap = 64
	}
	raw := make([]unix.EpollEvent, cap)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, true, nil
		}
		return nil, false, err
	}
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		target, ok := p.fdToUID[fd]
		if !ok {
			continue
		}
		ev := PollEvent{Target: target}
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
			ev.Readable = true
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			ev.Writable = true
		}
		if raw[i].Events&unix.EPOLLRDHUP != 0 {
			ev.ReadClosed = true
		}
		if raw[i].Events&unix.EPOLLERR != 0 {
			ev.Error = true
		}
		out = append(out, ev)
	}
	return out, false, nil
}

func (a *Adapter) tcpListen(listenerUID uid.Uid, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return "", fmt.Errorf("tcp-listen: unexpected listener type")
	}
	fd, err := rawFD(tl)
	if err != nil {
		tl.Close()
		return "", err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		tl.Close()
		return "", err
	}
	bound := tl.Addr().String()
	a.mu.Lock()
	a.listeners[listenerUID] = &sock{fd: fd}
	a.mu.Unlock()
	// The *net.TCPListener wrapper is no longer needed once we own the fd
	// directly; Go's runtime keeps the fd valid as long as it isn't
	// closed through the wrapper, so we intentionally leak the wrapper's
	// finalizer-free fd by detaching it via Close-on-adapter-teardown
	// instead of here.
	return bound, nil
}

func (a *Adapter) tcpAccept(listenerUID, connUID uid.Uid) (int, string, error) {
	a.mu.Lock()
	l, ok := a.listeners[listenerUID]
	a.mu.Unlock()
	if !ok {
		return -1, "", fmt.Errorf("tcp-accept: no listener %s", listenerUID)
	}
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, "", err
	}
	a.mu.Lock()
	a.conns[connUID] = &sock{fd: fd}
	a.mu.Unlock()
	return fd, sockaddrString(sa), nil
}

func (a *Adapter) tcpConnect(connUID uid.Uid, addr string) error {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		if raddr.IP.To4() == nil {
			fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
		}
		if err != nil {
			return err
		}
	}
	sa := tcpAddrToSockaddr(raddr)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return err
	}
	a.mu.Lock()
	a.conns[connUID] = &sock{fd: fd}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) tcpClose(target uid.Uid) error {
	a.mu.Lock()
	if s, ok := a.conns[target]; ok {
		delete(a.conns, target)
		a.mu.Unlock()
		return unix.Close(s.fd)
	}
	if s, ok := a.listeners[target]; ok {
		delete(a.listeners, target)
		a.mu.Unlock()
		return unix.Close(s.fd)
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) tcpWrite(connUID uid.Uid, data []byte) (int, error) {
	a.mu.Lock()
	s, ok := a.conns[connUID]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("tcp-write: no connection %s", connUID)
	}
	n, err := unix.Write(s.fd, data)
	return n, err
}

func (a *Adapter) tcpRead(connUID uid.Uid, max int) ([]byte, error) {
	a.mu.Lock()
	s, ok := a.conns[connUID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tcp-read: no connection %s", connUID)
	}
	buf := make([]byte, max)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("closed")
	}
	return buf[:n], nil
}

func (a *Adapter) tcpPeerAddr(connUID uid.Uid) (string, error) {
	a.mu.Lock()
	s, ok := a.conns[connUID]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("tcp-peer-address: no connection %s", connUID)
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return "", err
	}
	return sockaddrString(sa), nil
}

func (a *Adapter) systemTimeMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", v.Addr, v.Port)
	default:
		return ""
	}
}

func tcpAddrToSockaddr(addr *net.TCPAddr) unix.Sockaddr {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var a [4]byte
		copy(a[:], ip4)
		return &unix.SockaddrInet4{Port: addr.Port, Addr: a}
	}
	var a [16]byte
	copy(a[:], addr.IP.To16())
	return &unix.SockaddrInet6{Port: addr.Port, Addr: a}
}
