package tcpclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton"
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

// fakeRoot wires tcp.State, tcpclient.State, timemodel.State, and a UID
// source together the way the runtime's root state does in production.
type fakeRoot struct {
	tcp     *tcp.State
	client  *State
	time    timemodel.State
	src     uid.Source
	metrics *automaton.Metrics
}

func newFakeRoot() *fakeRoot {
	return &fakeRoot{tcp: tcp.NewState(), client: NewState(), metrics: automaton.NewMetrics()}
}

func (f *fakeRoot) TCPState() *tcp.State        { return f.tcp }
func (f *fakeRoot) ClientState() *State         { return f.client }
func (f *fakeRoot) TimeState() *timemodel.State { return &f.time }
func (f *fakeRoot) NextUID() uid.Uid            { return f.src.New() }
func (f *fakeRoot) Metrics() *automaton.Metrics { return f.metrics }

func drive(t *testing.T, d *dispatch.Dispatcher, root *fakeRoot, adapter *ioeffect.Adapter, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps && d.Len() > 0; i++ {
		a := d.NextAction()
		switch a.ActionKind() {
		case action.Output:
			adapter.Process(d, a)
		case action.Input:
			if timemodel.Apply(root, a) {
				continue
			}
			tcp.Apply(d, root, a)
		}
	}
}

func TestConnectFailureInvokesCallbackOnly(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var ok bool
	var errMsg string
	closeCalled := false
	Connect(d, root, "127.0.0.1:1", timemodel.Never,
		func(conn uid.Uid, success bool, e string) action.Action {
			ok = success
			errMsg = e
			return nil
		},
		func(e string) action.Action {
			closeCalled = true
			return nil
		})
	drive(t, d, root, adapter, 10)

	require.False(t, ok)
	require.NotEmpty(t, errMsg)
	require.False(t, closeCalled, "onClose must not fire for a connection that never established")
	require.Empty(t, root.client.conns)
}

func TestConnectSuccessRegistersOnClose(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var listenOutcome tcp.ListenOutcome
	tcp.Listen(d, root, "127.0.0.1:0", func(o tcp.ListenOutcome) action.Action {
		listenOutcome = o
		return nil
	})
	drive(t, d, root, adapter, 10)
	require.True(t, listenOutcome.OK)

	var connUID uid.Uid
	var ok bool
	Connect(d, root, listenOutcome.Addr, timemodel.Never,
		func(conn uid.Uid, success bool, e string) action.Action {
			connUID = conn
			ok = success
			return nil
		},
		func(e string) action.Action { return nil })
	drive(t, d, root, adapter, 10)

	// The connect only resolves once a poll observes the socket writable
	// and its peer-address check completes.
	for i := 0; i < 40 && !ok; i++ {
		Poll(d, root, 5)
		drive(t, d, root, adapter, 10)
	}
	require.True(t, ok)
	require.Contains(t, root.client.conns, connUID)
}

func TestSendFailureClosesAndFiresOnCloseOnce(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	connUID := root.NextUID()
	// Cached writable, so Send issues the write immediately.
	root.tcp.Conns[connUID] = &tcp.Conn{UID: connUID, Phase: tcp.ConnEstablished, Event: tcp.CachedEvent{Writable: true}}
	root.client.conns[connUID] = &entry{}

	closeCount := 0
	var closeErr string
	root.client.conns[connUID].onClose = func(e string) action.Action {
		closeCount++
		closeErr = e
		return nil
	}

	var sendOK bool
	Send(d, root, connUID, []byte("hi"), timemodel.Never, func(conn uid.Uid, data []byte, ok bool, e string) action.Action {
		sendOK = ok
		return nil
	})
	drive(t, d, root, adapter, 10)

	require.False(t, sendOK, "write on a connection never opened at the OS level must fail")
	require.Equal(t, 1, closeCount, "auto-close-on-error must fire onClose exactly once")
	require.NotEmpty(t, closeErr)
	require.NotContains(t, root.client.conns, connUID)
	require.NotContains(t, root.tcp.Conns, connUID)
}

func TestExplicitCloseFiresOnCloseWithEmptyError(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	connUID := root.NextUID()
	root.tcp.Conns[connUID] = &tcp.Conn{UID: connUID, Phase: tcp.ConnEstablished}
	root.client.conns[connUID] = &entry{}

	var gotErr string
	called := false
	root.client.conns[connUID].onClose = func(e string) action.Action {
		called = true
		gotErr = e
		return nil
	}

	Close(d, root, connUID)
	drive(t, d, root, adapter, 10)

	require.True(t, called)
	require.Empty(t, gotErr, "explicit Close on a clean connection carries no error")
	require.NotContains(t, root.client.conns, connUID)
}

func TestRecvPartialDoesNotAutoClose(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	connUID := root.NextUID()
	root.tcp.Conns[connUID] = &tcp.Conn{UID: connUID, Phase: tcp.ConnEstablished}
	root.client.conns[connUID] = &entry{}

	closeCalled := false
	root.client.conns[connUID].onClose = func(e string) action.Action {
		closeCalled = true
		return nil
	}

	called := false
	resultOK := true
	reqUID := Recv(d, root, connUID, 4, timemodel.Timeout(0), func(conn uid.Uid, data []byte, ok bool, e string) action.Action {
		called = true
		resultOK = ok
		return nil
	})
	_ = reqUID

	// Nothing arrives, so the first poll expires the zero timeout and
	// resolves the request as a partial (timed-out) recv.
	Poll(d, root, 0)
	drive(t, d, root, adapter, 10)

	require.True(t, called)
	require.False(t, resultOK)
	require.False(t, closeCalled)
}
