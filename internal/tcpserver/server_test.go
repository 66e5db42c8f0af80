package tcpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton"
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/tcpclient"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

type fakeRoot struct {
	tcp     *tcp.State
	server  *State
	client  *tcpclient.State
	time    timemodel.State
	src     uid.Source
	metrics *automaton.Metrics
}

func newFakeRoot(onPollError PollErrorFunc) *fakeRoot {
	return &fakeRoot{
		tcp: tcp.NewState(), server: NewState(onPollError), client: tcpclient.NewState(),
		metrics: automaton.NewMetrics(),
	}
}

func (f *fakeRoot) TCPState() *tcp.State          { return f.tcp }
func (f *fakeRoot) ServerState() *State           { return f.server }
func (f *fakeRoot) ClientState() *tcpclient.State { return f.client }
func (f *fakeRoot) TimeState() *timemodel.State   { return &f.time }
func (f *fakeRoot) NextUID() uid.Uid              { return f.src.New() }
func (f *fakeRoot) Metrics() *automaton.Metrics   { return f.metrics }

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
			if Apply(d, root, a) {
				continue
			}
			tcp.Apply(d, root, a)
		}
	}
}

func TestNewRegistersServerOnListenSuccess(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot(nil)
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var ok bool
	var addr string
	lUID := New(d, root, "127.0.0.1:0", 2, func(listener uid.Uid, a string, success bool, e string) action.Action {
		ok = success
		addr = a
		return nil
	}, nil, nil)
	drive(t, d, root, adapter, 10)

	require.True(t, ok)
	require.NotEmpty(t, addr)
	require.Contains(t, root.server.servers, lUID)
}

func TestAcceptFiresOnNewAndEnforcesCap(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot(nil)
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var addr string
	var lUID uid.Uid
	onNewCalls := 0
	lUID = New(d, root, "127.0.0.1:0", 1, func(listener uid.Uid, a string, ok bool, e string) action.Action {
		addr = a
		return nil
	}, func(listener, conn uid.Uid) action.Action {
		onNewCalls++
		return nil
	}, nil)
	drive(t, d, root, adapter, 10)
	require.NotEmpty(t, addr)

	var clientOK bool
	tcpclient.Connect(d, root, addr, timemodel.Never, func(conn uid.Uid, ok bool, e string) action.Action {
		clientOK = ok
		return nil
	}, nil)
	drive(t, d, root, adapter, 10)

	time.Sleep(20 * time.Millisecond)
	newConns := 0
	// The server poll drives accepts; the raw tcp poll completes the
	// client side's connect check.
	for i := 0; i < 20 && (newConns == 0 || !clientOK); i++ {
		Poll(d, root, 0)
		tcp.Poll(d, root, nil, 0)
		drive(t, d, root, adapter, 20)
		for lid, rec := range root.server.servers {
			if lid == lUID {
				newConns = len(rec.conns)
			}
		}
		if newConns == 0 || !clientOK {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.True(t, clientOK)
	require.Equal(t, 1, newConns)
	require.Equal(t, 1, onNewCalls)

	// A second client arrives while the listener is at its cap of 1: it
	// is closed on accept without reaching onNew.
	tcpclient.Connect(d, root, addr, timemodel.Never, func(uid.Uid, bool, string) action.Action { return nil }, nil)
	drive(t, d, root, adapter, 10)
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		Poll(d, root, 0)
		tcp.Poll(d, root, nil, 0)
		drive(t, d, root, adapter, 20)
		time.Sleep(2 * time.Millisecond)
	}

	require.Equal(t, 1, onNewCalls)
	require.Len(t, root.server.servers[lUID].conns, 1)
}

func TestPollErrorRemovesServerOnListenerGone(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	var gotErr string
	root := newFakeRoot(func(err string) action.Action {
		gotErr = err
		return nil
	})
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	lUID := root.NextUID()
	root.tcp.Listeners[lUID] = &tcp.Listener{UID: lUID, Addr: "127.0.0.1:0"}
	root.server.servers[lUID] = &record{maxConnections: 1, conns: make(map[uid.Uid]bool)}
	delete(root.tcp.Listeners, lUID)

	ev := ioeffect.PollEvent{Target: lUID, Readable: true}
	applyServerPollDone(d, root, &serverPollDone{Events: []ioeffect.PollEvent{ev}})

	require.NotEmpty(t, gotErr)
	require.NotContains(t, root.server.servers, lUID)
}
