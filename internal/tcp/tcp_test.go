package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton"
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

// fakeRoot is a minimal root state satisfying StateHaver for tests,
// wiring tcp.State, timemodel.State, and the UID source together the
// way the runtime's root state does in production.
type fakeRoot struct {
	tcp     *State
	time    timemodel.State
	src     uid.Source
	metrics *automaton.Metrics
}

func newFakeRoot() *fakeRoot {
	return &fakeRoot{tcp: NewState(), metrics: automaton.NewMetrics()}
}

func (f *fakeRoot) TCPState() *State            { return f.tcp }
func (f *fakeRoot) TimeState() *timemodel.State { return &f.time }
func (f *fakeRoot) NextUID() uid.Uid            { return f.src.New() }
func (f *fakeRoot) Metrics() *automaton.Metrics { return f.metrics }

// drive runs the dispatcher until its queue is empty, routing
// ioeffect.IORequest to a real Adapter and every resulting Input action
// back into tcp.Apply (and timemodel.Apply for system-time refreshes).
// This mirrors the runner's process_action dispatch without pulling in
// the full registry.
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
			Apply(d, root, a)
		}
	}
}

func TestInitReachesReady(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	require.Equal(t, StatusReady, root.tcp.Status)
	require.False(t, root.tcp.PollUID.IsZero())
}

func TestListenSucceedsOnLoopback(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var outcome ListenOutcome
	lUID := Listen(d, root, "127.0.0.1:0", func(o ListenOutcome) action.Action {
		outcome = o
		return nil
	})
	drive(t, d, root, adapter, 10)

	require.True(t, outcome.OK)
	require.NotEmpty(t, outcome.Addr)
	require.Contains(t, root.tcp.Listeners, lUID)
}

func TestConnectAndAcceptEstablish(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot()
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var listenOutcome ListenOutcome
	lUID := Listen(d, root, "127.0.0.1:0", func(o ListenOutcome) action.Action {
		listenOutcome = o
		return nil
	})
	drive(t, d, root, adapter, 10)
	require.True(t, listenOutcome.OK)

	var clientOutcome ConnectOutcome
	Connect(d, root, listenOutcome.Addr, timemodel.Never, func(o ConnectOutcome) action.Action {
		clientOutcome = o
		return nil
	})
	drive(t, d, root, adapter, 10)

	// Drive real polls until the listener's registered fd reports
	// acceptable readiness, then accept the pending connection.
	var serverOutcome ConnectOutcome
	var accepted bool
	for i := 0; i < 40 && !accepted; i++ {
		Poll(d, root, nil, 5)
		drive(t, d, root, adapter, 10)
		if root.tcp.Listeners[lUID].Event.AcceptPending {
			_, accepted = Accept(d, root, lUID, func(o ConnectOutcome) action.Action {
				serverOutcome = o
				return nil
			})
			drive(t, d, root, adapter, 10)
		}
	}
	require.True(t, accepted)
	require.True(t, serverOutcome.OK)

	// Drive polls until the client side observes writability (now that
	// both ends are actually registered with the poll ring) and
	// completes its peer-address check.
	for i := 0; i < 40 && !clientOutcome.OK; i++ {
		Poll(d, root, nil, 5)
		drive(t, d, root, adapter, 10)
	}
	require.True(t, clientOutcome.OK)
}

func TestSendWithoutCachedWritableWaitsForPoll(t *testing.T) {
	root := newFakeRoot()
	var src uid.Source
	d := dispatch.New(nil, &src)
	connUID := root.NextUID()
	root.tcp.Conns[connUID] = &Conn{UID: connUID, Phase: ConnEstablished}

	reqUID := Send(d, root, connUID, []byte("hi"), timemodel.Never, func(r SendResult) action.Action { return nil })

	req, ok := root.tcp.Sends[reqUID]
	require.True(t, ok)
	require.True(t, req.SendOnPoll)
	require.Equal(t, 0, d.Len(), "no write should be attempted until the connection is observed writable")
}

func TestCloseNotifiesAndPurgesPendingRequests(t *testing.T) {
	root := newFakeRoot()
	var src uid.Source
	d := dispatch.New(nil, &src)
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	connUID := root.NextUID()
	root.tcp.Conns[connUID] = &Conn{UID: connUID, Phase: ConnEstablished}
	root.tcp.Sends[uid.Uid(999)] = &SendRequest{UID: uid.Uid(999), Conn: connUID}

	var sendErr string
	root.tcp.Sends[uid.Uid(999)].Done = func(r SendResult) action.Action {
		sendErr = r.Err
		return nil
	}

	var closed bool
	Close(d, root, connUID, func(o CloseOutcome) action.Action {
		closed = true
		return nil
	})

	// Close issues a real adapter deregister and close; the connUID was
	// never opened at the OS level, so the adapter has nothing to shut and
	// both resolve OK. The pending send is still purged with "closed".
	drive(t, d, root, adapter, 10)

	require.True(t, closed)
	require.NotEmpty(t, sendErr)
	require.Empty(t, root.tcp.Sends)
	require.NotContains(t, root.tcp.Conns, connUID)
}
