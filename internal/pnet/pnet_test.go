package pnet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton"
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/prngmodel"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

type fakeRoot struct {
	tcp     *tcp.State
	pnet    *State
	prng    prngmodel.State
	time    timemodel.State
	src     uid.Source
	metrics *automaton.Metrics
}

func newFakeRoot(psk [32]byte) *fakeRoot {
	return &fakeRoot{tcp: tcp.NewState(), pnet: NewState(psk), metrics: automaton.NewMetrics()}
}

func (f *fakeRoot) TCPState() *tcp.State        { return f.tcp }
func (f *fakeRoot) PNetState() *State           { return f.pnet }
func (f *fakeRoot) PRNGState() *prngmodel.State { return &f.prng }
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

func TestDerivePSKIsDeterministic(t *testing.T) {
	a, err := DerivePSK("mainnet")
	require.NoError(t, err)
	b, err := DerivePSK("mainnet")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := DerivePSK("testnet")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestCipherRoundTrip(t *testing.T) {
	psk, err := DerivePSK("chain-a")
	require.NoError(t, err)
	var nonce [24]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	enc := NewCipher(psk, nonce)
	dec := NewCipher(psk, nonce)

	plain := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to exceed one block")
	msg := append([]byte(nil), plain...)

	// Apply in uneven chunks on both sides to exercise mid-block resume.
	chunks := []int{1, 7, 13, 64, len(msg)}
	pos := 0
	for _, c := range chunks {
		if pos >= len(msg) {
			break
		}
		end := pos + c
		if end > len(msg) {
			end = len(msg)
		}
		enc.Apply(msg[pos:end])
		pos = end
	}

	out := append([]byte(nil), msg...)
	pos = 0
	for _, c := range chunks {
		if pos >= len(out) {
			break
		}
		end := pos + c
		if end > len(out) {
			end = len(out)
		}
		dec.Apply(out[pos:end])
		pos = end
	}

	require.Equal(t, plain, out)
}

func TestRestoreCipherResumesAtSamePosition(t *testing.T) {
	psk, _ := DerivePSK("chain-b")
	var nonce [24]byte
	c1 := NewCipher(psk, nonce)
	buf1 := []byte("0123456789")
	c1.Apply(buf1)

	c2 := RestoreCipher(c1.Core(), c1.Position)
	buf2 := []byte("0123456789")
	c2.Apply(buf2)

	require.Equal(t, buf1, buf2)
}

func TestBootstrapEstablishesSymmetricHandshake(t *testing.T) {
	psk, _ := DerivePSK("chain-c")
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := newFakeRoot(psk)
	adapter := ioeffect.New(nil)
	defer adapter.Close()

	tcp.Init(d, root, 32)
	drive(t, d, root, adapter, 10)

	var listenOutcome tcp.ListenOutcome
	lUID := tcp.Listen(d, root, "127.0.0.1:0", func(o tcp.ListenOutcome) action.Action {
		listenOutcome = o
		return nil
	})
	drive(t, d, root, adapter, 10)
	require.True(t, listenOutcome.OK)

	var clientConn uid.Uid
	var clientOK bool
	tcp.Connect(d, root, listenOutcome.Addr, timemodel.Never, func(o tcp.ConnectOutcome) action.Action {
		clientConn = o.Conn
		clientOK = o.OK
		return nil
	})
	drive(t, d, root, adapter, 10)

	// Drive real polls until the listener's registered fd reports a
	// pending connection, then accept it.
	var serverConn uid.Uid
	var serverOK bool
	var accepted bool
	for i := 0; i < 40 && !accepted; i++ {
		tcp.Poll(d, root, nil, 5)
		drive(t, d, root, adapter, 10)
		if root.tcp.Listeners[lUID].Event.AcceptPending {
			_, accepted = tcp.Accept(d, root, lUID, func(o tcp.ConnectOutcome) action.Action {
				serverConn = o.Conn
				serverOK = o.OK
				return nil
			})
			drive(t, d, root, adapter, 10)
		}
	}
	require.True(t, accepted)
	require.True(t, serverOK)

	for i := 0; i < 40 && !clientOK; i++ {
		tcp.Poll(d, root, nil, 5)
		drive(t, d, root, adapter, 10)
	}
	require.True(t, clientOK)

	var clientHandshakeOK, serverHandshakeOK bool
	Bootstrap(d, root, clientConn, timemodel.Never, func(conn uid.Uid, ok bool, e string) action.Action {
		clientHandshakeOK = ok
		return nil
	})
	Bootstrap(d, root, serverConn, timemodel.Never, func(conn uid.Uid, ok bool, e string) action.Action {
		serverHandshakeOK = ok
		return nil
	})

	for i := 0; i < 40 && (!clientHandshakeOK || !serverHandshakeOK); i++ {
		drive(t, d, root, adapter, 20)
		tcp.Poll(d, root, nil, 5)
		drive(t, d, root, adapter, 20)
	}

	require.True(t, clientHandshakeOK)
	require.True(t, serverHandshakeOK)
	require.Contains(t, root.pnet.conns, clientConn)
	require.Contains(t, root.pnet.conns, serverConn)
	require.Equal(t, phaseReady, root.pnet.conns[clientConn].phase)
	require.Equal(t, phaseReady, root.pnet.conns[serverConn].phase)
}
