// Package pnet is the encrypted overlay: a pre-shared-key
// XSalsa20 handshake and stream cipher wrapped around an Established
// tcp connection, usable atop either the client or server abstraction
// since both ultimately hand back a raw connection UID.
package pnet

import (
	"golang.org/x/crypto/blake2b"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/prngmodel"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

const pskPrefix = "/coda/0.0.1/"
const nonceSize = 24

// DerivePSK computes the pre-shared key for a chain id:
// Blake2b-var(32, "/coda/0.0.1/" || chain-id). This exact derivation is
// required for interoperability with any other implementation sharing
// the chain id.
func DerivePSK(chainID string) ([32]byte, error) {
	h, err := blake2b.New(32, nil)
	if err != nil {
		return [32]byte{}, err
	}
	h.Write([]byte(pskPrefix))
	h.Write([]byte(chainID))
	sum := h.Sum(nil)
	var psk [32]byte
	copy(psk[:], sum)
	return psk, nil
}

type phase int

const (
	phaseInit phase = iota
	phaseNonceSent
	phaseNonceWait
	phaseReady
)

type connState struct {
	phase      phase
	localNonce [nonceSize]byte
	send       *Cipher
	recv       *Cipher
}

// ConnectResultFunc fires once the handshake completes or fails.
type ConnectResultFunc func(conn uid.Uid, ok bool, err string) action.Action

// StateHaver is the projector interface a root state satisfies.
type StateHaver interface {
	tcp.StateHaver
	prngmodel.StateHaver
	PNetState() *State
}

// State tracks the handshake/cipher state of every connection this
// overlay has been asked to wrap.
type State struct {
	psk   [32]byte
	conns map[uid.Uid]*connState
}

// NewState returns a freshly initialized overlay substate keyed to psk.
func NewState(psk [32]byte) *State {
	return &State{psk: psk, conns: make(map[uid.Uid]*connState)}
}

// Bootstrap runs the nonce handshake over an already-Established raw
// connection: each side sends 24 random bytes, then reads 24 bytes,
// before deriving its send/recv XSalsa20 streams. A handshake timeout
// or underlying Send/Recv error tears the connection down and reports
// the failure via cb.
func Bootstrap(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, timeout timemodel.Timeout, cb ConnectResultFunc) {
	ps := s.PNetState()
	issuedMs := timemodel.GetCurrentTime(s)
	var nonce [nonceSize]byte
	prngmodel.NextBytes(s, nonce[:])
	cs := &connState{phase: phaseNonceSent, localNonce: nonce}
	ps.conns[conn] = cs

	tcp.Send(d, s, conn, nonce[:], timeout, func(r tcp.SendResult) action.Action {
		if !r.OK {
			delete(ps.conns, conn)
			s.Metrics().RecordHandshake(handshakeLatencyNs(s, issuedMs), false)
			tcp.Close(d, s, conn, nil)
			return cb(conn, false, r.Err)
		}
		cs.phase = phaseNonceWait
		tcp.Recv(d, s, conn, nonceSize, timeout, func(rr tcp.RecvResult) action.Action {
			if !rr.OK {
				delete(ps.conns, conn)
				s.Metrics().RecordHandshake(handshakeLatencyNs(s, issuedMs), false)
				tcp.Close(d, s, conn, nil)
				return cb(conn, false, rr.Err)
			}
			var remoteNonce [nonceSize]byte
			copy(remoteNonce[:], rr.Buffered)
			cs.send = NewCipher(ps.psk, cs.localNonce)
			cs.recv = NewCipher(ps.psk, remoteNonce)
			cs.phase = phaseReady
			s.Metrics().RecordHandshake(handshakeLatencyNs(s, issuedMs), true)
			return cb(conn, true, "")
		})
		return nil
	})
}

// handshakeLatencyNs converts the elapsed time since Bootstrap was
// called into nanoseconds for Metrics.
func handshakeLatencyNs(s StateHaver, issuedMs timemodel.Millis) uint64 {
	now := timemodel.GetCurrentTime(s)
	if now <= issuedMs {
		return 0
	}
	return uint64(now-issuedMs) * 1_000_000
}

// Send encrypts data with the connection's send cipher in place, then
// delegates to the raw Send. Calling this before the handshake
// reaches Ready is a caller error; it is a no-op returning the zero
// UID.
func Send(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, data []byte, timeout timemodel.Timeout, cb tcp.SendCallback) uid.Uid {
	ps := s.PNetState()
	cs, ok := ps.conns[conn]
	if !ok || cs.phase != phaseReady {
		return uid.Zero
	}
	enc := make([]byte, len(data))
	copy(enc, data)
	cs.send.Apply(enc)
	return tcp.Send(d, s, conn, enc, timeout, cb)
}

// Recv delegates to the raw Recv, then decrypts whatever bytes came
// back (including a partial buffer from a timed-out request) with the
// connection's recv cipher before handing the result to cb.
func Recv(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, count int, timeout timemodel.Timeout, cb tcp.RecvCallback) uid.Uid {
	ps := s.PNetState()
	cs, ok := ps.conns[conn]
	if !ok || cs.phase != phaseReady {
		return uid.Zero
	}
	return tcp.Recv(d, s, conn, count, timeout, func(r tcp.RecvResult) action.Action {
		if len(r.Buffered) > 0 {
			cs.recv.Apply(r.Buffered)
		}
		return cb(r)
	})
}

// Close tears down the underlying connection and forgets its overlay
// state.
func Close(d *dispatch.Dispatcher, s StateHaver, conn uid.Uid, cb tcp.CloseCallback) {
	ps := s.PNetState()
	delete(ps.conns, conn)
	tcp.Close(d, s, conn, cb)
}
