package runtime

import (
	"github.com/behrlich/automaton"
	"github.com/behrlich/automaton/internal/pnet"
	"github.com/behrlich/automaton/internal/prngmodel"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/tcpclient"
	"github.com/behrlich/automaton/internal/tcpserver"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

// Params configures one instance's RootState: a plain struct with
// sensible zero-ish defaults, assembled via functional options rather
// than a constructor with a long positional argument list.
type Params struct {
	// PSK seeds the PNet overlay's pre-shared key. An instance that
	// never calls pnet.Bootstrap can leave this zero.
	PSK [32]byte
	// PRNGSeed seeds the deterministic PRNG backing PNet nonces and any
	// test traffic shaping. Zero is remapped by prngmodel.Seed.
	PRNGSeed uint64
	// OnPollError fires when tcpserver's poll loop loses track of a
	// managed listener. Nil means "silently drop it".
	OnPollError tcpserver.PollErrorFunc
}

// DefaultParams returns the zero-value-safe baseline every Option
// starts from.
func DefaultParams() Params {
	return Params{}
}

// Option mutates a Params during RootState construction.
type Option func(*Params)

// WithPSK sets the PNet pre-shared key, typically derived once via
// pnet.DerivePSK(chainID) by the caller.
func WithPSK(psk [32]byte) Option {
	return func(p *Params) { p.PSK = psk }
}

// WithPRNGSeed fixes the deterministic PRNG seed instead of leaving it
// at the zero-remap default, needed when a test or replay run wants a
// specific nonce sequence.
func WithPRNGSeed(seed uint64) Option {
	return func(p *Params) { p.PRNGSeed = seed }
}

// WithPollErrorHandler installs the callback tcpserver invokes when a
// managed listener's poll registration disappears out from under it.
func WithPollErrorHandler(f tcpserver.PollErrorFunc) Option {
	return func(p *Params) { p.OnPollError = f }
}

// RootState is one instance's full substate aggregate: every Pure
// model's projector interface (tcp.StateHaver, tcpserver.StateHaver,
// pnet.StateHaver, timemodel.StateHaver, prngmodel.StateHaver) is
// satisfied by a *RootState, so no model package ever imports this one
// back.
type RootState struct {
	uids *uid.Source

	tcpState    *tcp.State
	tcpcliState *tcpclient.State
	tcpsrvState *tcpserver.State
	pnetState   *pnet.State
	timeState   timemodel.State
	prngState   prngmodel.State
	metrics     *automaton.Metrics
}

// NewRootState builds a freshly zeroed RootState, ready for tcp.Init.
func NewRootState(opts ...Option) *RootState {
	p := DefaultParams()
	for _, o := range opts {
		o(&p)
	}
	r := &RootState{
		uids:        &uid.Source{},
		tcpState:    tcp.NewState(),
		tcpcliState: tcpclient.NewState(),
		tcpsrvState: tcpserver.NewState(p.OnPollError),
		pnetState:   pnet.NewState(p.PSK),
		metrics:     automaton.NewMetrics(),
	}
	prngmodel.Seed(r, p.PRNGSeed)
	return r
}

func (r *RootState) uidSource() *uid.Source { return r.uids }

// NextUID allocates the next monotonic identifier for this instance.
func (r *RootState) NextUID() uid.Uid { return r.uids.New() }

// TCPState projects the raw TCP substate.
func (r *RootState) TCPState() *tcp.State { return r.tcpState }

// ClientState projects the single-connection client substate.
func (r *RootState) ClientState() *tcpclient.State { return r.tcpcliState }

// ServerState projects the TCP server substate.
func (r *RootState) ServerState() *tcpserver.State { return r.tcpsrvState }

// PNetState projects the encrypted-overlay substate.
func (r *RootState) PNetState() *pnet.State { return r.pnetState }

// TimeState projects the cached-clock substate.
func (r *RootState) TimeState() *timemodel.State { return &r.timeState }

// PRNGState projects the seeded-PRNG substate.
func (r *RootState) PRNGState() *prngmodel.State { return &r.prngState }

// Metrics returns this instance's connection/I-O counters.
func (r *RootState) Metrics() *automaton.Metrics { return r.metrics }

var (
	_ tcp.StateHaver       = (*RootState)(nil)
	_ tcpclient.StateHaver = (*RootState)(nil)
	_ tcpserver.StateHaver = (*RootState)(nil)
	_ pnet.StateHaver      = (*RootState)(nil)
	_ timemodel.StateHaver = (*RootState)(nil)
	_ prngmodel.StateHaver = (*RootState)(nil)
)
