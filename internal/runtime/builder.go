package runtime

import (
	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/tcpserver"
	"github.com/behrlich/automaton/internal/timemodel"
)

// RegisteredModel is the minimal shape Register needs from a model:
// its UUID->Constructor vtable, for replay's deserialization path.
// Every Pure/Effectful model in this module (tcp.Model, tcpserver.Model,
// timemodel.Model, *ioeffect.Adapter) already exposes this.
type RegisteredModel interface {
	Actions() map[action.UUID]action.Constructor
}

// applier routes one already-decoded action into a model's Apply
// function. Collected per RegisterXxx call so process_action doesn't
// need to hardcode the set of models a given build actually uses.
type applier func(d *dispatch.Dispatcher, root *RootState, a action.Action) bool

// Builder assembles a Runner: register the models this build uses, add
// one or more instances, then Build. Registration is idempotent by
// action UUID, so calling RegisterTCP twice (or indirectly through two
// other Register calls) is harmless.
type Builder struct {
	registry  map[action.UUID]action.Constructor
	appliers  []applier
	instances []*Instance
	log       *obslog.Logger
}

// New returns an empty builder with only the Halt action pre-registered
// (every build needs a termination signal, regardless of which domain
// models it wires in).
func New() *Builder {
	b := &Builder{
		registry: make(map[action.UUID]action.Constructor),
		log:      obslog.Default(),
	}
	b.Register(haltModel{})
	return b
}

// WithLogger overrides the logger passed to every instance's I/O
// adapter.
func (b *Builder) WithLogger(l *obslog.Logger) *Builder {
	if l != nil {
		b.log = l
	}
	return b
}

// Register merges m's UUID->Constructor entries into the registry.
// Safe to call more than once with the same model.
func (b *Builder) Register(m RegisteredModel) *Builder {
	for u, c := range m.Actions() {
		b.registry[u] = c
	}
	return b
}

// RegisterTime wires in the cached-clock model.
func (b *Builder) RegisterTime() *Builder {
	b.Register(timemodel.Model{})
	b.appliers = append(b.appliers, func(d *dispatch.Dispatcher, root *RootState, a action.Action) bool {
		return timemodel.Apply(root, a)
	})
	return b
}

// RegisterTCP wires in the raw TCP state machine.
func (b *Builder) RegisterTCP() *Builder {
	b.Register(tcp.Model{})
	b.appliers = append(b.appliers, func(d *dispatch.Dispatcher, root *RootState, a action.Action) bool {
		return tcp.Apply(d, root, a)
	})
	return b
}

// RegisterTCPServer wires in the multi-connection accept loop.
// Depends on RegisterTCP also being called; this builder doesn't
// enforce that ordering.
func (b *Builder) RegisterTCPServer() *Builder {
	b.Register(tcpserver.Model{})
	b.appliers = append(b.appliers, func(d *dispatch.Dispatcher, root *RootState, a action.Action) bool {
		return tcpserver.Apply(d, root, a)
	})
	return b
}

// RegisterIOAdapter merges the effectful adapter's IORequest/IOResult
// UUIDs into the registry. The adapter itself is instantiated per
// instance (it carries private socket/poll state, never shared), so
// this only contributes replay-decode entries; routing Output actions
// to an instance's own adapter happens unconditionally in the runner.
func (b *Builder) RegisterIOAdapter() *Builder {
	b.Register(&ioeffect.Adapter{})
	return b
}

// Instance adds one (substates, dispatcher) pair to the build. makeTick
// receives the instance's own dispatcher and root state — already
// constructed — so it can close over them when building the TickFunc
// invoked whenever that dispatcher observes an empty queue at an
// outer-loop boundary, the natural place to issue the next tcp.Poll or
// timemodel.RequestRefresh.
func (b *Builder) Instance(makeTick func(d *dispatch.Dispatcher, root *RootState) dispatch.TickFunc, opts ...Option) *Builder {
	root := NewRootState(opts...)
	d := dispatch.New(nil, root.uidSource())
	d.SetTick(makeTick(d, root))
	inst := &Instance{
		ID:       len(b.instances),
		Root:     root,
		Dispatch: d,
		Adapter:  ioeffect.New(b.log),
	}
	b.instances = append(b.instances, inst)
	return b
}

// Build finalizes the registry and instance set into a Runner.
func (b *Builder) Build() *Runner {
	return &Runner{
		registry:  b.registry,
		appliers:  b.appliers,
		instances: b.instances,
		log:       b.log,
	}
}
