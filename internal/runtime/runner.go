package runtime

import (
	"fmt"
	"io"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/replay"
	"github.com/sirupsen/logrus"
)

// Instance is one substate/dispatcher/adapter triple driven by a Runner.
// Multiple instances let one process model several independent peers
// (e.g. a client and a server) sharing nothing but wall-clock time.
type Instance struct {
	ID       int
	Root     *RootState
	Dispatch *dispatch.Dispatcher
	Adapter  *ioeffect.Adapter

	recorder *replay.Recorder
	replayer *replay.Replayer
	halted   bool
}

// payloadCodec is the ad hoc per-action convention for serializing an
// Input/Output/Pure action's payload. Not every action implements it
// (pure control actions like HaltAction carry no interesting payload),
// so the runner always type-asserts for it rather than requiring it on
// action.Action itself.
type payloadCodec interface {
	MarshalPayload() ([]byte, error)
	UnmarshalPayload([]byte) error
}

type runMode int

const (
	modeLive runMode = iota
	modeRecord
	modeReplay
)

// Runner drives every registered instance to completion in round-robin
// order, one action per visit per outer pass, until all instances have
// processed a Halt action.
type Runner struct {
	registry  map[action.UUID]action.Constructor
	appliers  []applier
	instances []*Instance
	log       *obslog.Logger
}

// Run drives every instance live, with no recording or replay.
func (r *Runner) Run() error {
	return r.loop(modeLive, "")
}

// Instances exposes the built instances' Root/Dispatch/Adapter handles,
// for a caller that needs to seed the first action (e.g. issuing the
// initial Listen or Connect) before starting Run/Record/Replay, or to
// dispatch a Halt from an external signal handler.
func (r *Runner) Instances() []*Instance { return r.instances }

// Record drives every instance live while appending every action it
// processes to session_<i>.rec beside the working directory.
func (r *Runner) Record(session string) error {
	return r.loop(modeRecord, session)
}

// Replay re-drives every instance from a previously recorded session,
// substituting each Input action's payload with what was recorded and
// asserting Pure/Output actions reproduce identical Meta. Never touches
// the kernel: every instance's adapter is forced into replay mode.
func (r *Runner) Replay(session string) error {
	return r.loop(modeReplay, session)
}

func (r *Runner) loop(mode runMode, session string) error {
	for _, inst := range r.instances {
		switch mode {
		case modeRecord:
			path := replay.SessionFilePath(session, inst.ID)
			rec, err := replay.NewRecorder(path)
			if err != nil {
				return err
			}
			inst.recorder = rec
			defer rec.Close()
		case modeReplay:
			path := replay.SessionFilePath(session, inst.ID)
			rep, err := replay.NewReplayer(path)
			if err != nil {
				return err
			}
			inst.replayer = rep
			inst.Adapter = ioeffect.NewReplay(r.log)
			defer rep.Close()
		}
	}

	for {
		allHalted := true
		for _, inst := range r.instances {
			if inst.halted {
				continue
			}
			allHalted = false
			a := inst.Dispatch.NextAction()
			if a == nil {
				continue
			}
			if err := r.processAction(mode, inst, a); err != nil {
				return err
			}
		}
		if allHalted {
			return nil
		}
	}
}

func (r *Runner) processAction(mode runMode, inst *Instance, a action.Action) error {
	if mode == modeReplay {
		rec, err := inst.replayer.Next()
		if err == io.EOF {
			return fmt.Errorf("runtime: replay exhausted before instance %d halted", inst.ID)
		}
		if err != nil {
			return err
		}
		if rec.UUID != a.ActionUUID() {
			replay.FatalMismatch("instance %d: expected action %x, got %x", inst.ID, rec.UUID, a.ActionUUID())
		}
		switch a.ActionKind() {
		case action.Input:
			ctor, ok := r.registry[rec.UUID]
			if !ok {
				return fmt.Errorf("runtime: no constructor registered for action %x", rec.UUID)
			}
			replacement := ctor()
			if codec, ok := replacement.(payloadCodec); ok {
				if err := codec.UnmarshalPayload(rec.Payload); err != nil {
					return fmt.Errorf("runtime: unmarshal replayed payload for %x: %w", rec.UUID, err)
				}
			}
			replacement.SetActionMeta(rec.Meta)
			a = replacement
		default:
			if !replay.MetaEqual(a.ActionMeta(), rec.Meta) {
				replay.FatalMismatch("instance %d: action %x meta diverged from recording", inst.ID, rec.UUID)
			}
		}
	}

	if mode == modeRecord {
		var payload []byte
		if codec, ok := a.(payloadCodec); ok {
			p, err := codec.MarshalPayload()
			if err != nil {
				return fmt.Errorf("runtime: marshal payload for %x: %w", a.ActionUUID(), err)
			}
			payload = p
		}
		if err := inst.recorder.Append(a, payload); err != nil {
			return err
		}
	}

	if _, ok := a.(*HaltAction); ok {
		inst.halted = true
		return nil
	}

	inst.Dispatch.SetCallerUUID(a.ActionUUID())

	if a.ActionKind() == action.Output {
		inst.Adapter.Process(inst.Dispatch, a)
		return nil
	}

	for _, apply := range r.appliers {
		if apply(inst.Dispatch, inst.Root, a) {
			return nil
		}
	}

	r.log.Warn("unhandled action", logrus.Fields{
		"instance": inst.ID,
		"uuid":     fmt.Sprintf("%x", a.ActionUUID()),
		"kind":     a.ActionKind(),
	})
	return nil
}
