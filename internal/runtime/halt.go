package runtime

import "github.com/behrlich/automaton/internal/action"

var haltActionUUID = action.MustUUID(0x48616c7441637469, 0x6f6e000000000001)

// HaltAction is the explicit termination signal: Pure, carries no
// payload, and once observed at the head of an instance's queue marks
// that instance as done, without requiring a distinguished return
// value from every processor.
type HaltAction struct {
	action.Base
}

func (a *HaltAction) ActionUUID() action.UUID { return haltActionUUID }
func (a *HaltAction) ActionKind() action.Kind { return action.Pure }
func (a *HaltAction) Equal(o action.Action) bool {
	_, ok := o.(*HaltAction)
	return ok
}
func (a *HaltAction) MarshalPayload() ([]byte, error) { return nil, nil }
func (a *HaltAction) UnmarshalPayload([]byte) error    { return nil }

// Halt constructs a fresh HaltAction ready to dispatch.
func Halt() *HaltAction { return &HaltAction{} }

type haltModel struct{}

func (haltModel) Actions() map[action.UUID]action.Constructor {
	return map[action.UUID]action.Constructor{
		haltActionUUID: func() action.Action { return &HaltAction{} },
	}
}
