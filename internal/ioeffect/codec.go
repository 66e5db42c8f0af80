package ioeffect

import "encoding/gob"
import "bytes"

// gobIOResult mirrors IOResult's payload fields (everything except the
// embedded action.Base, which record/replay already frames separately
// as Meta). gob needs a plain exported-field struct; IOResult itself
// stays the action type so its Op/Status fields are usable without a
// type assertion in model code.
type gobIOResult struct {
	Op     Op
	Status Status
	N      int
	Bytes  []byte
	Events []PollEvent
	ErrMsg string
	Addr   string
	Millis uint64
}

func marshalIOResult(r *IOResult) ([]byte, error) {
	var buf bytes.Buffer
	g := gobIOResult{
		Op: r.Op, Status: r.Status, N: r.N, Bytes: r.Bytes,
		Events: r.Events, ErrMsg: r.ErrMsg, Addr: r.Addr, Millis: r.Millis,
	}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalIOResult(b []byte, r *IOResult) error {
	var g gobIOResult
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	r.Op, r.Status, r.N, r.Bytes = g.Op, g.Status, g.N, g.Bytes
	r.Events, r.ErrMsg, r.Addr, r.Millis = g.Events, g.ErrMsg, g.Addr, g.Millis
	return nil
}
