// Package replay implements the record/replay binary journal:
// writing one record per processed action on record, and reading one
// record per processed action on replay, substituting Input payloads and
// asserting Pure/Output debug-info equality.
//
// The wire format is a length-framed variant of the classic
// "[16 bytes uuid][N bytes serialized action+debug_info]" layout. This
// port does not attempt byte-for-byte bincode compatibility — nothing
// outside this module ever reads a recording file — so each record is
// self-framing (explicit uint32 lengths) rather than relying on a
// decoder that "just knows" how many bytes a variable-length payload
// consumed.
package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/uid"
)

// Record is one decoded journal entry.
type Record struct {
	UUID    action.UUID
	Kind    action.Kind
	Meta    action.Meta
	Payload []byte
}

// FatalMismatch is invoked whenever a replay observes a divergence from
// the recording: a Pure/Output debug-info mismatch, or a structural
// decode error. Overridable by tests; the default aborts the process,
// since replay divergence is never safe to ignore.
var FatalMismatch = func(format string, args ...interface{}) {
	panic(fmt.Sprintf("replay: fatal mismatch: "+format, args...))
}

// Recorder appends one Record per call to Append, writing the session
// file for a single instance.
type Recorder struct {
	f *os.File
	w *bufio.Writer
}

// SessionFilePath builds the per-instance file name convention:
// "session-name_<i>.rec".
func SessionFilePath(session string, instance int) string {
	return fmt.Sprintf("%s_%d.rec", session, instance)
}

// NewRecorder creates (or truncates) the journal file for one instance.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: create recording %q: %w", path, err)
	}
	return &Recorder{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record: the action's UUID, kind, debug-info, and an
// already-serialized payload.
func (r *Recorder) Append(a action.Action, payload []byte) error {
	return WriteRecord(r.w, Record{
		UUID:    a.ActionUUID(),
		Kind:    a.ActionKind(),
		Meta:    a.ActionMeta(),
		Payload: payload,
	})
}

// Flush forces buffered records to disk.
func (r *Recorder) Flush() error { return r.w.Flush() }

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// Replayer reads one Record per call to Next from a journal file
// previously produced by a Recorder.
type Replayer struct {
	f *os.File
	r *bufio.Reader
}

// NewReplayer opens a previously recorded journal file for reading.
func NewReplayer(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open recording %q: %w", path, err)
	}
	return &Replayer{f: f, r: bufio.NewReader(f)}, nil
}

// Next reads the next record, returning io.EOF when the journal is
// exhausted.
func (p *Replayer) Next() (Record, error) {
	return ReadRecord(p.r)
}

// Close closes the underlying file.
func (p *Replayer) Close() error { return p.f.Close() }

// WriteRecord writes one framed record to w.
func WriteRecord(w io.Writer, rec Record) error {
	if _, err := w.Write(rec.UUID[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(rec.Kind)); err != nil {
		return err
	}
	if err := writeMeta(w, rec.Meta); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(rec.Payload))); err != nil {
		return err
	}
	if _, err := w.Write(rec.Payload); err != nil {
		return err
	}
	return nil
}

// ReadRecord reads one framed record from r.
func ReadRecord(r io.Reader) (Record, error) {
	var rec Record
	if _, err := io.ReadFull(r, rec.UUID[:]); err != nil {
		return Record{}, err // may legitimately be io.EOF at a record boundary
	}
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return Record{}, fmt.Errorf("replay: truncated record after uuid %s: %w", rec.UUID, err)
	}
	rec.Kind = action.Kind(kind)
	meta, err := readMeta(r)
	if err != nil {
		return Record{}, fmt.Errorf("replay: truncated meta for %s: %w", rec.UUID, err)
	}
	rec.Meta = meta
	var plen uint32
	if err := binary.Read(r, binary.LittleEndian, &plen); err != nil {
		return Record{}, fmt.Errorf("replay: truncated payload length for %s: %w", rec.UUID, err)
	}
	rec.Payload = make([]byte, plen)
	if _, err := io.ReadFull(r, rec.Payload); err != nil {
		return Record{}, fmt.Errorf("replay: truncated payload for %s: %w", rec.UUID, err)
	}
	return rec, nil
}

func writeMeta(w io.Writer, m action.Meta) error {
	if err := writeString(w, m.File); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(m.Line)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(m.Depth)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(m.ActionID)); err != nil {
		return err
	}
	if _, err := w.Write(m.Caller[:]); err != nil {
		return err
	}
	return writeString(w, m.Callback)
}

func readMeta(r io.Reader) (action.Meta, error) {
	var m action.Meta
	var err error
	if m.File, err = readString(r); err != nil {
		return m, err
	}
	var line, depth int32
	if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
		return m, err
	}
	m.Line = int(line)
	if err := binary.Read(r, binary.LittleEndian, &depth); err != nil {
		return m, err
	}
	m.Depth = int(depth)
	var id uint64
	if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
		return m, err
	}
	m.ActionID = uid.FromUint64(id)
	if _, err := io.ReadFull(r, m.Caller[:]); err != nil {
		return m, err
	}
	if m.Callback, err = readString(r); err != nil {
		return m, err
	}
	return m, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// MetaEqual reports whether two debug-info records are byte-for-byte
// equal, for Pure/Output replay assertions.
func MetaEqual(a, b action.Meta) bool {
	return a.File == b.File && a.Line == b.Line && a.Depth == b.Depth &&
		a.ActionID == b.ActionID && a.Caller == b.Caller && a.Callback == b.Callback
}
