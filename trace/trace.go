// Package trace records and replays the UART traffic of an ESP-AT module.
//
// A trace is a sequence of CBOR encoded Records, one per transport Read or
// Write.
package trace

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/embeddedgo/espwifi"
)

// Dir is the direction of the traffic.
type Dir uint8

const (
	RX Dir = 1 // module to host
	TX Dir = 2 // host to module
)

func (d Dir) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	}
	return "?"
}

// Record is a single chunk of traffic.
type Record struct {
	Seq     uint64    `cbor:"seq"`
	Time    time.Time `cbor:"time"`
	Dir     Dir       `cbor:"dir"`
	Data    []byte    `cbor:"data"`
	Session uuid.UUID `cbor:"session"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Recorder is an io.ReadWriter that copies all the traffic that passes
// through it to a trace. Recording errors do not affect the traffic, the
// first one is reported by Err.
type Recorder struct {
	rw      io.ReadWriter
	session uuid.UUID

	mu  sync.Mutex
	enc *cbor.Encoder
	seq uint64
	err error
}

// NewRecorder returns a Recorder that wraps rw and writes the trace to w.
// Every Recorder starts a new session.
func NewRecorder(rw io.ReadWriter, w io.Writer) *Recorder {
	return &Recorder{rw: rw, session: uuid.New(), enc: encMode.NewEncoder(w)}
}

// Session returns the session identifier stored in every record.
func (r *Recorder) Session() uuid.UUID {
	return r.session
}

func (r *Recorder) record(dir Dir, p []byte) {
	if len(p) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.seq++
	r.err = r.enc.Encode(Record{
		Seq:     r.seq,
		Time:    time.Now().UTC(),
		Dir:     dir,
		Data:    p,
		Session: r.session,
	})
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.rw.Read(p)
	r.record(RX, p[:n])
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.rw.Write(p)
	r.record(TX, p[:n])
	return n, err
}

// Close closes the wrapped transport if it implements io.Closer.
func (r *Recorder) Close() error {
	if c, ok := r.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Err returns the first error encountered while writing the trace.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Reader decodes a trace.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record. It returns io.EOF at the end of the trace
// and io.ErrUnexpectedEOF if the trace is truncated.
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)
	return rec, err
}

// Replay reads the trace from r. TX records are passed to fn with a zero
// Frame. RX records of every session are pushed through a separate
// espwifi.Parser and fn is called for every decoded frame or parse error.
// Replay stops at the first error returned by fn.
func Replay(r io.Reader, fn func(rec Record, f espwifi.Frame, err error) error) error {
	tr := NewReader(r)
	parsers := make(map[uuid.UUID]*espwifi.Parser)
	for {
		rec, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if rec.Dir != RX {
			if err := fn(rec, espwifi.Frame{}, nil); err != nil {
				return err
			}
			continue
		}
		p := parsers[rec.Session]
		if p == nil {
			p = new(espwifi.Parser)
			parsers[rec.Session] = p
		}
		p.Write(rec.Data)
		for f, perr := range p.Frames() {
			if err := fn(rec, f, perr); err != nil {
				return err
			}
		}
	}
}
