// Package esptest provides an in-memory ESP-AT modem for tests.
package esptest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Modem is a Transport that plays the ESP-AT side of the UART. Reads block
// until the test sends a reply, writes are collected and checked with
// Expect.
type Modem struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	tx     bytes.Buffer
	werr   error
	closed bool
	notify chan struct{}
}

// New returns a new Modem.
func New() *Modem {
	pr, pw := io.Pipe()
	return &Modem{pr: pr, pw: pw, notify: make(chan struct{}, 1)}
}

// Read implements io.Reader for the driver.
func (m *Modem) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

// Write implements io.Writer for the driver.
func (m *Modem) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.werr != nil {
		err := m.werr
		m.mu.Unlock()
		return 0, err
	}
	m.tx.Write(p)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close closes the read side. The driver reads io.EOF.
func (m *Modem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.pw.Close()
}

// Reply sends s to the driver. It blocks until the driver read all of it.
func (m *Modem) Reply(s string) error {
	_, err := io.WriteString(m.pw, s)
	return err
}

// ReplyChunks sends s split into chunks of at most n bytes.
func (m *Modem) ReplyChunks(s string, n int) error {
	for len(s) != 0 {
		k := min(n, len(s))
		if err := m.Reply(s[:k]); err != nil {
			return err
		}
		s = s[k:]
	}
	return nil
}

// FailReads makes the pending and all future driver reads return err.
func (m *Modem) FailReads(err error) {
	m.pw.CloseWithError(err)
}

// FailWrites makes all future driver writes return err.
func (m *Modem) FailWrites(err error) {
	m.mu.Lock()
	m.werr = err
	m.mu.Unlock()
}

// ErrUnexpected is returned by Expect when the driver wrote something else.
var ErrUnexpected = errors.New("esptest: unexpected output")

// Expect waits until the driver wrote len(want) bytes and consumes them. It
// returns an error if they differ from want or if the timeout expired.
func (m *Modem) Expect(want string, timeout time.Duration) error {
	tim := time.NewTimer(timeout)
	defer tim.Stop()
	for {
		m.mu.Lock()
		if m.tx.Len() >= len(want) {
			got := string(m.tx.Next(len(want)))
			m.mu.Unlock()
			if got != want {
				return fmt.Errorf("%w: got %q, want %q", ErrUnexpected, got, want)
			}
			return nil
		}
		m.mu.Unlock()
		select {
		case <-m.notify:
		case <-tim.C:
			m.mu.Lock()
			got := m.tx.String()
			m.mu.Unlock()
			return fmt.Errorf("esptest: timeout waiting for %q, got %q", want, got)
		}
	}
}

// Line waits for the next CRLF terminated line written by the driver and
// returns it without the CRLF.
func (m *Modem) Line(timeout time.Duration) (string, error) {
	var line string
	err := m.wait(timeout, func(b *bytes.Buffer) bool {
		i := bytes.Index(b.Bytes(), []byte("\r\n"))
		if i < 0 {
			return false
		}
		line = string(b.Next(i + 2)[:i])
		return true
	})
	return line, err
}

// Take waits until the driver wrote at least n bytes and consumes them.
func (m *Modem) Take(n int, timeout time.Duration) ([]byte, error) {
	var p []byte
	err := m.wait(timeout, func(b *bytes.Buffer) bool {
		if b.Len() < n {
			return false
		}
		p = bytes.Clone(b.Next(n))
		return true
	})
	return p, err
}

func (m *Modem) wait(timeout time.Duration, ready func(b *bytes.Buffer) bool) error {
	tim := time.NewTimer(timeout)
	defer tim.Stop()
	for {
		m.mu.Lock()
		ok := ready(&m.tx)
		m.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-m.notify:
		case <-tim.C:
			return errors.New("esptest: timeout")
		}
	}
}

// Written returns and consumes everything written so far.
func (m *Modem) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.tx.String()
	m.tx.Reset()
	return s
}

// Quiet reports whether the driver wrote nothing during d.
func (m *Modem) Quiet(d time.Duration) bool {
	time.Sleep(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.Len() == 0
}

// Serve answers every command line equal to a key of script with its value
// until the modem is closed. Unknown commands get "ERROR". It is meant to
// run in its own goroutine for tests that do not care about ordering.
func (m *Modem) Serve(script map[string]string) {
	var line []byte
	for {
		m.mu.Lock()
		closed := m.closed
		var b []byte
		if m.tx.Len() != 0 {
			b = bytes.Clone(m.tx.Bytes())
			m.tx.Reset()
		}
		m.mu.Unlock()
		if closed {
			return
		}
		if b == nil {
			select {
			case <-m.notify:
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		line = append(line, b...)
		for {
			i := bytes.Index(line, []byte("\r\n"))
			if i < 0 {
				break
			}
			cmd := string(line[:i])
			line = line[i+2:]
			reply, ok := script[cmd]
			if !ok {
				reply = "ERROR\r\n"
			}
			if m.Reply(reply) != nil {
				return
			}
		}
	}
}
