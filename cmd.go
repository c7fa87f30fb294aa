package espwifi

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Command is an AT command. Name is the command without the AT prefix and
// ends with '=' if it takes arguments, e.g. "+CWMODE=". Args may be of type
// nil, string or int. The first argument can be also of type []byte and in
// such case it is used as the receive buffer of the +CIPRECVDATA response.
//
// OK, Fail and Timeout override the Grammar rule of the command family.
// Capture lists the prefixes of the response lines that are collected in
// Response.Lines; an empty prefix captures every informational line.
// Payload, if not nil, is written after the ">" prompt.
//
// A Command must not be modified or reused after Submit.
type Command struct {
	Name    string
	Args    []any
	Capture []string
	OK      []string
	Fail    []string
	Timeout time.Duration
	Payload []byte

	link   *Conn
	linkOp linkOp
	recv   []byte
	echo   string
	ok     []string
	fail   []string
	lines  []string
	data   []byte
	code   string
	perr   *ParseError
	sent   bool
	fut    *Future
	hook   func(resp *Response, err error)
}

type linkOp uint8

const (
	linkNone linkOp = iota
	linkOpen
	linkSend
	linkClose
)

func (c *Command) wantLine(line string) bool {
	for _, pre := range c.Capture {
		if strings.HasPrefix(line, pre) {
			return true
		}
	}
	return false
}

func hasToken(toks []string, line string) bool {
	for _, tok := range toks {
		if tok == line {
			return true
		}
	}
	return false
}

// Response is the result of a successfully completed Command.
type Response struct {
	Lines []string // captured lines in arrival order
	Data  []byte   // +CIPRECVDATA payload (stored in the receive buffer if provided)
	Conn  *Conn    // session opened by +CIPSTART
}

// Line returns the first captured line that starts with prefix, with the
// prefix removed.
func (r *Response) Line(prefix string) (string, bool) {
	for _, l := range r.Lines {
		if strings.HasPrefix(l, prefix) {
			return l[len(prefix):], true
		}
	}
	return "", false
}

// Future is the pending result of a submitted Command. It is resolved
// exactly once.
type Future struct {
	d    *Device
	done chan struct{}
	resp *Response
	err  error
}

func newFuture(d *Device) *Future {
	return &Future{d: d, done: make(chan struct{})}
}

func (f *Future) resolve(resp *Response, err error) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.resp, f.err = resp, err
	close(f.done)
	return true
}

// Done returns a channel that is closed when the command is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the command result. It must be called after Done is
// closed.
func (f *Future) Result() (*Response, error) {
	return f.resp, f.err
}

// Wait waits for the command result. It returns ErrClosed if the I/O loop
// exited before the command was resolved.
func (f *Future) Wait() (*Response, error) {
	return f.WaitContext(context.Background())
}

// WaitContext is like Wait but gives up when ctx is done. The command
// itself is not cancelled: it stays queued or in flight until it completes
// or times out.
func (f *Future) WaitContext(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-f.d.done:
		select {
		case <-f.done:
			return f.resp, f.err
		default:
		}
		return nil, &Error{f.d.name, "", ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const maxCmdLen = 256

// encodeCmd appends the encoded command line (with CRLF) to buf.
func encodeCmd(buf []byte, name string, args []any) ([]byte, error) {
	start := len(buf)
	buf = append(buf, "AT"...)
	buf = append(buf, name...)
	comma := false
	for i, arg := range args {
		if i == 0 {
			if _, ok := arg.([]byte); ok {
				continue // first argument can be a receive buffer
			}
		}
		if comma {
			buf = append(buf, ',')
		} else {
			comma = true
		}
		switch a := arg.(type) {
		case string:
			buf = append(buf, '"')
			for k := 0; k < len(a); k++ {
				c := a[k]
				if c == '"' || c == '\\' || c == ',' {
					buf = append(buf, '\\')
				}
				buf = append(buf, c)
			}
			buf = append(buf, '"')
		case int:
			buf = strconv.AppendInt(buf, int64(a), 10)
		default:
			if arg != nil {
				return buf[:start], ErrArgType
			}
		}
	}
	if len(buf)-start > maxCmdLen-2 {
		return buf[:start], ErrTxOverflow
	}
	return append(buf, '\r', '\n'), nil
}

// Submit queues c for execution and returns its Future. It blocks while the
// command queue is full. ctx bounds only the waiting for a free queue slot.
func (d *Device) Submit(ctx context.Context, c *Command) (*Future, error) {
	if c.fut != nil {
		return nil, &Error{d.name, c.Name, ErrInvalidConfig}
	}
	if len(c.Args) != 0 {
		if b, ok := c.Args[0].([]byte); ok {
			c.recv = b
		}
	}
	c.fut = newFuture(d)
	select {
	case d.cmdq <- c:
		return c.fut, nil
	case <-d.quit:
	case <-d.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, &Error{d.name, c.Name, ErrClosed}
}

// ExecCommand submits c and waits for its result.
func (d *Device) ExecCommand(ctx context.Context, c *Command) (*Response, error) {
	f, err := d.Submit(ctx, c)
	if err != nil {
		return nil, err
	}
	return f.WaitContext(ctx)
}

// Exec executes an AT command. Name should be a command name without the
// AT prefix (e.g. "+GMR" instead of "AT+GMR"). Every informational line of
// the response is captured.
func (d *Device) Exec(ctx context.Context, name string, args ...any) (*Response, error) {
	return d.ExecCommand(ctx, &Command{Name: name, Args: args, Capture: []string{""}})
}

// ExecLine executes an AT command and returns the first response line that
// starts with prefix, with the prefix removed.
func (d *Device) ExecLine(ctx context.Context, prefix, name string, args ...any) (string, error) {
	resp, err := d.ExecCommand(ctx, &Command{Name: name, Args: args, Capture: []string{prefix}})
	if err != nil {
		return "", err
	}
	s, _ := resp.Line(prefix)
	return s, nil
}
