package espwifi

import (
	"bytes"
	"context"
	"strings"
)

// maxSend is the largest payload of a single AT+CIPSEND.
const maxSend = 2048

// Dial opens a TCP or UDP connection (AT+CIPSTART) on the lowest free link.
func (d *Device) Dial(ctx context.Context, proto, host string, port int) (*Conn, error) {
	proto = strings.ToUpper(proto)
	if proto != "TCP" && proto != "UDP" {
		return nil, &Error{d.name, "+CIPSTART=", ErrArgType}
	}
	c := &Command{
		Name:   "+CIPSTART=",
		Args:   []any{0, proto, host, port},
		linkOp: linkOpen,
	}
	resp, err := d.ExecCommand(ctx, c)
	if err != nil {
		return nil, err
	}
	return resp.Conn, nil
}

// Send sends p over the link id, using as many AT+CIPSEND commands as
// needed. The commands of one Send are queued one by one, so concurrent
// Sends on different links may interleave their chunks but the bytes of one
// command are never split.
func (d *Device) Send(ctx context.Context, id int, p []byte) error {
	c := d.conns.lookup(id)
	if c == nil {
		return &Error{d.name, "+CIPSEND=", ErrUnknownConn}
	}
	return d.send(ctx, c, p)
}

func (d *Device) send(ctx context.Context, c *Conn, p []byte) error {
	for len(p) != 0 {
		n := min(len(p), maxSend)
		cmd := &Command{
			Name:    "+CIPSEND=",
			Args:    []any{c.id, n},
			Payload: bytes.Clone(p[:n]),
			link:    c,
			linkOp:  linkSend,
		}
		if _, err := d.ExecCommand(ctx, cmd); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// CloseConn closes the link id (AT+CIPCLOSE).
func (d *Device) CloseConn(ctx context.Context, id int) error {
	c := d.conns.lookup(id)
	if c == nil {
		return &Error{d.name, "+CIPCLOSE=", ErrUnknownConn}
	}
	return d.closeConn(ctx, c)
}

func (d *Device) closeConn(ctx context.Context, c *Conn) error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	_, err := d.ExecCommand(ctx, &Command{
		Name:   "+CIPCLOSE=",
		Args:   []any{c.id},
		link:   c,
		linkOp: linkClose,
	})
	return err
}

// StartServer starts the ESP-AT TCP server on port (AT+CIPSERVER=1).
// Accepted connections are returned by Accept.
func (d *Device) StartServer(ctx context.Context, port int) error {
	if _, err := d.Exec(ctx, "+CIPSERVER=", 1, port); err != nil {
		return err
	}
	d.serverOn.Store(true)
	return nil
}

// StopServer stops the server and closes the accepted connections
// (AT+CIPSERVER=0,1).
func (d *Device) StopServer(ctx context.Context) error {
	if _, err := d.Exec(ctx, "+CIPSERVER=", 0, 1); err != nil {
		return err
	}
	d.serverOn.Store(false)
	return nil
}

// SetServerTimeout sets the idle timeout of accepted connections in seconds
// (AT+CIPSTO), 0 disables it.
func (d *Device) SetServerTimeout(ctx context.Context, sec int) error {
	_, err := d.Exec(ctx, "+CIPSTO=", sec)
	return err
}

// ServerRunning reports whether StartServer succeeded and the server was not
// stopped by StopServer or a module reset.
func (d *Device) ServerRunning() bool {
	return d.serverOn.Load()
}

// Accept waits for a connection accepted by the server. Connections that
// were already closed by the peer are returned too: their Recv returns
// io.EOF.
func (d *Device) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-d.accepts:
		return c, nil
	case <-d.done:
		return nil, &Error{d.name, "", ErrClosed}
	case <-d.quit:
		return nil, &Error{d.name, "", ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
