// Package espnet provides net.Conn and net.Listener implementations on top
// of an espwifi.Device so that packages like net/http can use ESP-AT
// connections.
package espnet

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/embeddedgo/espwifi"
)

// Conn is an implementation of the net.Conn interface for TCP and UDP
// network connections.
type Conn struct {
	d     *espwifi.Device
	conn  *espwifi.Conn
	laddr Addr
	raddr Addr
	rdl   deadline
	wdl   deadline

	mu    sync.Mutex // serializes Read
	adata []byte
}

// DialDev works like net.Dial.
func DialDev(ctx context.Context, d *espwifi.Device, network, address string) (*Conn, error) {
	proto, host, port, err := splitHostPort(network, address)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: &net.AddrError{Err: err.Error(), Addr: address}}
	}
	conn, err := d.Dial(ctx, proto, host, port)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: err}
	}
	c := newConn(d, conn, network)
	c.raddr.hostPort = conn.Remote()
	return c, nil
}

func newConn(d *espwifi.Device, conn *espwifi.Conn, network string) *Conn {
	return &Conn{
		d:     d,
		conn:  conn,
		laddr: Addr{net: network},
		raddr: Addr{net: network},
	}
}

// ESPConn returns the underlying session.
func (c *Conn) ESPConn() *espwifi.Conn {
	return c.conn
}

// Read implements the net.Conn Read method.
func (c *Conn) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.adata) == 0 {
		ctx, cancel := c.rdl.context()
		data, err := c.conn.Recv(ctx)
		changed := deadlineChanged(ctx)
		cancel()
		if err != nil {
			if changed {
				continue
			}
			return 0, netOpError(c, "read", err)
		}
		c.adata = data
	}
	n = copy(p, c.adata)
	if n == len(c.adata) {
		c.adata = nil
	} else {
		c.adata = c.adata[n:]
	}
	return
}

// Write implements the net.Conn Write method.
func (c *Conn) Write(p []byte) (n int, err error) {
	ctx, cancel := c.wdl.context()
	defer cancel()
	if err = c.conn.Send(ctx, p); err != nil {
		return 0, netOpError(c, "write", err)
	}
	return len(p), nil
}

// WriteString implements io.StringWriter interface.
func (c *Conn) WriteString(s string) (n int, err error) {
	return c.Write([]byte(s))
}

// Close implements the net.Conn Close method.
func (c *Conn) Close() error {
	err := c.conn.Close(context.Background())
	if err != nil {
		err = netOpError(c, "close", err)
	}
	return err
}

// SetReadDeadline implements the net.Conn SetReadDeadline method. It also
// affects a pending Read.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.rdl.set(t)
	return nil
}

// SetWriteDeadline implements the net.Conn SetWriteDeadline method. The
// deadline bounds the time a Write waits for its AT+CIPSEND commands.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.wdl.set(t)
	return nil
}

// SetDeadline implements the net.Conn SetDeadline method.
func (c *Conn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	c.SetWriteDeadline(t)
	return nil
}

// LocalAddr implements the net.Conn LocalAddr method.
func (c *Conn) LocalAddr() net.Addr {
	return &c.laddr
}

// RemoteAddr implements the net.Conn RemoteAddr method.
func (c *Conn) RemoteAddr() net.Addr {
	return &c.raddr
}
