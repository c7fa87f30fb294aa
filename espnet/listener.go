package espnet

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/embeddedgo/espwifi"
)

// Listener is a net.Listener that accepts connections of the ESP-AT TCP
// server. There can be only one server per device.
type Listener struct {
	d       *espwifi.Device
	a       Addr
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	once    sync.Once
}

// ListenDev works like the net.Listen function. The address must have the
// form ":port" or "host:port" where the host part is ignored.
func ListenDev(ctx context.Context, d *espwifi.Device, network, address string) (*Listener, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, &net.OpError{Op: "listen", Net: network, Err: net.UnknownNetworkError(network)}
	}
	i := strings.LastIndexByte(address, ':')
	if i < 0 {
		return nil, &net.OpError{Op: "listen", Net: network, Err: &net.AddrError{Err: errMissingPort.Error(), Addr: address}}
	}
	u, _ := strconv.ParseUint(address[i+1:], 10, 16)
	port := int(u)
	if port == 0 {
		return nil, &net.OpError{Op: "listen", Net: network, Err: &net.AddrError{Err: errUnknownPort.Error(), Addr: address}}
	}
	if err := d.StartServer(ctx, port); err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Err: err}
	}
	ls := &Listener{d: d, a: Addr{network, address}, timeout: 5 * time.Second}
	ls.ctx, ls.cancel = context.WithCancel(context.Background())
	return ls, nil
}

// Accept works like the net.Listener Accept method.
func (ls *Listener) Accept() (net.Conn, error) {
	conn, err := ls.d.Accept(ls.ctx)
	if err != nil {
		if ls.ctx.Err() != nil {
			err = net.ErrClosed
		}
		return nil, &net.OpError{Op: "accept", Net: ls.a.net, Addr: &ls.a, Err: err}
	}
	c := newConn(ls.d, conn, ls.a.net)
	c.laddr.hostPort = ls.a.hostPort
	ctx, cancel := context.WithTimeout(ls.ctx, ls.timeout)
	c.lookupAddrs(ctx)
	cancel()
	return c, nil
}

// Close stops the server (AT+CIPSERVER=0,1) which also closes all accepted
// connections.
func (ls *Listener) Close() error {
	err := net.ErrClosed
	ls.once.Do(func() {
		ls.cancel()
		err = ls.d.StopServer(context.Background())
	})
	if err != nil {
		return &net.OpError{Op: "close", Net: ls.a.net, Addr: &ls.a, Err: err}
	}
	return nil
}

// Addr works like the net.Listener Addr method.
func (ls *Listener) Addr() net.Addr {
	return &ls.a
}
