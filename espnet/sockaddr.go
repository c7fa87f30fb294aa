package espnet

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/embeddedgo/espwifi"
)

// Addr is a network endpoint address of an ESP-AT connection.
type Addr struct {
	net      string
	hostPort string
}

func (a *Addr) Network() string { return a.net }
func (a *Addr) String() string  { return a.hostPort }

const cipStatus = "+CIPSTATUS:"

// sockAddrs returns the +CIPSTATUS entries with the "+CIPSTATUS:" prefix
// removed.
func sockAddrs(ctx context.Context, d *espwifi.Device) ([]string, error) {
	resp, err := d.ExecCommand(ctx, &espwifi.Command{
		Name:    cipStatus[:len(cipStatus)-1],
		Capture: []string{cipStatus},
	})
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, espwifi.MaxConns)
	for _, line := range resp.Lines {
		if sa := line[len(cipStatus):]; len(sa) >= 2 {
			ret = append(ret, sa)
		}
	}
	return ret, nil
}

// parseSockAddr parses a +CIPSTATUS entry:
//
//	<id>,"<type>","<remote ip>",<remote port>,<local port>,<tetype>
//
// The returned strings are newly allocated and do not refer to sa.
func parseSockAddr(sa string) (id int, network, local, remote string, server, ok bool) {
	i := strings.IndexByte(sa, ',')
	if i < 0 {
		return
	}
	n, err := strconv.Atoi(sa[:i])
	if err != nil {
		return
	}
	sa = sa[i+1:]
	i = strings.IndexByte(sa, ',')
	if i < 2 {
		return
	}
	switch sa[1 : i-1] {
	case "TCP":
		network = "tcp"
	case "UDP":
		network = "udp"
	case "SSL":
		network = "tcp"
	default:
		return
	}
	sa = sa[i+1:]
	i = strings.IndexByte(sa, ',')
	if i < 2 {
		return
	}
	aa, sa := sa[1:i-1], sa[i+1:]
	i = strings.IndexByte(sa, ',')
	if i < 0 {
		return
	}
	ap, sa := sa[:i], sa[i+1:]
	i = strings.IndexByte(sa, ',')
	if i < 0 {
		return
	}
	lp, sa := sa[:i], sa[i+1:]
	if len(sa) != 1 {
		return
	}
	id = n
	server = sa[0] == '1'
	local = ":" + lp
	remote = net.JoinHostPort(aa, ap)
	ok = true
	return
}

// lookupAddrs fills the local and remote address of c using AT+CIPSTATUS.
// Failures are ignored: the addresses stay as they were.
func (c *Conn) lookupAddrs(ctx context.Context) {
	sas, err := sockAddrs(ctx, c.d)
	if err != nil {
		return
	}
	for _, sa := range sas {
		id, network, local, remote, _, ok := parseSockAddr(sa)
		if !ok || id != c.conn.ID() {
			continue
		}
		c.laddr = Addr{network, local}
		c.raddr = Addr{network, remote}
		return
	}
}

var (
	errUnknownNetwork = errors.New("unknown network")
	errEmptyAddress   = errors.New("empty address")
	errMissingPort    = errors.New("missing port in address")
	errUnknownPort    = errors.New("unknown port")
)

// splitHostPort splits address according to network and returns the
// AT+CIPSTART connection type. ESP-AT connections are IPv4 only.
func splitHostPort(network, address string) (proto, host string, port int, err error) {
	switch network {
	case "tcp", "tcp4":
		proto = "TCP"
	case "udp", "udp4":
		proto = "UDP"
	default:
		err = errUnknownNetwork
		return
	}
	if len(address) == 0 {
		err = errEmptyAddress
		return
	}
	i := strings.LastIndexByte(address, ':')
	if i < 0 {
		err = errMissingPort
		return
	}
	host = address[:i]
	u, _ := strconv.ParseUint(address[i+1:], 10, 16)
	port = int(u)
	if port == 0 {
		err = errUnknownPort
	}
	return
}
