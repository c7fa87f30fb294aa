package espnet

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/esptest"
)

const wait = 2 * time.Second

func newTestDevice(t *testing.T) (*espwifi.Device, *esptest.Modem) {
	t.Helper()
	m := esptest.New()
	d := espwifi.NewDevice("esp0", m, nil)
	go d.Run(context.Background())
	t.Cleanup(func() { d.Close() })
	return d, m
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		network, address string
		proto, host      string
		port             int
		err              error
	}{
		{"tcp", "example.com:80", "TCP", "example.com", 80, nil},
		{"udp4", "10.0.0.1:53", "UDP", "10.0.0.1", 53, nil},
		{"tcp", ":8080", "TCP", "", 8080, nil},
		{"tcp6", "[::1]:80", "", "", 0, errUnknownNetwork},
		{"unix", "/tmp/s", "", "", 0, errUnknownNetwork},
		{"tcp", "", "TCP", "", 0, errEmptyAddress},
		{"tcp", "example.com", "TCP", "", 0, errMissingPort},
		{"tcp", "example.com:http", "TCP", "example.com", 0, errUnknownPort},
	}
	for _, tt := range tests {
		proto, host, port, err := splitHostPort(tt.network, tt.address)
		assert.Equal(t, tt.err, err, tt.address)
		assert.Equal(t, tt.proto, proto, tt.address)
		assert.Equal(t, tt.host, host, tt.address)
		assert.Equal(t, tt.port, port, tt.address)
	}
}

func TestParseSockAddr(t *testing.T) {
	id, network, local, remote, server, ok := parseSockAddr(`3,"TCP","192.168.4.2",54321,80,1`)
	require.True(t, ok)
	assert.Equal(t, 3, id)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, ":80", local)
	assert.Equal(t, "192.168.4.2:54321", remote)
	assert.True(t, server)

	_, network, _, remote, server, ok = parseSockAddr(`0,"UDP","fe80::1",53,4000,0`)
	require.True(t, ok)
	assert.Equal(t, "udp", network)
	assert.Equal(t, "[fe80::1]:53", remote)
	assert.False(t, server)

	for _, sa := range []string{"", "x", `0,"TCP"`, `a,"TCP","1.2.3.4",1,2,0`, `0,"RAW","1.2.3.4",1,2,0`, `0,"TCP","1.2.3.4",1,2,10`} {
		_, _, _, _, _, ok := parseSockAddr(sa)
		assert.False(t, ok, sa)
	}
}

func TestDeadline(t *testing.T) {
	var dl deadline
	ctx, cancel := dl.context()
	select {
	case <-ctx.Done():
		t.Fatal("no deadline but done")
	case <-time.After(10 * time.Millisecond):
	}
	dl.set(time.Now().Add(time.Hour))
	<-ctx.Done()
	assert.True(t, deadlineChanged(ctx))
	cancel()

	dl.set(time.Unix(1, 0))
	ctx, cancel = dl.context()
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.False(t, deadlineChanged(ctx))
}

func dial(t *testing.T, d *espwifi.Device, m *esptest.Modem) *Conn {
	t.Helper()
	type res struct {
		c   *Conn
		err error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := DialDev(context.Background(), d, "tcp", "10.0.0.2:7")
		ch <- res{c, err}
	}()
	require.NoError(t, m.Expect("AT+CIPSTART=0,\"TCP\",\"10.0.0.2\",7\r\n", wait))
	require.NoError(t, m.Reply("0,CONNECT\r\nOK\r\n"))
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.c
	case <-time.After(wait):
		t.Fatal("dial timeout")
	}
	return nil
}

func TestConn(t *testing.T) {
	d, m := newTestDevice(t)
	c := dial(t, d, m)
	assert.Equal(t, "10.0.0.2:7", c.RemoteAddr().String())
	assert.Equal(t, "tcp", c.RemoteAddr().Network())

	require.NoError(t, m.Reply("+IPD,0,11:hello world"))
	buf := make([]byte, 5)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	rest, err := io.ReadAll(io.LimitReader(c, 6))
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest))

	errc := make(chan error, 1)
	go func() {
		_, err := c.WriteString("ping")
		errc <- err
	}()
	require.NoError(t, m.Expect("AT+CIPSEND=0,4\r\n", wait))
	require.NoError(t, m.Reply("OK\r\n> "))
	require.NoError(t, m.Expect("ping", wait))
	require.NoError(t, m.Reply("SEND OK\r\n"))
	require.NoError(t, <-errc)

	c.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, err = c.Read(buf)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// a deadline moved to the past aborts a pending read
	c.SetReadDeadline(time.Time{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.SetReadDeadline(time.Unix(1, 0))
	}()
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	c.SetReadDeadline(time.Time{})

	go func() { errc <- c.Close() }()
	require.NoError(t, m.Expect("AT+CIPCLOSE=0\r\n", wait))
	require.NoError(t, m.Reply("0,CLOSED\r\nOK\r\n"))
	require.NoError(t, <-errc)
	_, err = c.Read(buf)
	assert.Equal(t, io.EOF, err)
	_, err = c.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	require.NoError(t, c.Close())
}

func TestDialErrors(t *testing.T) {
	d, m := newTestDevice(t)
	_, err := DialDev(context.Background(), d, "tcp", "nowhere")
	var ae *net.AddrError
	require.ErrorAs(t, err, &ae)

	errc := make(chan error, 1)
	go func() {
		_, err := DialDev(context.Background(), d, "udp", "10.0.0.3:9")
		errc <- err
	}()
	require.NoError(t, m.Expect("AT+CIPSTART=0,\"UDP\",\"10.0.0.3\",9\r\n", wait))
	require.NoError(t, m.Reply("ERROR\r\n"))
	err = <-errc
	var oe *net.OpError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "dial", oe.Op)
	assert.ErrorIs(t, err, espwifi.ErrRejected)
}

func TestListener(t *testing.T) {
	d, m := newTestDevice(t)
	errc := make(chan error, 1)
	lsc := make(chan *Listener, 1)
	go func() {
		ls, err := ListenDev(context.Background(), d, "tcp", ":80")
		errc <- err
		lsc <- ls
	}()
	require.NoError(t, m.Expect("AT+CIPSERVER=1,80\r\n", wait))
	require.NoError(t, m.Reply("OK\r\n"))
	require.NoError(t, <-errc)
	ls := <-lsc
	assert.Equal(t, ":80", ls.Addr().String())
	assert.True(t, d.ServerRunning())

	connc := make(chan net.Conn, 1)
	go func() {
		c, err := ls.Accept()
		errc <- err
		connc <- c
	}()
	require.NoError(t, m.Reply("1,CONNECT\r\n"))
	require.NoError(t, m.Expect("AT+CIPSTATUS\r\n", wait))
	require.NoError(t, m.Reply("STATUS:3\r\n"+
		"+CIPSTATUS:1,\"TCP\",\"192.168.4.2\",50000,80,1\r\nOK\r\n"))
	require.NoError(t, <-errc)
	c := <-connc
	assert.Equal(t, "192.168.4.2:50000", c.RemoteAddr().String())
	assert.Equal(t, ":80", c.LocalAddr().String())
	assert.Equal(t, 1, c.(*Conn).ESPConn().ID())

	go func() {
		_, err := ls.Accept()
		errc <- err
	}()
	go func() { errc <- ls.Close() }()
	require.NoError(t, m.Expect("AT+CIPSERVER=0,1\r\n", wait))
	require.NoError(t, m.Reply("1,CLOSED\r\nOK\r\n"))
	var errs []error
	for range 2 {
		select {
		case err := <-errc:
			errs = append(errs, err)
		case <-time.After(wait):
			t.Fatal("timeout")
		}
	}
	var nilErrs int
	var acceptErr error
	for _, err := range errs {
		if err == nil {
			nilErrs++
		} else {
			acceptErr = err
		}
	}
	assert.Equal(t, 1, nilErrs, "Close")
	assert.True(t, errors.Is(acceptErr, net.ErrClosed))
	assert.False(t, d.ServerRunning())
	assert.ErrorIs(t, ls.Close(), net.ErrClosed)
}

func TestListenErrors(t *testing.T) {
	d, _ := newTestDevice(t)
	_, err := ListenDev(context.Background(), d, "udp", ":80")
	assert.Error(t, err)
	_, err = ListenDev(context.Background(), d, "tcp", "80")
	assert.Error(t, err)
	_, err = ListenDev(context.Background(), d, "tcp", ":0")
	assert.Error(t, err)
}
