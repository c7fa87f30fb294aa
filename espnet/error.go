package espnet

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/embeddedgo/espwifi"
)

func netOpError(c *Conn, op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = os.ErrDeadlineExceeded
	case errors.Is(err, espwifi.ErrUnknownConn), errors.Is(err, espwifi.ErrClosed):
		err = net.ErrClosed
	}
	return &net.OpError{
		Op:     op,
		Net:    c.laddr.Network(),
		Source: c.LocalAddr(),
		Addr:   c.RemoteAddr(),
		Err:    err,
	}
}
