package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embeddedgo/espwifi/espnet"
)

var (
	dialUDP          bool
	dialReadTimeout  time.Duration
	dialWriteTimeout time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial ADDR:PORT",
	Short: "Connect to a remote host through the module",
	Long: `Open a TCP (or UDP) connection from the module, send the standard input
and print the received data. The module must be connected to a network.`,
	Example: `  espwifi dial --port /dev/ttyUSB0 192.168.1.100:1234
  espwifi dial --port /dev/ttyUSB0 --udp --read-timeout 5s 192.168.1.100:1234`,
	Args: cobra.ExactArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().BoolVar(&dialUDP, "udp", false, "UDP instead of TCP")
	dialCmd.Flags().DurationVar(&dialReadTimeout, "read-timeout", 0, "Read deadline, reset after every read")
	dialCmd.Flags().DurationVar(&dialWriteTimeout, "write-timeout", 0, "Write deadline")
	rootCmd.AddCommand(dialCmd)
}

func runDial(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	network := "tcp"
	if dialUDP {
		network = "udp"
	}
	conn, err := espnet.DialDev(ctx, s.dev, network, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "[connected %s]\n", conn.RemoteAddr())

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- send(conn, cmd.InOrStdin(), stderr)
	}()
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- recv(conn, cmd.OutOrStdout())
	}()

	select {
	case <-ctx.Done():
		return nil
	case err = <-sendErr:
	case err = <-recvErr:
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(stderr, "[closed by remote]")
			return nil
		}
	}
	return err
}

func send(conn net.Conn, r io.Reader, log io.Writer) error {
	buf := make([]byte, 2048)
	for {
		n, err := r.Read(buf)
		if n != 0 {
			if dialWriteTimeout != 0 {
				conn.SetWriteDeadline(time.Now().Add(dialWriteTimeout))
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return err
			}
			fmt.Fprintf(log, "[%d sent]\n", n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func recv(conn net.Conn, w io.Writer) error {
	buf := make([]byte, 2048)
	for {
		if dialReadTimeout != 0 {
			conn.SetReadDeadline(time.Now().Add(dialReadTimeout))
		}
		n, err := conn.Read(buf)
		if n != 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return err
		}
	}
}
