package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/config"
	"github.com/embeddedgo/espwifi/logging"
	"github.com/embeddedgo/espwifi/trace"
	"github.com/embeddedgo/espwifi/uart"
)

// session is an initialized device with everything it depends on.
type session struct {
	cfg *config.Config
	log *zap.Logger
	dev *espwifi.Device

	closers []io.Closer
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openSession opens the serial port and initializes the module. Events are
// passed to h.
func openSession(ctx context.Context, cmd *cobra.Command, h espwifi.EventHandler) (*session, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log}
	port, err := uart.Open(cfg.Serial)
	if err != nil {
		return nil, err
	}
	var t espwifi.Transport = port
	s.closers = append(s.closers, port)
	if cfg.Trace.File != "" {
		f, err := os.Create(cfg.Trace.File)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("trace: %w", err)
		}
		s.closers = append(s.closers, f)
		rec := trace.NewRecorder(port, f)
		log.Info("recording UART traffic",
			zap.String("file", cfg.Trace.File),
			zap.Stringer("session", rec.Session()),
		)
		t = rec
	}
	dcfg, err := cfg.Modem.Device(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dev = espwifi.NewDevice(cfg.Modem.Name, t, dcfg)
	if err := s.dev.Init(ctx, h, true); err != nil {
		s.Close()
		return nil, err
	}
	log.Info("module ready",
		zap.String("port", cfg.Serial.Port),
		zap.Stringer("firmware", s.dev.Version()),
	)
	return s, nil
}

// Close stops the device and closes the port and the trace file.
func (s *session) Close() error {
	var errs []error
	if s.dev != nil {
		errs = append(errs, s.dev.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		err := s.closers[i].Close()
		if !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.log.Sync()
	return errors.Join(errs...)
}

// logEvent writes a line describing ev to w.
func logEvent(w io.Writer, ev espwifi.Event) {
	switch e := ev.(type) {
	case espwifi.EventInitFinish:
		fmt.Fprintln(w, "init finished")
	case espwifi.EventResetDetected:
		fmt.Fprintf(w, "reset detected (requested: %t)\n", e.Requested)
	case espwifi.EventVersionNotSupported:
		fmt.Fprintln(w, e.Err())
	case espwifi.EventWiFiConnected:
		fmt.Fprintln(w, "station connected to AP")
	case espwifi.EventWiFiGotIP:
		fmt.Fprintln(w, "station got IP")
	case espwifi.EventWiFiDisconnected:
		fmt.Fprintln(w, "station disconnected from AP")
	case espwifi.EventAPConnectedStation:
		fmt.Fprintf(w, "station %s connected\n", e.MAC)
	case espwifi.EventAPStationIP:
		fmt.Fprintf(w, "station %s got IP %s\n", e.MAC, e.IP)
	case espwifi.EventAPDisconnectedStation:
		fmt.Fprintf(w, "station %s disconnected\n", e.MAC)
	case espwifi.EventConnActive:
		fmt.Fprintf(w, "connection %d active (client: %t)\n", e.ID, e.Client)
	case espwifi.EventConnData:
		fmt.Fprintf(w, "connection %d: %d bytes received\n", e.ID, len(e.Data))
	case espwifi.EventConnClosed:
		fmt.Fprintf(w, "connection %d closed (forced: %t)\n", e.ID, e.Forced)
	case espwifi.EventConnError:
		fmt.Fprintf(w, "connection %d failed: %v\n", e.ID, e.Err)
	case espwifi.EventTransportError:
		fmt.Fprintf(w, "transport error: %v\n", e.Err)
	case espwifi.EventParseError:
		fmt.Fprintf(w, "parse error: %v\n", e.Err)
	}
}
