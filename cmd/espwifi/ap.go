package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/embeddedgo/espwifi"
)

var apCmd = &cobra.Command{
	Use:   "ap",
	Short: "Start the module soft access point",
	Long: `Set the WiFi mode, configure the soft access point using the ap.* settings
and print the station and connection events until interrupted.`,
	Example: `  # Start the default LWESP_AccessPoint on /dev/ttyUSB0
  espwifi ap --port /dev/ttyUSB0

  # Hidden WPA2 network on channel 6
  ESPWIFI_AP_SSID=lab ESPWIFI_AP_PASSWORD=secret123 ESPWIFI_AP_CHANNEL=6 \
  ESPWIFI_AP_HIDDEN=true espwifi ap --port /dev/ttyUSB0`,
	RunE: runAP,
}

func runAP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	s, err := openSession(ctx, cmd, func(ev espwifi.Event) { logEvent(out, ev) })
	if err != nil {
		return err
	}
	defer s.Close()

	mode, ap, err := s.cfg.AP.WiFi()
	if err != nil {
		return err
	}
	if err := s.dev.SetWiFiMode(ctx, mode); err != nil {
		return err
	}
	if err := s.dev.APSetConfig(ctx, ap); err != nil {
		return err
	}
	ip, err := s.dev.APIP(ctx)
	if err != nil {
		s.log.Warn("cannot read the soft-AP address", zap.Error(err))
	}
	fmt.Fprintf(out, "access point %q (%s, channel %d) at %s\n", ap.SSID, ap.Encryption, ap.Channel, ip)

	select {
	case <-ctx.Done():
		return nil
	case <-s.dev.Done():
		return s.dev.Err()
	}
}
