package main

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embeddedgo/espwifi/httpd"
)

//go:embed www
var www embed.FS

var httpdCmd = &cobra.Command{
	Use:   "httpd",
	Short: "Serve the demo pages over the module TCP server",
	Long: `Start the soft access point, then serve the files from http.root (the
built-in demo pages by default) on http.port. The /led.cgi and /usart.cgi
handlers and the title, led_status and wifi_list SSI tags are available.`,
	Example: `  espwifi httpd --port /dev/ttyUSB0
  ESPWIFI_HTTP_ROOT=./site espwifi httpd --config espwifi.yaml`,
	RunE: runHTTPD,
}

func runHTTPD(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	s, err := openSession(ctx, cmd, nil)
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

	var root fs.FS
	if s.cfg.HTTP.Root != "" {
		root = os.DirFS(s.cfg.HTTP.Root)
	} else if root, err = fs.Sub(www, "www"); err != nil {
		return err
	}
	srv := newDemoServer(root, s.dev, s.log, out)
	fmt.Fprintf(out, "serving %q on port %d\n", ap.SSID, s.cfg.HTTP.Port)
	return httpd.Start(ctx, s.dev, s.cfg.HTTP.Port, srv)
}
