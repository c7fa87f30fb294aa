package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/httpd"
)

// scanner lists the access points for the wifi_list tag.
type scanner interface {
	ScanAPs(ctx context.Context) ([]espwifi.AccessPoint, error)
}

const scanTimeout = 10 * time.Second

// newDemoServer returns the server of the demo pages. Requests and POST
// bodies are reported to out.
func newDemoServer(root fs.FS, sc scanner, log *zap.Logger, out io.Writer) *httpd.Server {
	cgi := func(name, page string) func([]httpd.Param) string {
		return func(params []httpd.Param) string {
			fmt.Fprintf(out, "%s CGI handler\n", name)
			for _, p := range params {
				fmt.Fprintf(out, "param: name = %s, value = %s\n", p.Name, p.Value)
			}
			return page
		}
	}
	return &httpd.Server{
		FS: root,
		CGI: []httpd.CGI{
			{Path: "/led.cgi", Handler: cgi("LED", "/index.shtml")},
			{Path: "/usart.cgi", Handler: cgi("USART", "/index.html")},
		},
		SSI: func(w io.Writer, tag string) {
			switch tag {
			case "title":
				io.WriteString(w, "ESP-AT SSI TITLE")
			case "led_status":
				io.WriteString(w, "Led is on")
			case "wifi_list":
				writeWiFiList(w, sc, log)
			}
		},
		PostStart: func(uri string, n int64) error {
			fmt.Fprintf(out, "POST started with %d length on URI: %s\n", n, uri)
			return nil
		},
		PostData: func(chunk []byte) error {
			fmt.Fprintf(out, "POST data received: %d bytes\n", len(chunk))
			return nil
		},
		PostEnd: func() error {
			fmt.Fprintln(out, "POST finished")
			return nil
		},
		Logger: log,
	}
}

func writeWiFiList(w io.Writer, sc scanner, log *zap.Logger) {
	io.WriteString(w, `<table class="table">`)
	io.WriteString(w, "<thead><tr><th>#</th><th>SSID</th><th>MAC</th><th>RSSI</th></tr></thead><tbody>")
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	aps, err := sc.ScanAPs(ctx)
	if err != nil {
		log.Warn("AP scan failed", zap.Error(err))
	}
	for i, ap := range aps {
		fmt.Fprintf(w, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%d</td></tr>",
			i, html.EscapeString(ap.SSID), ap.MAC, ap.RSSI)
	}
	io.WriteString(w, "</tbody></table>")
}
