package httpd

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/espnet"
)

// Start starts the ESP-AT TCP server on port and serves s until ctx is
// done. It returns nil after ctx is done.
func Start(ctx context.Context, d *espwifi.Device, port int, s *Server) error {
	ls, err := espnet.ListenDev(ctx, d, "tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	log := s.log()
	errLog, _ := zap.NewStdLogAt(log.Named("http"), zapcore.WarnLevel)
	hs := &http.Server{Handler: s, ErrorLog: errLog}
	stop := context.AfterFunc(ctx, func() { hs.Close() })
	defer stop()
	log.Info("HTTP server started", zap.Int("port", port))
	err = hs.Serve(ls)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
