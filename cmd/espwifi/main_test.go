package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/trace"
)

type script struct {
	rx *strings.Reader
	tx bytes.Buffer
}

func (s *script) Read(p []byte) (int, error)  { return s.rx.Read(p) }
func (s *script) Write(p []byte) (int, error) { return s.tx.Write(p) }

func TestReplay(t *testing.T) {
	var tr bytes.Buffer
	rec := trace.NewRecorder(&script{rx: strings.NewReader("\r\nOK\r\n+IPD,1,2:hi")}, &tr)
	_, err := io.WriteString(rec, "AT\r\n")
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, rec)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(&tr, &out))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], `1 tx "AT\r\n"`), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "2 rx OK"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], `2 rx data link 1: "hi"`), lines[2])
}

func TestLogEvent(t *testing.T) {
	mac, err := espwifi.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	ip, err := espwifi.ParseIP("192.168.4.2")
	require.NoError(t, err)

	var out bytes.Buffer
	for _, ev := range []espwifi.Event{
		espwifi.EventInitFinish{},
		espwifi.EventAPConnectedStation{MAC: mac},
		espwifi.EventAPStationIP{MAC: mac, IP: ip},
		espwifi.EventConnClosed{ID: 2, Forced: true},
		espwifi.EventTransportError{Err: errors.New("EOF")},
	} {
		logEvent(&out, ev)
	}
	assert.Equal(t, "init finished\n"+
		"station AA:BB:CC:DD:EE:FF connected\n"+
		"station AA:BB:CC:DD:EE:FF got IP 192.168.4.2\n"+
		"connection 2 closed (forced: true)\n"+
		"transport error: EOF\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "espwifi dev\n", out.String())
}

func TestATRequiresPort(t *testing.T) {
	t.Setenv("ESPWIFI_SERIAL_PORT", "")
	rootCmd.SetArgs([]string{"at", "+GMR"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	assert.Error(t, err)
}
