package espwifi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Mode is the WiFi operating mode.
type Mode uint8

const (
	ModeStation   Mode = 1
	ModeAP        Mode = 2
	ModeStationAP Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeStation:
		return "station"
	case ModeAP:
		return "ap"
	case ModeStationAP:
		return "station+ap"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "station", "sta":
		return ModeStation, nil
	case "ap":
		return ModeAP, nil
	case "station+ap", "sta+ap", "apsta":
		return ModeStationAP, nil
	}
	return 0, fmt.Errorf("%w: unknown WiFi mode %q", ErrInvalidConfig, s)
}

// Encryption is the access point security.
type Encryption uint8

const (
	EncOpen       Encryption = 0
	EncWEP        Encryption = 1
	EncWPAPSK     Encryption = 2
	EncWPA2PSK    Encryption = 3
	EncWPAWPA2PSK Encryption = 4
)

func (e Encryption) String() string {
	switch e {
	case EncOpen:
		return "open"
	case EncWEP:
		return "wep"
	case EncWPAPSK:
		return "wpa-psk"
	case EncWPA2PSK:
		return "wpa2-psk"
	case EncWPAWPA2PSK:
		return "wpa-wpa2-psk"
	}
	return "enc(" + strconv.Itoa(int(e)) + ")"
}

// ParseEncryption accepts the names returned by Encryption.String.
func ParseEncryption(s string) (Encryption, error) {
	for e := EncOpen; e <= EncWPAWPA2PSK; e++ {
		if strings.EqualFold(s, e.String()) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown encryption %q", ErrInvalidConfig, s)
}

// APConfig is the soft-AP configuration.
type APConfig struct {
	SSID        string
	Password    string
	Channel     int
	Encryption  Encryption
	MaxStations int
	Hidden      bool
}

// Validate checks the limits imposed by ESP-AT.
func (c *APConfig) Validate() error {
	switch {
	case c.SSID == "" || len(c.SSID) > 32:
		return fmt.Errorf("%w: SSID must have 1 to 32 bytes", ErrInvalidConfig)
	case c.Encryption == EncWEP:
		return fmt.Errorf("%w: WEP is not supported in AP mode", ErrInvalidConfig)
	case c.Encryption > EncWPAWPA2PSK:
		return fmt.Errorf("%w: bad encryption %d", ErrInvalidConfig, c.Encryption)
	case c.Encryption != EncOpen && (len(c.Password) < 8 || len(c.Password) > 64):
		return fmt.Errorf("%w: password must have 8 to 64 bytes", ErrInvalidConfig)
	case c.Channel < 1 || c.Channel > 14:
		return fmt.Errorf("%w: channel must be 1 to 14", ErrInvalidConfig)
	case c.MaxStations < 1 || c.MaxStations > 10:
		return fmt.Errorf("%w: max stations must be 1 to 10", ErrInvalidConfig)
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetWiFiMode sets the WiFi mode (AT+CWMODE).
func (d *Device) SetWiFiMode(ctx context.Context, m Mode) error {
	if m < ModeStation || m > ModeStationAP {
		return &Error{d.name, "+CWMODE=", ErrInvalidConfig}
	}
	_, err := d.Exec(ctx, "+CWMODE=", int(m))
	return err
}

// WiFiMode returns the current WiFi mode.
func (d *Device) WiFiMode(ctx context.Context) (Mode, error) {
	s, err := d.ExecLine(ctx, "+CWMODE:", "+CWMODE?")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &Error{d.name, "+CWMODE?", ErrParse}
	}
	return Mode(n), nil
}

// APSetConfig configures the soft-AP using one AT+CWSAP command.
func (d *Device) APSetConfig(ctx context.Context, c APConfig) error {
	if err := c.Validate(); err != nil {
		return &Error{d.name, "+CWSAP=", err}
	}
	_, err := d.Exec(ctx, "+CWSAP=",
		c.SSID, c.Password, c.Channel, int(c.Encryption), c.MaxStations, b2i(c.Hidden),
	)
	return err
}

// APConfig returns the current soft-AP configuration.
func (d *Device) APConfig(ctx context.Context) (APConfig, error) {
	s, err := d.ExecLine(ctx, "+CWSAP:", "+CWSAP?")
	if err != nil {
		return APConfig{}, err
	}
	c, ok := parseCWSAP(s)
	if !ok {
		return APConfig{}, &Error{d.name, "+CWSAP?", ErrParse}
	}
	return c, nil
}

// parseCWSAP parses `"ssid","pwd",ch,ecn,max,hidden`.
func parseCWSAP(s string) (c APConfig, ok bool) {
	f := splitFields(s)
	if len(f) < 6 {
		return c, false
	}
	var n [4]int
	for i := range n {
		if n[i], ok = atoiStrict([]byte(f[2+i])); !ok {
			return c, false
		}
	}
	c.SSID = unquote(f[0])
	c.Password = unquote(f[1])
	c.Channel = n[0]
	c.Encryption = Encryption(n[1])
	c.MaxStations = n[2]
	c.Hidden = n[3] != 0
	return c, true
}

// Station is a station connected to the soft-AP.
type Station struct {
	IP  IP
	MAC MAC
}

// APStations lists the stations connected to the soft-AP (AT+CWLIF).
func (d *Device) APStations(ctx context.Context) ([]Station, error) {
	resp, err := d.ExecCommand(ctx, &Command{Name: "+CWLIF", Capture: []string{"+CWLIF:"}})
	if err != nil {
		return nil, err
	}
	sts := make([]Station, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		st, ok := parseCWLIF(line[len("+CWLIF:"):])
		if !ok {
			d.log.Warn("bad station entry", zap.String("line", line))
			continue
		}
		sts = append(sts, st)
	}
	return sts, nil
}

// parseCWLIF parses `<ip>,<mac>`.
func parseCWLIF(s string) (st Station, ok bool) {
	f := splitFields(s)
	if len(f) < 2 {
		return st, false
	}
	var err error
	if st.IP, err = ParseIP(unquote(f[0])); err != nil {
		return st, false
	}
	if st.MAC, err = ParseMAC(unquote(f[1])); err != nil {
		return st, false
	}
	return st, true
}

// AccessPoint is an entry of the AP scan list.
type AccessPoint struct {
	Encryption Encryption
	SSID       string
	RSSI       int
	MAC        MAC
	Channel    int
}

// ScanAPs lists the access points in range (AT+CWLAP).
func (d *Device) ScanAPs(ctx context.Context) ([]AccessPoint, error) {
	resp, err := d.ExecCommand(ctx, &Command{Name: "+CWLAP", Capture: []string{"+CWLAP:"}})
	if err != nil {
		return nil, err
	}
	aps := make([]AccessPoint, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		ap, ok := parseCWLAP(line[len("+CWLAP:"):])
		if !ok {
			d.log.Warn("bad AP entry", zap.String("line", line))
			continue
		}
		aps = append(aps, ap)
	}
	return aps, nil
}

// parseCWLAP parses `(<ecn>,"<ssid>",<rssi>,"<mac>",<channel>,...)`.
func parseCWLAP(s string) (ap AccessPoint, ok bool) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return ap, false
	}
	f := splitFields(s[1 : len(s)-1])
	if len(f) < 5 {
		return ap, false
	}
	ecn, ok := atoiStrict([]byte(f[0]))
	if !ok {
		return ap, false
	}
	rssi, err := strconv.Atoi(f[2])
	if err != nil {
		return ap, false
	}
	mac, err := ParseMAC(unquote(f[3]))
	if err != nil {
		return ap, false
	}
	ch, ok := atoiStrict([]byte(f[4]))
	if !ok {
		return ap, false
	}
	ap.Encryption = Encryption(ecn)
	ap.SSID = unquote(f[1])
	ap.RSSI = rssi
	ap.MAC = mac
	ap.Channel = ch
	return ap, true
}

// StaJoin connects the station to an access point (AT+CWJAP).
func (d *Device) StaJoin(ctx context.Context, ssid, password string) error {
	_, err := d.ExecCommand(ctx, &Command{
		Name:    "+CWJAP=",
		Args:    []any{ssid, password},
		Capture: []string{"+CWJAP:"},
	})
	return err
}

// StaQuit disconnects the station from the access point (AT+CWQAP).
func (d *Device) StaQuit(ctx context.Context) error {
	_, err := d.Exec(ctx, "+CWQAP")
	return err
}

// StaIP returns the station IP address (AT+CIPSTA?).
func (d *Device) StaIP(ctx context.Context) (IP, error) {
	return d.queryIP(ctx, "+CIPSTA")
}

// APIP returns the soft-AP IP address (AT+CIPAP?).
func (d *Device) APIP(ctx context.Context) (IP, error) {
	return d.queryIP(ctx, "+CIPAP")
}

func (d *Device) queryIP(ctx context.Context, cmd string) (IP, error) {
	prefix := cmd + ":ip:"
	s, err := d.ExecLine(ctx, prefix, cmd+"?")
	if err != nil {
		return IP{}, err
	}
	ip, err := ParseIP(unquote(s))
	if err != nil {
		return IP{}, &Error{d.name, cmd + "?", ErrParse}
	}
	return ip, nil
}

// FirmwareVersion reads the AT firmware version (AT+GMR).
func (d *Device) FirmwareVersion(ctx context.Context) (Version, error) {
	resp, err := d.ExecCommand(ctx, &Command{Name: "+GMR", Capture: []string{gmrPrefix}})
	if err != nil {
		return Version{}, err
	}
	v, ok := versionFromGMR(resp.Lines)
	if !ok {
		return Version{}, &Error{d.name, "+GMR", ErrParse}
	}
	d.setVersion(v)
	return v, nil
}
