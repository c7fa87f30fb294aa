package espwifi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Event is an asynchronous notification delivered to the registered
// EventHandler. It is implemented by the Event* types of this package, use
// a type switch to inspect it:
//
//	switch e := ev.(type) {
//	case espwifi.EventAPConnectedStation:
//		fmt.Println("station", e.MAC)
//	}
type Event interface {
	isEvent()
}

// EventInitFinish is sent after Device.Init completed its command sequence.
type EventInitFinish struct{}

// EventResetDetected is sent when ESP-AT reports "ready". Requested is true
// if the reset was caused by Device.Reset. All connections are dropped.
type EventResetDetected struct {
	Requested bool
}

// EventVersionNotSupported is sent by Device.Init if the AT firmware is
// older than Config.MinVersion. The device continues to operate.
type EventVersionNotSupported struct {
	Min     Version
	Current Version
}

// Err returns the event as an error that wraps ErrUnsupportedVersion.
func (e EventVersionNotSupported) Err() error {
	return fmt.Errorf("%w: %s older than %s", ErrUnsupportedVersion, e.Current, e.Min)
}

// EventWiFiConnected is sent when the station joined an access point.
type EventWiFiConnected struct{}

// EventWiFiGotIP is sent when the station obtained an IP address.
type EventWiFiGotIP struct{}

// EventWiFiDisconnected is sent when the station left an access point.
type EventWiFiDisconnected struct{}

// EventAPConnectedStation is sent when a station connected to our soft-AP.
type EventAPConnectedStation struct {
	MAC MAC
}

// EventAPStationIP is sent when our soft-AP assigned an IP to a station.
type EventAPStationIP struct {
	MAC MAC
	IP  IP
}

// EventAPDisconnectedStation is sent when a station left our soft-AP.
type EventAPDisconnectedStation struct {
	MAC MAC
}

// EventConnActive is sent when a connection becomes CONNECTED. Client is
// true for connections opened by Dial, false for accepted ones.
type EventConnActive struct {
	ID     int
	Client bool
	Conn   *Conn
}

// EventConnData is sent for every received +IPD payload. Data is valid only
// during the handler call.
type EventConnData struct {
	ID     int
	Data   []byte
	Remote string
}

// EventConnClosed is sent when a connection returned to IDLE. Forced is
// true if the close was not requested by CloseConn (remote close, reset).
type EventConnClosed struct {
	ID     int
	Client bool
	Forced bool
}

// EventConnError is sent when an outgoing connection could not be opened.
type EventConnError struct {
	ID  int
	Err error
}

// EventTransportError is sent once when the transport fails. The I/O loop
// stops right after it.
type EventTransportError struct {
	Err error
}

// EventParseError is sent for every malformed frame.
type EventParseError struct {
	Err *ParseError
}

func (EventInitFinish) isEvent()            {}
func (EventResetDetected) isEvent()         {}
func (EventVersionNotSupported) isEvent()   {}
func (EventWiFiConnected) isEvent()         {}
func (EventWiFiGotIP) isEvent()             {}
func (EventWiFiDisconnected) isEvent()      {}
func (EventAPConnectedStation) isEvent()    {}
func (EventAPStationIP) isEvent()           {}
func (EventAPDisconnectedStation) isEvent() {}
func (EventConnActive) isEvent()            {}
func (EventConnData) isEvent()              {}
func (EventConnClosed) isEvent()            {}
func (EventConnError) isEvent()             {}
func (EventTransportError) isEvent()        {}
func (EventParseError) isEvent()            {}

// Active Message Reports that are not connection related.
const (
	msgWiFiConnected  = "WIFI CONNECTED"
	msgWiFiGotIP      = "WIFI GOT IP"
	msgWiFiDisconnect = "WIFI DISCONNECT"
	msgStaConnected   = "+STA_CONNECTED:"
	msgStaIP          = "+DIST_STA_IP:"
	msgStaDisconn     = "+STA_DISCONNECTED:"
	msgReady          = "ready"
)

// parseEvent decodes non-connection Active Message Reports. It returns
// ok == false if line is not one of them and err != nil if it is but
// cannot be decoded.
func parseEvent(line string) (ev Event, ok bool, err error) {
	switch line {
	case msgWiFiConnected:
		return EventWiFiConnected{}, true, nil
	case msgWiFiGotIP:
		return EventWiFiGotIP{}, true, nil
	case msgWiFiDisconnect:
		return EventWiFiDisconnected{}, true, nil
	}
	switch {
	case strings.HasPrefix(line, msgStaConnected):
		mac, err := ParseMAC(unquote(line[len(msgStaConnected):]))
		if err != nil {
			return nil, true, err
		}
		return EventAPConnectedStation{mac}, true, nil
	case strings.HasPrefix(line, msgStaDisconn):
		mac, err := ParseMAC(unquote(line[len(msgStaDisconn):]))
		if err != nil {
			return nil, true, err
		}
		return EventAPDisconnectedStation{mac}, true, nil
	case strings.HasPrefix(line, msgStaIP):
		f := splitFields(line[len(msgStaIP):])
		if len(f) != 2 {
			return nil, true, errors.New("bad " + msgStaIP + " line")
		}
		mac, err := ParseMAC(unquote(f[0]))
		if err != nil {
			return nil, true, err
		}
		ip, err := ParseIP(unquote(f[1]))
		if err != nil {
			return nil, true, err
		}
		return EventAPStationIP{mac, ip}, true, nil
	}
	return nil, false, nil
}

type linkKind uint8

const (
	linkConnect linkKind = iota + 1
	linkClosed
	linkConnectFail
)

// parseLink decodes "<id>,CONNECT", "<id>,CLOSED", "<id>,CONNECT FAIL" and
// their single connection mode variants (reported as link 0).
func parseLink(line string) (id int, kind linkKind, ok bool) {
	s := line
	if len(s) > 2 && s[1] == ',' && s[0] >= '0' && s[0] <= '9' {
		id = int(s[0] - '0')
		s = s[2:]
	}
	switch s {
	case "CONNECT":
		kind = linkConnect
	case "CLOSED":
		kind = linkClosed
	case "CONNECT FAIL":
		kind = linkConnectFail
	default:
		return 0, 0, false
	}
	if id >= MaxConns {
		return 0, 0, false
	}
	return id, kind, true
}

// MAC is a 48-bit hardware address in the byte order reported by ESP-AT.
type MAC [6]byte

// ParseMAC parses the "aa:bb:cc:dd:ee:ff" notation.
func ParseMAC(s string) (MAC, error) {
	var mac MAC
	if len(s) != 17 {
		return mac, errors.New("bad MAC address: " + s)
	}
	for i := range mac {
		if i > 0 && s[i*3-1] != ':' {
			return mac, errors.New("bad MAC address: " + s)
		}
		u, err := strconv.ParseUint(s[i*3:i*3+2], 16, 8)
		if err != nil {
			return mac, errors.New("bad MAC address: " + s)
		}
		mac[i] = byte(u)
	}
	return mac, nil
}

func (m MAC) String() string {
	const hex = "0123456789ABCDEF"
	var buf [17]byte
	for i, b := range m {
		if i > 0 {
			buf[i*3-1] = ':'
		}
		buf[i*3] = hex[b>>4]
		buf[i*3+1] = hex[b&15]
	}
	return string(buf[:])
}

// IP is an IPv4 address.
type IP [4]byte

// ParseIP parses the dotted decimal notation.
func ParseIP(s string) (IP, error) {
	var ip IP
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ip, errors.New("bad IP address: " + s)
	}
	for i, p := range parts {
		u, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return ip, errors.New("bad IP address: " + s)
		}
		ip[i] = byte(u)
	}
	return ip, nil
}

func (ip IP) String() string {
	var sb strings.Builder
	for i, b := range ip {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	return sb.String()
}

// splitFields splits a comma separated ESP-AT response, ignoring commas
// inside quoted strings (backslash escapes are honored).
func splitFields(s string) []string {
	var (
		fields []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, s[start:])
}

// unquote removes surrounding quotes and backslash escapes.
func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
