// Package uart opens the serial port connected to an ESP-AT module.
package uart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ziutek/serial"
	bug "go.bug.st/serial"
)

// Serial backends.
const (
	Termios  = "termios"  // github.com/ziutek/serial
	Portable = "portable" // go.bug.st/serial
)

// Config describes a serial port.
type Config struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	Backend     string        `mapstructure:"backend"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// DefaultBaud is the factory default speed of ESP-AT.
const DefaultBaud = 115200

var ErrNoPort = errors.New("uart: no port given")

// port is the part of a serial port used by Port.
type port interface {
	io.ReadWriteCloser
}

type opener func(cfg Config) (port, error)

var backends = map[string]opener{
	Termios:  openTermios,
	Portable: openPortable,
}

// Open opens the serial port described by cfg. An empty Backend selects
// Termios, a zero Baud selects DefaultBaud.
func Open(cfg Config) (*Port, error) {
	if cfg.Port == "" {
		return nil, ErrNoPort
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Backend == "" {
		cfg.Backend = Termios
	}
	open, ok := backends[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("uart: unknown backend %q", cfg.Backend)
	}
	p, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", cfg.Port, err)
	}
	return newPort(cfg.Port, p), nil
}

func openTermios(cfg Config) (port, error) {
	s, err := serial.Open(cfg.Port)
	if err != nil {
		return nil, err
	}
	if err := s.SetSpeed(cfg.Baud); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openPortable(cfg Config) (port, error) {
	p, err := bug.Open(cfg.Port, &bug.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   bug.NoParity,
		StopBits: bug.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout > 0 {
		if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Ports lists the serial ports available in the system.
func Ports() ([]string, error) {
	return bug.GetPortsList()
}

// Port is an open serial port. Read blocks until some data is available:
// read timeouts of the backend are not reported to the caller. After Close
// Read and Write return os.ErrClosed.
type Port struct {
	name string
	p    port

	mu     sync.Mutex
	closed bool
	once   sync.Once
	err    error
}

func newPort(name string, p port) *Port {
	return &Port{name: name, p: p}
}

// Name returns the port device name.
func (p *Port) Name() string {
	return p.name
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Read(b []byte) (int, error) {
	for {
		if p.isClosed() {
			return 0, os.ErrClosed
		}
		n, err := p.p.Read(b)
		if n > 0 || err != nil || len(b) == 0 {
			if err != nil && p.isClosed() {
				err = os.ErrClosed
			}
			return n, err
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	if p.isClosed() {
		return 0, os.ErrClosed
	}
	return p.p.Write(b)
}

// Close closes the port. It can be called more than once.
func (p *Port) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.err = p.p.Close()
	})
	return p.err
}
