package espwifi

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Transport is the byte stream connected to the ESP-AT UART. If it also
// implements io.Closer it is closed by Device.Close.
type Transport interface {
	io.Reader
	io.Writer
}

// Config contains the Device parameters. The zero value of every field
// selects its default.
type Config struct {
	Logger         *zap.Logger   // diagnostic sink, zap.NewNop() if nil
	Grammar        *Grammar      // DefaultGrammar() if nil
	DefaultTimeout time.Duration // used if neither Command nor Grammar define one
	QueueSize      int           // command queue capacity (8)
	MinVersion     Version       // oldest supported firmware (DefaultMinVersion)
	Reset          bool          // reset the module in Init
	MaxLine        int           // Parser.MaxLine
	MaxPayload     int           // Parser.MaxPayload
	ReadSize       int           // transport read buffer size (512)
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Grammar == nil {
		c.Grammar = DefaultGrammar()
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.MinVersion.IsZero() {
		c.MinVersion = DefaultMinVersion
	}
	if c.ReadSize <= 0 {
		c.ReadSize = 512
	}
}

// Device is a driver of an ESP-AT module. It requires the multiple
// connection mode (CIPMUX=1) and CIPDINFO=0, both set by Init.
type Device struct {
	name    string
	t       Transport
	cfg     Config
	log     *zap.Logger
	cmdq    chan *Command
	bus     bus
	conns   connTable
	accepts chan *Conn

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	err      error
	version  Version
	ready    atomic.Bool
	serverOn atomic.Bool
}

// NewDevice returns a driver for the ESP-AT device available via t. cfg may
// be nil. The I/O loop is not started: use Init or Run.
func NewDevice(name string, t Transport, cfg *Config) *Device {
	d := &Device{name: name, t: t}
	if cfg != nil {
		d.cfg = *cfg
	}
	d.cfg.setDefaults()
	d.log = d.cfg.Logger.With(zap.String("dev", name))
	d.bus.log = d.log
	d.cmdq = make(chan *Command, d.cfg.QueueSize)
	d.accepts = make(chan *Conn, MaxConns)
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	return d
}

// Name returns the device name given to NewDevice.
func (d *Device) Name() string {
	return d.name
}

// Ready reports whether the device reported "ready" since the last reset or
// completed Init.
func (d *Device) Ready() bool {
	return d.ready.Load()
}

// Version returns the firmware version read by Init or FirmwareVersion.
func (d *Device) Version() Version {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *Device) setVersion(v Version) {
	d.mu.Lock()
	d.version = v
	d.mu.Unlock()
}

// Done returns a channel that is closed when the I/O loop exits.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that stopped the I/O loop.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Conns returns a snapshot of all links.
func (d *Device) Conns() []ConnInfo {
	return d.conns.snapshot()
}

// ConnState returns the state of the link id.
func (d *Device) ConnState(id int) State {
	return d.conns.state(id)
}

// Run runs the I/O loop: the only goroutine that reads the transport,
// parses its output, resolves commands, updates the connection table and
// calls event handlers. It returns when ctx is done, Close is called or the
// transport fails. Run can be called only once.
func (d *Device) Run(ctx context.Context) error {
	ctx, err := d.start(ctx)
	if err != nil {
		return err
	}
	return d.run(ctx)
}

// start marks the loop as running. Close waits for the loop from now on.
func (d *Device) start(ctx context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil, ErrLoopRunning
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (d *Device) run(ctx context.Context) error {
	l := newLoop(d)
	err := l.run(ctx)

	d.mu.Lock()
	d.err = err
	d.cancel()
	d.mu.Unlock()
	close(d.done)
	return err
}

// Init initializes the device to the known state using the following
// commands:
//
//	AT+RST (if Config.Reset is set)
//	ATE0
//	AT+GMR
//	AT+CIPMUX=1
//	AT+CIPDINFO=0
//	AT+SYSLOG=1
//
// h, if not nil, is registered as the primary event handler before any
// command is sent. If startLoop is true Init starts the I/O loop in a new
// goroutine (ErrLoopRunning if it already runs), otherwise the caller must
// run it with Run. An older firmware is
// reported with EventVersionNotSupported but does not fail Init.
// EventInitFinish is sent when the sequence is done.
func (d *Device) Init(ctx context.Context, h EventHandler, startLoop bool) error {
	if h != nil {
		d.Register(h)
	}
	if startLoop {
		lctx, err := d.start(context.Background())
		if err != nil {
			return err
		}
		go d.run(lctx)
	}
	d.ready.Store(false)
	if d.cfg.Reset {
		if err := d.Reset(ctx); err != nil {
			return err
		}
	}
	if _, err := d.Exec(ctx, "E0"); err != nil {
		return err
	}
	gmr := &Command{
		Name:    "+GMR",
		Capture: []string{gmrPrefix},
		hook:    d.checkVersion,
	}
	if _, err := d.ExecCommand(ctx, gmr); err != nil {
		return err
	}
	if _, err := d.Exec(ctx, "+CIPMUX=", 1); err != nil {
		return err
	}
	if _, err := d.Exec(ctx, "+CIPDINFO=", 0); err != nil {
		return err
	}
	syslog := &Command{
		Name: "+SYSLOG=",
		Args: []any{1},
		hook: func(_ *Response, err error) {
			if err != nil {
				// older firmware has no AT+SYSLOG, ERR CODE lines are optional
				d.log.Warn("AT+SYSLOG not supported", zap.Error(err))
			}
			d.ready.Store(true)
			d.bus.dispatch(EventInitFinish{})
		},
	}
	f, err := d.Submit(ctx, syslog)
	if err != nil {
		return err
	}
	if _, err := f.WaitContext(ctx); err != nil && !isRejected(err) {
		return err
	}
	return nil
}

// checkVersion runs in the I/O loop on AT+GMR completion.
func (d *Device) checkVersion(resp *Response, err error) {
	if err != nil {
		return
	}
	v, ok := versionFromGMR(resp.Lines)
	if !ok {
		d.log.Warn("cannot parse firmware version", zap.Strings("lines", resp.Lines))
		return
	}
	d.setVersion(v)
	d.log.Info("firmware", zap.Stringer("version", v))
	if v.Less(d.cfg.MinVersion) {
		d.log.Warn("unsupported firmware version",
			zap.Stringer("min", d.cfg.MinVersion),
			zap.Stringer("current", v),
		)
		d.bus.dispatch(EventVersionNotSupported{Min: d.cfg.MinVersion, Current: v})
	}
}

// Reset resets the module (AT+RST) and waits for its "ready" message. All
// connections are dropped.
func (d *Device) Reset(ctx context.Context) error {
	_, err := d.ExecCommand(ctx, &Command{Name: "+RST"})
	return err
}

// Close stops the I/O loop and closes the transport if it implements
// io.Closer. Pending commands are resolved with ErrClosed.
func (d *Device) Close() error {
	d.quitOnce.Do(func() { close(d.quit) })
	var err error
	if c, ok := d.t.(io.Closer); ok {
		err = c.Close()
	}
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if running {
		<-d.done
	}
	return err
}
