package espwifi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/embeddedgo/espwifi/logging"
)

const errCodePrefix = "ERR CODE:"

// loop is the state of the I/O goroutine. Nothing here is shared with other
// goroutines.
type loop struct {
	d     *Device
	log   *zap.Logger
	p     Parser
	cur   *Command
	timer *time.Timer
	buf   []byte
}

func newLoop(d *Device) *loop {
	l := &loop{
		d:     d,
		log:   d.log,
		timer: time.NewTimer(time.Hour),
		buf:   make([]byte, 0, maxCmdLen),
	}
	l.timer.Stop()
	l.p.MaxLine = d.cfg.MaxLine
	l.p.MaxPayload = d.cfg.MaxPayload
	return l
}

func (l *loop) run(ctx context.Context) error {
	rx := make(chan []byte)
	rxErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go l.reader(rx, rxErr, stop)

	for {
		var (
			cmdq <-chan *Command
			tc   <-chan time.Time
			err  error
		)
		if l.cur == nil {
			cmdq = l.d.cmdq
		} else {
			tc = l.timer.C
		}
		select {
		case <-ctx.Done():
			l.shutdown(ErrClosed)
			return ctx.Err()
		case <-l.d.quit:
			l.shutdown(ErrClosed)
			return nil
		case c := <-cmdq:
			err = l.start(c)
		case p := <-rx:
			err = l.input(p)
		case err = <-rxErr:
			select {
			case <-l.d.quit:
				l.shutdown(ErrClosed)
				return nil
			default:
			}
			err = &TransportError{"read", err}
		case <-tc:
			l.timeout()
		}
		if err == nil {
			err = l.next()
		}
		if err != nil {
			l.fatal(err)
			return err
		}
	}
}

// reader moves raw chunks from the transport to the loop.
func (l *loop) reader(rx chan<- []byte, rxErr chan<- error, stop <-chan struct{}) {
	for {
		buf := make([]byte, l.d.cfg.ReadSize)
		n, err := l.d.t.Read(buf)
		if n > 0 {
			select {
			case rx <- buf[:n]:
			case <-stop:
				return
			}
		}
		if err != nil {
			rxErr <- err
			return
		}
	}
}

// next starts queued commands until one is in flight or the queue is empty.
func (l *loop) next() error {
	for l.cur == nil {
		select {
		case c := <-l.d.cmdq:
			if err := l.start(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *loop) start(c *Command) error {
	rule := l.d.cfg.Grammar.Rule(c.Name)
	c.ok, c.fail = c.OK, c.Fail
	if len(c.ok) == 0 {
		c.ok = rule.OK
	}
	if len(c.fail) == 0 {
		c.fail = rule.Fail
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Duration(rule.Timeout)
	}
	if timeout <= 0 {
		timeout = l.d.cfg.DefaultTimeout
	}

	switch c.linkOp {
	case linkOpen:
		id := l.d.conns.free()
		if id < 0 {
			l.finish(c, nil, ErrNoFreeConn)
			return nil
		}
		c.Args[0] = id
	case linkSend, linkClose:
		if !l.d.conns.current(c.link, StateConnected) {
			l.finish(c, nil, ErrUnknownConn)
			return nil
		}
	}
	buf, err := encodeCmd(l.buf[:0], c.Name, c.Args)
	l.buf = buf
	if err != nil {
		l.finish(c, nil, err)
		return nil
	}
	switch c.linkOp {
	case linkOpen:
		proto, _ := c.Args[1].(string)
		host, _ := c.Args[2].(string)
		port, _ := c.Args[3].(int)
		c.link = l.d.conns.open(l.d, c.Args[0].(int), RoleClient, proto,
			joinHostPort(host, strconv.Itoa(port)))
	case linkClose:
		l.d.conns.closing(c.link.id)
	}

	c.echo = string(buf[:len(buf)-2])
	l.cur = c
	l.timer.Reset(timeout)
	if ce := l.log.Check(zapcore.DebugLevel, "tx"); ce != nil {
		ce.Write(logging.Bytes("data", buf))
	}
	if _, err := l.d.t.Write(buf); err != nil {
		return &TransportError{"write", err}
	}
	return nil
}

func (l *loop) input(p []byte) error {
	if ce := l.log.Check(zapcore.DebugLevel, "rx"); ce != nil {
		ce.Write(logging.Bytes("data", p))
	}
	l.p.Write(p)
	for f, err := range l.p.Frames() {
		if err != nil {
			l.parseError(err)
			continue
		}
		switch f.Kind {
		case FrameLine:
			l.line(f.Line)
		case FrameData:
			l.data(f)
		case FramePrompt:
			if err := l.prompt(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loop) line(s string) {
	c := l.cur
	if c != nil && s == c.echo {
		return
	}
	if s == msgReady {
		l.reset()
		return
	}
	if c != nil {
		switch {
		case hasToken(c.ok, s):
			l.complete(c)
			return
		case hasToken(c.fail, s):
			l.finish(c, nil, &RejectedError{Token: s, Code: c.code, Lines: c.lines})
			return
		case strings.HasPrefix(s, errCodePrefix):
			c.code = strings.TrimSpace(s[len(errCodePrefix):])
			return
		}
	}
	if id, kind, ok := parseLink(s); ok {
		l.link(id, kind)
		return
	}
	if ev, ok, err := parseEvent(s); ok {
		if err != nil {
			l.log.Warn("malformed event", zap.String("line", s), zap.Error(err))
			return
		}
		l.d.bus.dispatch(ev)
		return
	}
	if c != nil && c.wantLine(s) {
		c.lines = append(c.lines, s)
		return
	}
	l.log.Debug("unmatched line", zap.String("line", s))
}

func (l *loop) complete(c *Command) {
	if c.perr != nil {
		// the response was damaged
		l.finish(c, nil, c.perr)
		return
	}
	resp := &Response{Lines: c.lines, Data: c.data}
	if c.linkOp == linkOpen {
		resp.Conn = c.link
	}
	l.finish(c, resp, nil)
}

// finish resolves c. It is the only place where commands are resolved.
func (l *loop) finish(c *Command, resp *Response, err error) {
	if c == l.cur {
		l.cur = nil
		l.timer.Stop()
	}
	if err != nil {
		err = &Error{l.d.name, c.Name, err}
	}
	l.linkDone(c, err)
	if c.hook != nil {
		c.hook(resp, err)
	}
	c.fut.resolve(resp, err)
}

// linkDone updates the connection table after a link command completed.
func (l *loop) linkDone(c *Command, err error) {
	if c.link == nil {
		return
	}
	t := &l.d.conns
	id := c.link.id
	switch c.linkOp {
	case linkOpen:
		if err == nil {
			if conn := t.connected(id); conn != nil {
				// OK before <id>,CONNECT
				l.d.bus.dispatch(EventConnActive{ID: id, Client: true, Conn: conn})
			}
			return
		}
		if t.current(c.link, StateConnecting) {
			t.release(id)
			l.d.bus.dispatch(EventConnError{ID: id, Err: err})
		}
	case linkClose:
		if t.current(c.link, StateClosing) {
			t.release(id)
			l.d.bus.dispatch(EventConnClosed{ID: id, Client: c.link.role == RoleClient})
		}
	}
}

func (l *loop) link(id int, kind linkKind) {
	t := &l.d.conns
	switch kind {
	case linkConnect:
		switch t.state(id) {
		case StateConnecting:
			c := t.connected(id)
			l.d.bus.dispatch(EventConnActive{ID: id, Client: c.role == RoleClient, Conn: c})
		case StateIdle:
			if !l.d.serverOn.Load() {
				// late CONNECT of a dial that timed out
				l.log.Warn("CONNECT with no server running", zap.Int("link", id))
				l.drop(id)
				return
			}
			c := t.open(l.d, id, RoleServer, "TCP", "")
			t.connected(id)
			select {
			case l.d.accepts <- c:
			default:
				l.log.Warn("accept queue full", zap.Int("link", id))
			}
			l.d.bus.dispatch(EventConnActive{ID: id, Client: false, Conn: c})
		default:
			l.log.Warn("CONNECT on active link", zap.Int("link", id))
		}
	case linkClosed, linkConnectFail:
		c, prev := t.release(id)
		switch {
		case c == nil:
			l.log.Debug("CLOSED on idle link", zap.Int("link", id))
		case prev == StateConnecting:
			l.d.bus.dispatch(EventConnError{ID: id, Err: ErrConnFailed})
		default:
			l.d.bus.dispatch(EventConnClosed{
				ID:     id,
				Client: c.role == RoleClient,
				Forced: prev != StateClosing,
			})
		}
	}
}

// drop closes the modem side of a link that nobody owns. The loop cannot
// queue commands itself so the AT+CIPCLOSE is submitted from a goroutine.
func (l *loop) drop(id int) {
	d, log := l.d, l.log
	go func() {
		if _, err := d.Exec(context.Background(), "+CIPCLOSE=", id); err != nil {
			log.Warn("closing orphan link", zap.Int("link", id), zap.Error(err))
		}
	}()
}

func (l *loop) data(f Frame) {
	if f.Recv {
		c := l.cur
		if c == nil || family(c.Name) != "+CIPRECVDATA" {
			l.log.Warn("unclaimed +CIPRECVDATA", zap.Int("len", len(f.Data)))
			return
		}
		if c.recv != nil {
			n := copy(c.recv, f.Data)
			c.data = c.recv[:n]
		} else {
			c.data = f.Data
		}
		return
	}
	id := f.Conn
	if id < 0 {
		id = 0
	}
	c := l.d.conns.lookup(id)
	if c == nil {
		l.log.Warn("data for idle link dropped", zap.Int("link", id), zap.Int("len", len(f.Data)))
		return
	}
	c.push(f.Data)
	l.d.bus.dispatch(EventConnData{ID: id, Data: f.Data, Remote: f.Remote})
}

func (l *loop) prompt() error {
	c := l.cur
	if c == nil || c.Payload == nil || c.sent {
		l.log.Debug("unexpected prompt")
		return nil
	}
	c.sent = true
	if ce := l.log.Check(zapcore.DebugLevel, "tx payload"); ce != nil {
		ce.Write(logging.Bytes("data", c.Payload))
	}
	if _, err := l.d.t.Write(c.Payload); err != nil {
		return &TransportError{"write", err}
	}
	return nil
}

func (l *loop) parseError(err error) {
	var pe *ParseError
	if !errors.As(err, &pe) {
		pe = &ParseError{Offset: -1, Reason: err.Error()}
	}
	l.log.Warn("parse error", zap.Error(pe))
	if c := l.cur; c != nil && c.perr == nil {
		c.perr = pe
	}
	l.d.bus.dispatch(EventParseError{pe})
}

// reset handles the "ready" message.
func (l *loop) reset() {
	c := l.cur
	requested := c != nil && hasToken(c.ok, msgReady)
	for _, conn := range l.d.conns.releaseAll() {
		l.d.bus.dispatch(EventConnClosed{ID: conn.id, Client: conn.role == RoleClient, Forced: true})
	}
	l.d.serverOn.Store(false)
	l.d.ready.Store(true)
	l.log.Info("module ready", zap.Bool("requested", requested))
	l.d.bus.dispatch(EventResetDetected{Requested: requested})
	if requested {
		c.perr = nil // boot messages
		l.complete(c)
	}
}

func (l *loop) timeout() {
	c := l.cur
	if c == nil {
		return
	}
	l.log.Warn("command timeout", zap.String("cmd", c.echo))
	l.finish(c, nil, ErrTimeout)
}

// fatal stops the device after a transport failure.
func (l *loop) fatal(err error) {
	l.log.Error("transport failure", zap.Error(err))
	l.shutdown(err)
	l.d.bus.dispatch(EventTransportError{Err: err})
}

// shutdown resolves the in-flight and queued commands with err and drops
// all connections.
func (l *loop) shutdown(err error) {
	if c := l.cur; c != nil {
		l.finish(c, nil, err)
	}
queued:
	for {
		select {
		case c := <-l.d.cmdq:
			l.finish(c, nil, err)
		default:
			break queued
		}
	}
	for _, conn := range l.d.conns.releaseAll() {
		l.d.bus.dispatch(EventConnClosed{ID: conn.id, Client: conn.role == RoleClient, Forced: true})
	}
}

func isRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
