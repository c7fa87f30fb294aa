package espwifi

import (
	"context"
	"io"
	"sync"
)

// MaxConns is the number of links supported by ESP-AT in multiple
// connection mode. The parser assumes a link ID is a single digit.
const MaxConns = 5

// State is the state of a link.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Role tells who opened a connection.
type Role uint8

const (
	RoleClient Role = iota + 1 // opened by Dial
	RoleServer                 // accepted by the ESP-AT server
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	}
	return "none"
}

// ConnInfo is a snapshot of a link.
type ConnInfo struct {
	ID         int
	State      State
	Role       Role
	Proto      string
	Remote     string
	Generation uint64
}

// Conn is a single session on a link. A link ID reused after the previous
// session was closed gets a new Conn so data of the old session never
// reaches the new one.
type Conn struct {
	id     int
	gen    uint64
	role   Role
	proto  string
	remote string
	dev    *Device

	mu     sync.Mutex
	queue  [][]byte
	eof    bool
	notify chan struct{}
	closed chan struct{}
}

func newConn(d *Device, id int, gen uint64, role Role, proto, remote string) *Conn {
	return &Conn{
		id:     id,
		gen:    gen,
		role:   role,
		proto:  proto,
		remote: remote,
		dev:    d,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// ID returns the link ID.
func (c *Conn) ID() int { return c.id }

// Role returns the role of the session.
func (c *Conn) Role() Role { return c.role }

// Proto returns "TCP", "UDP" or "SSL".
func (c *Conn) Proto() string { return c.proto }

// Remote returns the remote address if known.
func (c *Conn) Remote() string { return c.remote }

// Generation returns the session number. It grows with every session opened
// on the device.
func (c *Conn) Generation() uint64 { return c.gen }

// Closed returns a channel that is closed when the session ends.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Recv returns the next chunk of received data. It returns io.EOF after the
// session was closed and all received data was consumed.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if len(c.queue) != 0 {
			p := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return p, nil
		}
		eof := c.eof
		c.mu.Unlock()
		if eof {
			return nil, io.EOF
		}
		select {
		case <-c.notify:
		case <-c.closed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Send sends p over the session. See Device.Send.
func (c *Conn) Send(ctx context.Context, p []byte) error {
	return c.dev.send(ctx, c, p)
}

// Close closes the session. See Device.CloseConn.
func (c *Conn) Close(ctx context.Context) error {
	return c.dev.closeConn(ctx, c)
}

func (c *Conn) push(p []byte) {
	c.mu.Lock()
	if c.eof {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, p)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) shut() {
	c.mu.Lock()
	if c.eof {
		c.mu.Unlock()
		return
	}
	c.eof = true
	c.mu.Unlock()
	close(c.closed)
}

type slot struct {
	state State
	conn  *Conn
}

// connTable maps link IDs to sessions. All mutating methods are called by
// the I/O loop only, readers use Conns and ConnState.
type connTable struct {
	mu    sync.RWMutex
	slots [MaxConns]slot
	gen   uint64
}

func (t *connTable) info(id int) ConnInfo {
	s := t.slots[id]
	ci := ConnInfo{ID: id, State: s.state}
	if c := s.conn; c != nil {
		ci.Role = c.role
		ci.Proto = c.proto
		ci.Remote = c.remote
		ci.Generation = c.gen
	}
	return ci
}

func (t *connTable) snapshot() []ConnInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cis := make([]ConnInfo, MaxConns)
	for id := range t.slots {
		cis[id] = t.info(id)
	}
	return cis
}

func (t *connTable) state(id int) State {
	if uint(id) >= MaxConns {
		return StateIdle
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[id].state
}

// lookup returns the session on id, nil if the link is idle.
func (t *connTable) lookup(id int) *Conn {
	if uint(id) >= MaxConns {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[id].conn
}

// current reports whether c is the live session of its link in one of the
// states.
func (t *connTable) current(c *Conn, states ...State) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slots[c.id]
	if s.conn != c {
		return false
	}
	for _, st := range states {
		if s.state == st {
			return true
		}
	}
	return false
}

// free returns the lowest idle link ID or -1.
func (t *connTable) free() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, s := range t.slots {
		if s.state == StateIdle {
			return id
		}
	}
	return -1
}

// open moves an idle link to CONNECTING with a new session.
func (t *connTable) open(d *Device, id int, role Role, proto, remote string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if s.state != StateIdle {
		return nil
	}
	t.gen++
	s.conn = newConn(d, id, t.gen, role, proto, remote)
	s.state = StateConnecting
	return s.conn
}

// connected moves a CONNECTING link to CONNECTED.
func (t *connTable) connected(id int) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if s.state != StateConnecting {
		return nil
	}
	s.state = StateConnected
	return s.conn
}

// closing moves a CONNECTED link to CLOSING.
func (t *connTable) closing(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if s.state != StateConnected {
		return false
	}
	s.state = StateClosing
	return true
}

// release returns a link to IDLE and ends its session. It returns the ended
// session and the state the link was in.
func (t *connTable) release(id int) (*Conn, State) {
	t.mu.Lock()
	s := &t.slots[id]
	c, prev := s.conn, s.state
	*s = slot{}
	t.mu.Unlock()
	if c != nil {
		c.shut()
	}
	return c, prev
}

// releaseAll returns every link to IDLE. It returns the ended sessions.
func (t *connTable) releaseAll() []*Conn {
	var cs []*Conn
	for id := range t.slots {
		if c, _ := t.release(id); c != nil {
			cs = append(cs, c)
		}
	}
	return cs
}
