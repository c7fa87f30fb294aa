package espwifi

import (
	"bytes"
	"iter"
	"strconv"
	"strings"
)

// FrameKind classifies frames produced by Parser.
type FrameKind uint8

const (
	FrameLine   FrameKind = iota + 1 // CRLF terminated text line
	FrameData                        // +IPD or +CIPRECVDATA binary payload
	FramePrompt                      // ">" ready-to-send marker
)

func (k FrameKind) String() string {
	switch k {
	case FrameLine:
		return "line"
	case FrameData:
		return "data"
	case FramePrompt:
		return "prompt"
	}
	return "unknown"
}

// Frame is a single unit of ESP-AT output.
//
// For FrameData the Conn field is the link ID (-1 in single connection mode
// and for +CIPRECVDATA) and Recv is true if the data is a +CIPRECVDATA
// response. Data is owned by the receiver.
type Frame struct {
	Kind   FrameKind
	Line   string
	Conn   int
	Recv   bool
	Remote string
	Data   []byte
}

// Default limits used by a zero Parser.
const (
	DefaultMaxLine    = 1024
	DefaultMaxPayload = 8192

	maxHeader = 64 // "+IPD,<id>,<len>,"<ipv6>",<port>:"
)

var (
	crlf         = []byte("\r\n")
	ipdMarker    = []byte("+IPD,")
	recvMarker   = []byte("+CIPRECVDATA:")
	errBadHeader = "malformed data header"
)

// Parser splits an append-only ESP-AT byte stream into frames. Feed it with
// Write and drain it with Next (or Frames). Partial frames are kept between
// calls so the produced frame sequence does not depend on how the stream
// was split into writes.
type Parser struct {
	MaxLine    int // longest accepted text line, DefaultMaxLine if 0
	MaxPayload int // largest accepted binary payload, DefaultMaxPayload if 0

	buf      []byte
	off      int
	pos      int64 // stream offset of buf[off]
	skip     bool  // resynchronising: drop input up to the next CRLF
	prompted bool  // one space after a prompt is swallowed
}

// Write appends p to the parser input. It never fails.
func (p *Parser) Write(b []byte) (int, error) {
	if p.off > 0 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
	p.buf = append(p.buf, b...)
	return len(b), nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.off
}

// Reset discards all buffered input and parser state.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.off = 0
	p.skip = false
	p.prompted = false
}

func (p *Parser) advance(n int) {
	p.off += n
	p.pos += int64(n)
	if p.off == len(p.buf) {
		p.buf = p.buf[:0]
		p.off = 0
	}
}

func (p *Parser) fail(reason string) error {
	err := &ParseError{Offset: p.pos, Reason: reason}
	p.skip = true
	return err
}

func (p *Parser) limits() (maxLine, maxPayload int) {
	maxLine, maxPayload = p.MaxLine, p.MaxPayload
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return
}

// Next returns the next complete frame. It returns ErrIncomplete if the
// buffered input does not contain a complete frame and a *ParseError for a
// malformed one. After a *ParseError the parser skips to the next line
// boundary so Next may be called again.
func (p *Parser) Next() (Frame, error) {
	maxLine, maxPayload := p.limits()
	for {
		b := p.buf[p.off:]
		if p.skip {
			i := bytes.Index(b, crlf)
			if i < 0 {
				n := len(b)
				if n > 0 && b[n-1] == '\r' {
					n-- // CRLF may be split between writes
				}
				p.advance(n)
				return Frame{}, ErrIncomplete
			}
			p.advance(i + 2)
			p.skip = false
			continue
		}
		if len(b) == 0 {
			return Frame{}, ErrIncomplete
		}
		if p.prompted {
			p.prompted = false
			if b[0] == ' ' {
				p.advance(1)
				continue
			}
		}
		switch b[0] {
		case '\r':
			if len(b) < 2 {
				return Frame{}, ErrIncomplete
			}
			if b[1] == '\n' {
				p.advance(2) // empty line
				continue
			}
		case '>':
			p.advance(1)
			p.prompted = true
			return Frame{Kind: FramePrompt}, nil
		case '+':
			f, n, err := p.binary(b, maxPayload)
			if err != nil || n > 0 {
				if n > 0 {
					p.advance(n)
				}
				return f, err
			}
			if n < 0 {
				return Frame{}, ErrIncomplete
			}
			// n == 0: an ordinary text line
		}
		i := bytes.Index(b, crlf)
		if i < 0 {
			if len(b) > maxLine+1 {
				return Frame{}, p.fail("line too long")
			}
			return Frame{}, ErrIncomplete
		}
		if i > maxLine {
			err := &ParseError{Offset: p.pos, Reason: "line too long"}
			p.advance(i + 2)
			return Frame{}, err
		}
		line := string(b[:i])
		p.advance(i + 2)
		return Frame{Kind: FrameLine, Line: line}, nil
	}
}

// binary decodes a binary frame at the beginning of b. It returns n > 0 for
// a complete frame, n < 0 if more input is needed and n == 0 if b starts
// an ordinary text line.
func (p *Parser) binary(b []byte, maxPayload int) (f Frame, n int, err error) {
	var marker []byte
	switch {
	case hasPartialPrefix(b, ipdMarker):
		marker = ipdMarker
	case hasPartialPrefix(b, recvMarker):
		marker = recvMarker
	default:
		return
	}
	if len(b) < len(marker) {
		return f, -1, nil
	}
	recv := len(marker) == len(recvMarker)
	term := byte(':')
	if recv {
		term = ','
	}
	quoted := false
	j := len(marker)
	for ; j < len(b); j++ {
		c := b[j]
		if j >= maxHeader {
			return f, 0, p.fail(errBadHeader)
		}
		if c == '"' {
			quoted = !quoted
			continue
		}
		if quoted {
			continue
		}
		if c == term {
			break
		}
		if c == '\r' {
			if j+1 == len(b) {
				return f, -1, nil
			}
			if b[j+1] == '\n' && !recv {
				return f, 0, nil // "+IPD,<id>,<len>" passive mode notification
			}
			return f, 0, p.fail(errBadHeader)
		}
	}
	if j == len(b) {
		return f, -1, nil
	}
	f.Kind = FrameData
	f.Conn = -1
	f.Recv = recv
	m, ok := 0, false
	if recv {
		m, ok = atoiStrict(b[len(marker):j])
	} else {
		m, ok = p.ipdHeader(&f, b[len(marker):j])
	}
	if !ok {
		return Frame{}, 0, p.fail(errBadHeader)
	}
	if m <= 0 || m > maxPayload {
		return Frame{}, 0, p.fail("payload length out of range")
	}
	end := j + 1 + m
	if len(b) < end {
		return Frame{}, -1, nil
	}
	f.Data = append([]byte(nil), b[j+1:end]...)
	return f, end, nil
}

// ipdHeader parses "<len>", "<id>,<len>", "<len>,<ip>,<port>" or
// "<id>,<len>,<ip>,<port>".
func (p *Parser) ipdHeader(f *Frame, h []byte) (int, bool) {
	fields := splitFields(string(h))
	switch len(fields) {
	case 2, 4:
		id, ok := atoiStrict([]byte(fields[0]))
		if !ok || id >= MaxConns {
			return 0, false
		}
		f.Conn = id
		fields = fields[1:]
	case 1, 3:
	default:
		return 0, false
	}
	m, ok := atoiStrict([]byte(fields[0]))
	if !ok {
		return 0, false
	}
	if len(fields) == 3 {
		port, ok := atoiStrict([]byte(fields[2]))
		if !ok {
			return 0, false
		}
		f.Remote = joinHostPort(unquote(fields[1]), strconv.Itoa(port))
	}
	return m, true
}

// Frames returns an iterator over the frames decodable from the currently
// buffered input. The iteration stops when more input is required.
func (p *Parser) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := p.Next()
			if err == ErrIncomplete {
				return
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

func hasPartialPrefix(b, marker []byte) bool {
	if len(b) < len(marker) {
		return bytes.HasPrefix(marker, b)
	}
	return bytes.HasPrefix(b, marker)
}

// atoiStrict accepts only non-empty decimal numbers.
func atoiStrict(b []byte) (int, bool) {
	if len(b) == 0 || len(b) > 9 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func joinHostPort(host, port string) string {
	if strings.IndexByte(host, ':') >= 0 {
		return "[" + host + "]:" + port
	}
	return host + ":" + port
}
