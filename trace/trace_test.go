package trace

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/espwifi"
)

type loopback struct {
	rx *bytes.Reader
	tx bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.rx.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.tx.Write(p) }

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	l := &loopback{rx: bytes.NewReader([]byte("\r\nOK\r\n"))}
	r := NewRecorder(l, &buf)
	start := time.Now()

	_, err := io.WriteString(r, "AT\r\n")
	require.NoError(t, err)
	p := make([]byte, 4)
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = r.Read(p)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, r.Err())
	require.NoError(t, r.Close())
	assert.Equal(t, "AT\r\n", l.tx.String())

	tr := NewReader(&buf)
	want := []struct {
		dir  Dir
		data string
	}{{TX, "AT\r\n"}, {RX, "\r\nOK"}, {RX, "\r\n"}}
	for i, w := range want {
		rec, err := tr.Next()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.Equal(t, w.dir, rec.Dir)
		assert.Equal(t, w.data, string(rec.Data))
		assert.Equal(t, r.Session(), rec.Session)
		assert.False(t, rec.Time.Before(start.Add(-time.Second)))
	}
	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorderTraceError(t *testing.T) {
	l := &loopback{rx: bytes.NewReader([]byte("ready\r\n"))}
	r := NewRecorder(l, failWriter{})
	n, err := r.Write([]byte("AT\r\n"))
	require.NoError(t, err, "traffic is not affected")
	assert.Equal(t, 4, n)
	assert.EqualError(t, r.Err(), "disk full")

	p := make([]byte, 16)
	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ready\r\n", string(p[:n]))
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	l := &loopback{rx: bytes.NewReader([]byte("+IPD,0,5:hello\r\nOK\r\n0,CLOSED\r\n"))}
	r := NewRecorder(l, &buf)
	_, err := io.WriteString(r, "AT+CIPCLOSE=0\r\n")
	require.NoError(t, err)
	p := make([]byte, 3)
	for {
		if _, err := r.Read(p); err != nil {
			require.Equal(t, io.EOF, err)
			break
		}
	}

	var (
		tx     []string
		frames []espwifi.Frame
	)
	err = Replay(&buf, func(rec Record, f espwifi.Frame, err error) error {
		require.NoError(t, err)
		if rec.Dir == TX {
			tx = append(tx, string(rec.Data))
			return nil
		}
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AT+CIPCLOSE=0\r\n"}, tx)
	assert.Equal(t, []espwifi.Frame{
		{Kind: espwifi.FrameData, Conn: 0, Data: []byte("hello")},
		{Kind: espwifi.FrameLine, Line: "OK"},
		{Kind: espwifi.FrameLine, Line: "0,CLOSED"},
	}, frames)
}

func TestReplaySessions(t *testing.T) {
	var buf bytes.Buffer
	em := encMode.NewEncoder(&buf)
	a, b := uuid.New(), uuid.New()
	for i, rec := range []Record{
		{Dir: RX, Session: a, Data: []byte("rea")},
		{Dir: RX, Session: b, Data: []byte("OK\r\n")},
		{Dir: RX, Session: a, Data: []byte("dy\r\n")},
	} {
		rec.Seq = uint64(i + 1)
		require.NoError(t, em.Encode(rec))
	}
	var lines []string
	err := Replay(&buf, func(rec Record, f espwifi.Frame, err error) error {
		require.NoError(t, err)
		lines = append(lines, f.Line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OK", "ready"}, lines)
}

func TestReplayErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, encMode.NewEncoder(&buf).Encode(Record{Seq: 1, Dir: RX, Data: []byte("+IPD,0,0:\r\nOK\r\n")}))
	data := buf.Bytes()

	var errs, lines int
	err := Replay(bytes.NewReader(data), func(rec Record, f espwifi.Frame, err error) error {
		if err != nil {
			assert.ErrorIs(t, err, espwifi.ErrParse)
			errs++
		} else {
			lines++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, lines)

	stop := errors.New("stop")
	err = Replay(bytes.NewReader(data), func(Record, espwifi.Frame, error) error { return stop })
	assert.Equal(t, stop, err)

	err = Replay(bytes.NewReader(data[:len(data)-3]), func(Record, espwifi.Frame, error) error { return nil })
	assert.Error(t, err, "truncated trace")
}

func TestDirString(t *testing.T) {
	assert.Equal(t, "rx", RX.String())
	assert.Equal(t, "tx", TX.String())
	assert.Equal(t, "?", Dir(0).String())
}
