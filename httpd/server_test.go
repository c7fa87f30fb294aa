package httpd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFS = fstest.MapFS{
	"index.shtml":     {Data: []byte("<title><!--#title--></title><p><!--#led_status--></p>")},
	"index.html":      {Data: []byte("<p>plain</p>")},
	"plain.html":      {Data: []byte("<p><!--#title--></p>")},
	"broken.shtml":    {Data: []byte("a<!--#title")},
	"css/site.css":    {Data: []byte("body{}")},
	"docs/index.html": {Data: []byte("docs")},
}

func ssi(w io.Writer, tag string) {
	switch tag {
	case "title":
		io.WriteString(w, "ESP SSI TITLE")
	case "led_status":
		io.WriteString(w, "Led is on")
	}
}

func get(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, body))
	return w
}

func TestServeSSI(t *testing.T) {
	s := &Server{FS: testFS, SSI: ssi}
	w := get(t, s, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "<title>ESP SSI TITLE</title><p>Led is on</p>", w.Body.String())

	// tags are expanded in .shtml files only
	w = get(t, s, "GET", "/plain.html", nil)
	assert.Equal(t, "<p><!--#title--></p>", w.Body.String())

	w = get(t, s, "GET", "/broken.shtml", nil)
	assert.Equal(t, "a<!--#title", w.Body.String())

	w = get(t, s, "GET", "/docs/", nil)
	assert.Equal(t, "docs", w.Body.String())

	w = get(t, s, "HEAD", "/css/site.css", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Empty(t, w.Body.String())

	// without SSI callback .shtml files are sent unchanged
	w = get(t, &Server{FS: testFS}, "GET", "/index.shtml", nil)
	assert.Equal(t, string(testFS["index.shtml"].Data), w.Body.String())
}

func TestNotFound(t *testing.T) {
	s := &Server{FS: testFS}
	w := get(t, s, "GET", "/missing.html", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	fsys := fstest.MapFS{"404.html": {Data: []byte("custom 404")}}
	w = get(t, &Server{FS: fsys}, "GET", "/missing.html", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "custom 404", w.Body.String())

	w = get(t, &Server{}, "GET", "/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCGI(t *testing.T) {
	var got []Param
	s := &Server{
		FS:  testFS,
		SSI: ssi,
		CGI: []CGI{
			{"/led.cgi", func(params []Param) string {
				got = params
				return "/index.shtml"
			}},
			{"/usart.cgi", func([]Param) string { return "/index.html" }},
		},
	}
	w := get(t, s, "GET", "/led.cgi?led=on&b=2&led=off&msg=a%20b&flag", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []Param{{"led", "on"}, {"b", "2"}, {"led", "off"}, {"msg", "a b"}, {"flag", ""}}, got)
	assert.Equal(t, "<title>ESP SSI TITLE</title><p>Led is on</p>", w.Body.String())

	w = get(t, s, "GET", "/usart.cgi", nil)
	assert.Equal(t, "<p>plain</p>", w.Body.String())
}

func TestPost(t *testing.T) {
	var log []string
	body := strings.Repeat("x", 2*PostChunk+10)
	s := &Server{
		FS: testFS,
		PostStart: func(uri string, n int64) error {
			log = append(log, fmt.Sprintf("start %s %d", uri, n))
			return nil
		},
		PostData: func(p []byte) error {
			log = append(log, fmt.Sprintf("data %d", len(p)))
			return nil
		},
		PostEnd: func() error {
			log = append(log, "end")
			return nil
		},
	}
	w := get(t, s, "POST", "/index.html", strings.NewReader(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<p>plain</p>", w.Body.String())
	assert.Equal(t, []string{
		fmt.Sprintf("start /index.html %d", len(body)),
		"data 512", "data 512", "data 10", "end",
	}, log)

	log = nil
	w = get(t, s, "POST", "/upload", strings.NewReader(""))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"start /upload 0", "end"}, log)
}

func TestPostErrors(t *testing.T) {
	w := get(t, &Server{FS: testFS}, "POST", "/index.html", strings.NewReader("x"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	s := &Server{
		FS:        testFS,
		PostStart: func(string, int64) error { return nil },
		PostData:  func([]byte) error { return errors.New("disk full") },
	}
	w = get(t, s, "POST", "/index.html", strings.NewReader("x"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = get(t, s, "DELETE", "/index.html", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD, POST", w.Header().Get("Allow"))
}

func TestParseParams(t *testing.T) {
	assert.Nil(t, parseParams(""))
	assert.Equal(t, []Param{{"a", "1"}, {"b", "%zz"}}, parseParams("a=1&&b=%zz"))
	require.Len(t, parseParams("x=y+z"), 1)
	assert.Equal(t, "y z", parseParams("x=y+z")[0].Value)
}
