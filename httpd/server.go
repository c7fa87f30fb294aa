// Package httpd implements a small HTTP server for ESP-AT devices with
// CGI handlers, server side includes and POST callbacks.
package httpd

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Param is a single name=value pair of a CGI request.
type Param struct {
	Name  string
	Value string
}

// CGI maps a request path to a handler. The handler receives the query
// parameters in request order and returns the path of the file sent as the
// response.
type CGI struct {
	Path    string
	Handler func(params []Param) string
}

// SSIFunc writes the replacement of the SSI tag <!--#tag--> to w.
type SSIFunc func(w io.Writer, tag string)

// PostChunk is the size of the chunks passed to Server.PostData.
const PostChunk = 512

// Server is an http.Handler that serves files from FS. Every field is
// optional.
type Server struct {
	FS  fs.FS
	CGI []CGI
	SSI SSIFunc

	// POST requests are accepted only if PostStart is set. PostData
	// receives the body in chunks of at most PostChunk bytes and PostEnd
	// is called after the last one. A PostStart or PostData error ends the
	// request with 500 Internal Server Error.
	PostStart func(uri string, contentLength int64) error
	PostData  func(chunk []byte) error
	PostEnd   func() error

	Logger *zap.Logger
}

var (
	indexFiles = []string{"index.shtml", "index.html", "index.htm"}
	ssiExts    = []string{".shtml", ".shtm", ".ssi"}
)

const (
	notFoundFile = "404.html"
	ssiStart     = "<!--#"
	ssiEnd       = "-->"
)

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log().With(zap.String("method", r.Method), zap.String("uri", r.RequestURI))
	name := r.URL.Path
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if s.PostStart == nil {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.post(r); err != nil {
			log.Warn("POST failed", zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for _, cgi := range s.CGI {
		if cgi.Path == name {
			params := parseParams(r.URL.RawQuery)
			name = cgi.Handler(params)
			log.Debug("CGI", zap.Int("params", len(params)), zap.String("file", name))
			break
		}
	}
	s.serveFile(w, r, name, log)
}

func (s *Server) post(r *http.Request) error {
	if err := s.PostStart(r.URL.Path, r.ContentLength); err != nil {
		return err
	}
	if s.PostData != nil {
		buf := make([]byte, PostChunk)
		for {
			n, err := io.ReadFull(r.Body, buf)
			if n > 0 {
				if err := s.PostData(buf[:n]); err != nil {
					return err
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				return err
			}
		}
	}
	if s.PostEnd != nil {
		return s.PostEnd()
	}
	return nil
}

// parseParams decodes a query string keeping the parameter order.
func parseParams(query string) []Param {
	var params []Param
	for query != "" {
		var kv string
		kv, query, _ = strings.Cut(query, "&")
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		params = append(params, Param{k, v})
	}
	return params
}

func (s *Server) open(name string) (string, []byte, error) {
	if s.FS == nil {
		return "", nil, fs.ErrNotExist
	}
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "."
	}
	if fi, err := fs.Stat(s.FS, name); err == nil && fi.IsDir() {
		for _, index := range indexFiles {
			p := path.Join(name, index)
			if data, err := fs.ReadFile(s.FS, p); err == nil {
				return p, data, nil
			}
		}
		return "", nil, fs.ErrNotExist
	}
	data, err := fs.ReadFile(s.FS, name)
	return name, data, err
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string, log *zap.Logger) {
	status := http.StatusOK
	p, data, err := s.open(name)
	if errors.Is(err, fs.ErrNotExist) {
		status = http.StatusNotFound
		p, data, err = s.open(notFoundFile)
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
	}
	if err != nil {
		log.Warn("cannot read file", zap.String("file", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	ext := path.Ext(p)
	ssi := s.SSI != nil && hasExt(ssiExts, ext)
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		if ssi {
			ctype = "text/html; charset=utf-8"
		} else {
			ctype = http.DetectContentType(data)
		}
	}
	w.Header().Set("Content-Type", ctype)
	if ssi {
		var buf bytes.Buffer
		s.render(&buf, data)
		data = buf.Bytes()
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

func hasExt(exts []string, ext string) bool {
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// render copies page to w replacing SSI tags with the SSI callback output.
// A tag without the closing "-->" is copied as is.
func (s *Server) render(w *bytes.Buffer, page []byte) {
	for {
		i := bytes.Index(page, []byte(ssiStart))
		if i < 0 {
			w.Write(page)
			return
		}
		j := bytes.Index(page[i+len(ssiStart):], []byte(ssiEnd))
		if j < 0 {
			w.Write(page)
			return
		}
		w.Write(page[:i])
		tag := string(page[i+len(ssiStart) : i+len(ssiStart)+j])
		s.SSI(w, strings.TrimSpace(tag))
		page = page[i+len(ssiStart)+j+len(ssiEnd):]
	}
}
