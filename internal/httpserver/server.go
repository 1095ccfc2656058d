// Package httpserver routes requests to the upload, download, thumbnail,
// WebDAV, and static handlers, enforcing the auth gate and size limits.
package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/net/webdav"

	"airlift/internal/archive"
	"airlift/internal/listing"
	"airlift/internal/logger"
	"airlift/internal/multipart"
	"airlift/internal/sandbox"
)

const (
	uploadSuffix   = "/__upload"
	downloadSuffix = "/__download"
	thumbSuffix    = "/__thumb"
	davPrefix      = "/__dav"
	healthPath     = "/__healthz"

	// maxUploadBytes is the combined per-request upload ceiling.
	maxUploadBytes = 500 << 20
	// maxDownloadBody bounds the JSON file-list body.
	maxDownloadBody = 1 << 20
)

type Options struct {
	Root *sandbox.Root
	// Credential is an optional "user:pass" pair.
	Credential string
	// StateDir holds the thumbnail cache; empty disables caching.
	StateDir string
	// MaxUploadBytes overrides the upload ceiling; zero keeps the
	// 500 MiB default.
	MaxUploadBytes int64
}

// Server dispatches requests by method and path pattern. It is safe for
// concurrent use; all mutable state lives per request.
type Server struct {
	root      *sandbox.Root
	cred      *credential
	stateDir  string
	maxUpload int64
	builder   *archive.Builder
	dav       *webdav.Handler
}

func New(opts Options) (*Server, error) {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = maxUploadBytes
	}
	s := &Server{
		root:      opts.Root,
		stateDir:  opts.StateDir,
		maxUpload: maxUpload,
		builder:   &archive.Builder{Root: opts.Root},
		dav: &webdav.Handler{
			Prefix:     davPrefix,
			FileSystem: webdav.Dir(opts.Root.Dir()),
			LockSystem: webdav.NewMemLS(),
		},
	}
	if opts.Credential != "" {
		cred, err := newCredential(opts.Credential)
		if err != nil {
			return nil, err
		}
		s.cred = cred
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == healthPath {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
		return
	}

	// The auth gate runs before any routing or filesystem work.
	if s.cred != nil && !s.cred.check(r) {
		challenge(w)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	switch {
	case r.URL.Path == davPrefix || strings.HasPrefix(r.URL.Path, davPrefix+"/"):
		s.handleDAV(rec, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, uploadSuffix):
		s.handleUpload(rec, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, downloadSuffix):
		s.handleDownload(rec, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, thumbSuffix):
		s.handleThumb(rec, r)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		s.handleStatic(rec, r)
	default:
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
	}
	logger.Debug("%d %s %s %s", rec.code, r.Method, r.URL.Path, remoteIP(r))
}

// handleDAV serves a read-only WebDAV view for native OS clients.
func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
		s.dav.ServeHTTP(w, r)
	default:
		http.Error(w, "read-only", http.StatusForbidden)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// EscapedPath: net/http already decoded URL.Path once, and Resolve
	// decodes once itself.
	dir, err := sandbox.Resolve(s.root, strings.TrimSuffix(r.URL.EscapedPath(), uploadSuffix))
	if err != nil {
		s.sandboxError(w, r, err)
		return
	}
	st, err := os.Stat(dir.Abs())
	if err != nil || !st.IsDir() {
		http.Error(w, "not a directory", http.StatusBadRequest)
		return
	}

	boundary, ok := multipart.Boundary(r.Header.Get("Content-Type"))
	if !ok {
		http.Error(w, "missing boundary", http.StatusBadRequest)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, humanize.IBytes(uint64(s.maxUpload))+" max", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	parts := multipart.Parse(body, boundary)
	if len(parts) == 0 {
		http.Error(w, "no file in upload", http.StatusBadRequest)
		return
	}
	elapsed := time.Since(start)

	for _, part := range parts {
		safe := sanitizeFilename(part.Filename)
		if safe == "" || safe == "." || safe == ".." {
			logger.Warn("upload: rejecting filename %q", part.Filename)
			continue
		}
		if err := s.writePart(dir, safe, part.Data); err != nil {
			logger.Warn("upload: %s: %v", safe, err)
			continue
		}
		logger.Info("upload %s (%s at %s)", safe,
			humanize.IBytes(uint64(len(part.Data))), speed(len(part.Data), elapsed))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

// writePart stages the payload next to its destination and renames it into
// place, overwriting any existing file of the same name. The destination
// parent is re-validated after sanitization; the sandbox check in Resolve
// alone does not cover the joined filename.
func (s *Server) writePart(dir sandbox.Path, name string, data []byte) error {
	dest := filepath.Join(dir.Abs(), name)
	parent, err := filepath.EvalSymlinks(filepath.Dir(dest))
	if err != nil {
		return err
	}
	if !s.root.Contains(parent) {
		return errors.New("destination outside root")
	}
	tmp := filepath.Join(parent, ".airlift-"+uuid.NewString()+".part")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDownloadBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	files := extractFileList(string(body), "files")
	if len(files) == 0 {
		http.Error(w, "no files specified", http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := s.builder.Build(&buf, files); err != nil {
		logger.Error("archive build: %v", err)
		http.Error(w, "zip creation failed", http.StatusInternalServerError)
		return
	}

	logger.Info("download zip (%s)", humanize.IBytes(uint64(buf.Len())))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="airlift-download.zip"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	p, err := sandbox.Resolve(s.root, r.URL.EscapedPath())
	if err != nil {
		s.notFound(w, r)
		return
	}
	st, err := os.Stat(p.Abs())
	if err != nil {
		s.notFound(w, r)
		return
	}

	if st.IsDir() {
		index := filepath.Join(p.Abs(), "index.html")
		if ist, err := os.Stat(index); err == nil && ist.Mode().IsRegular() {
			s.serveFile(w, r, index, ist, "text/html; charset=utf-8")
			return
		}
		ents, err := listing.List(p)
		if err != nil {
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		s.writeListing(w, r, p, ents)
		return
	}

	s.serveFile(w, r, p.Abs(), st, contentTypeFor(st.Name()))
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, abs string, st os.FileInfo, contentType string) {
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, dir sandbox.Path, ents []listing.Entry) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.Method == http.MethodHead {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]any{
		"path":    "/" + dir.Rel(),
		"entries": ents,
	})
}

// notFound echoes the originally requested path, matching the behavior
// clients scrape for missing files.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "404 Not Found: %s", r.URL.Path)
}

func (s *Server) sandboxError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		s.notFound(w, r)
	case errors.Is(err, sandbox.ErrPathEscape):
		http.Error(w, "invalid path", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// extractFileList pulls a string array field out of a small JSON body
// without a full parser. A missing or malformed field yields an empty
// list, never an error.
func extractFileList(body, key string) []string {
	pattern := `"` + key + `"`
	keyPos := strings.Index(body, pattern)
	if keyPos < 0 {
		return nil
	}
	rest := body[keyPos+len(pattern):]
	open := strings.IndexByte(rest, '[')
	if open < 0 {
		return nil
	}
	rest = rest[open+1:]
	closeIdx := strings.IndexByte(rest, ']')
	if closeIdx < 0 {
		return nil
	}
	var out []string
	for _, raw := range strings.Split(rest[:closeIdx], ",") {
		v := strings.Trim(strings.TrimSpace(raw), `"`)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// sanitizeFilename replaces anything outside the safe character class
// with an underscore. Rejection of empty/"."/".." results happens at the
// point of use.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_' || r == ' ':
			return r
		default:
			return '_'
		}
	}, name)
}

func speed(n int, elapsed time.Duration) string {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	bps := float64(n) / elapsed.Seconds()
	return humanize.IBytes(uint64(bps)) + "/s"
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.code = code
	rec.ResponseWriter.WriteHeader(code)
}
