// internal/appserver/appserver.go
package appserver

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// contentTypes covers the asset types a single-page app ships. Anything else
// falls back to the system MIME table, then to application/octet-stream.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".svg":   "image/svg+xml",
	".gif":   "image/gif",
	".ico":   "image/x-icon",
	".woff2": "font/woff2",
}

// Handler serves files under root. Unknown paths fall back to root/index.html
// so client-side routes resolve; only a missing index yields 404.
func Handler(root string, logger *zap.Logger) http.Handler {
	return &handler{root: root, logger: logger}
}

type handler struct {
	root   string
	logger *zap.Logger
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, err := h.resolve(r.URL.Path)
	if err != nil {
		h.logger.Debug("No file for request.", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(file)
	if err != nil {
		http.Error(w, "Server error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Server error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(file))
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// resolve maps a URL path onto a regular file inside root.
func (h *handler) resolve(urlPath string) (string, error) {
	// path.Clean on a rooted path cannot climb above "/".
	clean := path.Clean("/" + urlPath)
	candidate := filepath.Join(h.root, filepath.FromSlash(clean))

	if info, err := os.Stat(candidate); err == nil {
		if !info.IsDir() {
			return candidate, nil
		}
		index := filepath.Join(candidate, "index.html")
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			return index, nil
		}
	}

	index := filepath.Join(h.root, "index.html")
	info, err := os.Stat(index)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", index)
	}
	return index, nil
}

func contentType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if ext == "" {
		ext = ".html"
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Server hosts Handler on a TCP listener.
type Server struct {
	root   string
	addr   string
	logger *zap.Logger

	mu      sync.Mutex
	httpSrv *http.Server
	baseURL string
	done    chan struct{}
}

// New creates a server for root listening on addr ("127.0.0.1:0" picks a free port).
func New(root, addr string, logger *zap.Logger) *Server {
	return &Server{root: root, addr: addr, logger: logger.Named("appserver")}
}

// Start binds the listener and serves in the background. It returns the base URL.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return "", errors.New("app server already started")
	}

	info, err := os.Stat(s.root)
	if err != nil {
		return "", fmt.Errorf("app root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("app root %s is not a directory", s.root)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind app server on %s: %w", s.addr, err)
	}

	s.baseURL = "http://" + ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           Handler(s.root, s.logger),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("App server stopped unexpectedly.", zap.Error(err))
		}
	}(s.httpSrv, s.done)

	s.logger.Info("Serving application.", zap.String("root", s.root), zap.String("base_url", s.baseURL))
	return s.baseURL, nil
}

// Wait blocks until the server stops or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return errors.New("app server not started")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the server, waiting up to timeout for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, srv.Close())
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return err
}

