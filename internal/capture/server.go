// internal/capture/server.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/config"
)

var (
	// ErrServerClosed is returned by Start after the server has been shut down.
	ErrServerClosed = errors.New("capture server closed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("capture server already started")
)

const nackBody = `{"ok":false}`

// Server is an ephemeral HTTP listener that records every POST it receives
// into a Store and answers with a fixed acknowledgment.
type Server struct {
	cfg    config.CaptureConfig
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	listener net.Listener
	httpSrv  *http.Server
	baseURL  string
	done     chan struct{}
}

// NewServer creates a server that appends to store. A nil store gets a fresh one.
func NewServer(cfg config.CaptureConfig, store *Store, logger *zap.Logger) *Server {
	if store == nil {
		store = NewStore()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = time.Second
	}
	if cfg.AckBody == "" {
		cfg.AckBody = `{"ok":true}`
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("capture"),
	}
}

// Start binds the listener and begins serving in the background. The store is
// reset, so each server lifecycle starts empty.
func (s *Server) Start(ctx context.Context) (string, *Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", nil, ErrServerClosed
	}
	if s.started {
		return "", nil, ErrAlreadyStarted
	}

	ln, err := s.listen(ctx)
	if err != nil {
		return "", nil, err
	}

	s.store.Reset()
	s.listener = ln
	s.baseURL = "http://" + ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.done = make(chan struct{})
	s.started = true

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Capture server stopped unexpectedly.", zap.Error(err))
		}
	}(s.httpSrv, s.done)

	s.logger.Info("Capture server listening.", zap.String("base_url", s.baseURL))
	return s.baseURL, s.store, nil
}

// listen binds the configured address. With port 0 a failed bind is retried
// once on a fresh ephemeral port; a fixed port fails immediately.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err == nil {
		return ln, nil
	}
	if s.cfg.Port != 0 {
		return nil, fmt.Errorf("failed to bind capture server on %s: %w", addr, err)
	}

	s.logger.Warn("Ephemeral bind failed, retrying once.", zap.String("addr", addr), zap.Error(err))
	ln, retryErr := lc.Listen(ctx, "tcp", addr)
	if retryErr != nil {
		return nil, fmt.Errorf("failed to bind capture server on %s: %w", addr, errors.Join(err, retryErr))
	}
	return ln, nil
}

// BaseURL returns the URL the server is reachable at, or "" before Start.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// Store returns the store the server appends to.
func (s *Server) Store() *Store {
	return s.store
}

// Shutdown stops accepting connections and waits for the serve goroutine to
// exit. The wait is bounded by ShutdownTimeout; in-flight requests still
// running at the deadline are cut off. Calling Shutdown more than once is safe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()

	// One deadline covers both the graceful drain and the wait for the serve
	// goroutine; the last tenth is reserved for the forced close.
	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	waitCtx, cancelWait := context.WithDeadline(ctx, deadline)
	defer cancelWait()
	drainCtx, cancelDrain := context.WithDeadline(waitCtx, deadline.Add(-s.cfg.ShutdownTimeout/10))
	defer cancelDrain()

	var shutdownErr error
	if err := srv.Shutdown(drainCtx); err != nil {
		s.logger.Warn("Graceful shutdown incomplete, forcing close.", zap.Error(err))
		shutdownErr = srv.Close()
	}

	select {
	case <-done:
	case <-waitCtx.Done():
		return fmt.Errorf("capture server did not stop within %s", s.cfg.ShutdownTimeout)
	}

	s.logger.Info("Capture server stopped.", zap.Int("records", s.store.Len()))
	return shutdownErr
}

// Handler returns the request handler. It is exported so tests and the
// standalone capture command can mount it without a listener.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, r)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = io.WriteString(w, nackBody)
		return
	}

	rec := s.readRecord(r)
	rec = s.store.Append(rec)
	s.logger.Debug("Captured request.",
		zap.Int("seq", rec.Seq),
		zap.String("path", rec.Path),
		zap.Bool("structured", rec.Structured),
		zap.Int("bytes", len(rec.Raw)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.cfg.AckBody)
}

// readRecord builds a record from the request. It never fails; read and
// decode problems degrade to whatever bytes were obtained, stored as text.
func (s *Server) readRecord(r *http.Request) Record {
	rec := Record{
		Path:       r.URL.Path,
		Method:     r.Method,
		Headers:    flattenHeaders(r.Header),
		ReceivedAt: time.Now().UTC(),
	}

	raw, truncated, err := readLimited(r.Body, s.cfg.MaxBodyBytes)
	if err != nil {
		s.logger.Warn("Partial capture body read.", zap.String("path", rec.Path), zap.Error(err))
	}
	rec.Truncated = truncated

	data := raw
	if encodings := r.Header.Values("Content-Encoding"); len(encodings) > 0 && !truncated {
		decoded, decTruncated, decErr := decodeContent(encodings, raw, s.cfg.MaxBodyBytes)
		if decErr != nil {
			s.logger.Debug("Content-Encoding decode failed, keeping raw bytes.", zap.Error(decErr))
		} else {
			data = decoded
			rec.Truncated = decTruncated
		}
	}

	rec.Raw = string(data)
	if rec.Truncated {
		rec.Body = rec.Raw
		return rec
	}
	rec.Body, rec.Structured = parseBody(data)
	return rec
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	} else {
		h.Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Header.Get("Access-Control-Request-Private-Network") == "true" {
		h.Set("Access-Control-Allow-Private-Network", "true")
	}
	h.Set("Access-Control-Max-Age", "600")
}
