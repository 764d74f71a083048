// Package control implements the loopback-only Control Endpoint that
// authenticates and coalesces reload requests from the finder's manual
// reload binding and the file-watcher (spec §4.4).
package control

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ReadTimeout bounds how long the endpoint waits for a client's
// request headers, preventing a hung client from starving the
// acceptor (spec §5).
const ReadTimeout = 2 * time.Second

// reloadHeader is the alternate way to present the token, alongside
// the "key" query parameter.
const reloadHeader = "X-Tuick-Reload-Key"

// Endpoint is the loopback HTTP-shaped request handler described in
// spec §4.4. It accepts exactly one route, POST /reload, authenticated
// by the session's Reload Token, and coalesces reload requests into a
// bounded single-slot queue.
type Endpoint struct {
	token  string
	logger *slog.Logger

	pending  chan struct{}
	listener net.Listener
	server   *http.Server

	ready chan struct{}
	addr  net.Addr
}

// New creates an Endpoint authenticated by token. Call Serve to bind
// the ephemeral loopback port and start accepting requests.
func New(token string, logger *slog.Logger) *Endpoint {
	e := &Endpoint{
		token:   token,
		logger:  logger,
		pending: make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", e.handleReload)
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: ReadTimeout,
		ReadTimeout:       ReadTimeout,
	}
	return e
}

// Serve binds an OS-assigned loopback port and serves until ctx is
// cancelled. Blocks until shutdown completes.
func (e *Endpoint) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("control: listening on loopback: %w", err)
	}
	e.listener = listener
	e.addr = listener.Addr()
	close(e.ready)

	serveErr := make(chan error, 1)
	go func() {
		err := e.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.server.Shutdown(shutdownCtx)
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}

// Ready returns a channel closed once the endpoint is bound and
// accepting connections.
func (e *Endpoint) Ready() <-chan struct{} { return e.ready }

// Addr returns the resolved loopback address, including the
// OS-assigned port. Only valid after Ready() closes.
func (e *Endpoint) Addr() net.Addr { return e.addr }

// Port returns the resolved TCP port as an int, published to children
// as TUICK_RELOAD_PORT. Only valid after Ready() closes.
func (e *Endpoint) Port() int {
	return e.addr.(*net.TCPAddr).Port
}

// Reloads returns the channel the session controller drains for
// reload events. Receiving from this channel is the only way pending
// requests are cleared.
func (e *Endpoint) Reloads() <-chan struct{} { return e.pending }

func (e *Endpoint) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !isLoopback(r.RemoteAddr) {
		e.logf("rejected reload from non-loopback peer", "remote_addr", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	presented := r.Header.Get(reloadHeader)
	if presented == "" {
		presented = r.URL.Query().Get("key")
	}
	if !validToken(presented, e.token) {
		e.logf("rejected reload with invalid token", "remote_addr", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Drop-newer coalescing: a non-blocking send onto the single-slot
	// queue. If a reload is already pending, this request is a no-op —
	// the eventual run observes the latest filesystem/checker state
	// regardless (spec §4.4).
	select {
	case e.pending <- struct{}{}:
	default:
	}

	w.WriteHeader(http.StatusAccepted)
}

func (e *Endpoint) logf(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func validToken(presented, want string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(want)) == 1
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
