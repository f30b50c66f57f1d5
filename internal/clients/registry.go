// Package clients tracks foreground contexts: views of the tracker connected
// to the agent over a WebSocket.
//
// Protocol (JSON text frames):
//
//	agent  -> view  {"type":"session","session":"<id>","client":"<id>"}  (on connect)
//	view   -> agent {"type":"hello","url":"...","controller":"<session id>"}
//	view   -> agent {"type":"location","url":"..."}
//	agent  -> view  {"type":"new-notification","payload":{...}}
//	agent  -> view  {"type":"navigate","url":"...","focus":true}
//	agent  -> view  {"type":"history-cleared"}
//
// A view is controlled once its hello names the current agent session. Views
// opened before this agent started (or that never said hello) are uncontrolled.
package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jiranotifier/internal/host"
	logx "jiranotifier/pkg/logx"
)

var (
	ErrClosed    = errors.New("client connection closed")
	ErrQueueFull = errors.New("client queue full")
)

const (
	defaultQueueSize    = 32
	defaultWriteTimeout = 5 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
	maxInboundMessage   = 16 << 10
)

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	// SessionID identifies this agent run. Empty means a fresh uuid.
	SessionID string
	// AllowedOrigins are the tracker origins (scheme://host[:port]) whose
	// pages may connect. Same-origin requests and requests without an
	// Origin header are always accepted.
	AllowedOrigins []string
	// CheckOrigin replaces the origin check entirely when set.
	CheckOrigin func(r *http.Request) bool
}

// Registry is the set of live foreground contexts. It implements host.Clients
// and serves the WebSocket endpoint.
type Registry struct {
	cfg      Config
	log      logx.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*Conn
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = originChecker(cfg.AllowedOrigins)
	}
	return &Registry{
		cfg:   cfg,
		log:   log,
		conns: map[string]*Conn{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
	}
}

// SessionID is the controller id views must present to count as controlled.
func (r *Registry) SessionID() string { return r.cfg.SessionID }

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// MatchAll returns live contexts in connection order.
func (r *Registry) MatchAll(ctx context.Context, opt host.MatchOptions) ([]host.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	list := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if opt.IncludeUncontrolled || c.Controlled() {
			list = append(list, c)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Conn) int { return compareSeq(a.seq, b.seq) })
	out := make([]host.Client, len(list))
	for i, c := range list {
		out[i] = c
	}
	return out, nil
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied to the client.
		r.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	c := newConn(r, ws, req.URL.Query().Get("url"))
	if !r.add(c) {
		_ = ws.Close()
		return
	}
	r.log.Info("client connected", logx.String("client", c.id), logx.String("remote", req.RemoteAddr))

	_ = c.PostMessage(req.Context(), sessionMessage{Type: TypeSession, Session: r.cfg.SessionID, Client: c.id})

	go func() {
		defer r.wg.Done()
		c.writeLoop()
	}()
	c.readLoop()

	r.remove(c)
	c.close()
	r.log.Info("client disconnected", logx.String("client", c.id))
}

func (r *Registry) add(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.seq++
	c.seq = r.seq
	r.conns[c.id] = c
	// Counted under the lock: Close only waits after closed is set.
	r.wg.Add(1)
	return true
}

func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c.id)
	r.mu.Unlock()
}

// Close disconnects every view and refuses new ones. It waits for writer
// goroutines until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.goAway()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// originChecker keeps gorilla's same-origin rule and adds the allowlist.
// Browsers always send Origin on a WebSocket handshake, so a missing header
// means a non-browser client.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if key, ok := originKey(o); ok {
			set[key] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		key, ok := originKey(origin)
		if !ok {
			return false
		}
		_, found := set[key]
		return found
	}
}

func originKey(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
