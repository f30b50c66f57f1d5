package clients

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	logx "jiranotifier/pkg/logx"
)

// Message types on the foreground channel. New notifications use
// notification.MessageTypeNew.
const (
	TypeSession        = "session"
	TypeHello          = "hello"
	TypeLocation       = "location"
	TypeNavigate       = "navigate"
	TypeHistoryCleared = "history-cleared"
)

type sessionMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Client  string `json:"client"`
}

type navigateMessage struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Focus bool   `json:"focus"`
}

// HistoryCleared is sent after the user cleared the history.
type HistoryCleared struct {
	Type string `json:"type"`
}

func NewHistoryCleared() HistoryCleared { return HistoryCleared{Type: TypeHistoryCleared} }

type inbound struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Controller string `json:"controller"`
}

// Conn is one connected foreground context.
type Conn struct {
	reg *Registry
	id  string
	seq uint64
	ws  *websocket.Conn
	log logx.Logger

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu         sync.RWMutex
	url        string
	controller string
}

func newConn(r *Registry, ws *websocket.Conn, url string) *Conn {
	id := uuid.NewString()
	return &Conn{
		reg:  r,
		id:   id,
		ws:   ws,
		log:  r.log.With(logx.String("client", id)),
		out:  make(chan []byte, r.cfg.QueueSize),
		done: make(chan struct{}),
		url:  strings.TrimSpace(url),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Controlled reports whether the view announced this agent session.
func (c *Conn) Controlled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller != "" && c.controller == c.reg.cfg.SessionID
}

// PostMessage queues msg as a JSON text frame. It never blocks: a full queue
// drops the message with ErrQueueFull.
func (c *Conn) PostMessage(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// FocusAndNavigate asks the view to focus itself and load url.
func (c *Conn) FocusAndNavigate(ctx context.Context, url string) error {
	if err := c.PostMessage(ctx, navigateMessage{Type: TypeNavigate, URL: url, Focus: true}); err != nil {
		return err
	}
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
	return nil
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxInboundMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", logx.Err(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			continue
		}
		var in inbound
		if err := json.Unmarshal(b, &in); err != nil {
			c.log.Debug("ignoring malformed message", logx.Err(err))
			continue
		}
		c.handle(in)
	}
}

func (c *Conn) handle(in inbound) {
	switch in.Type {
	case TypeHello:
		c.mu.Lock()
		if u := strings.TrimSpace(in.URL); u != "" {
			c.url = u
		}
		c.controller = strings.TrimSpace(in.Controller)
		c.mu.Unlock()
		c.log.Debug("client hello", logx.String("url", in.URL), logx.Bool("controlled", c.Controlled()))
	case TypeLocation:
		if u := strings.TrimSpace(in.URL); u != "" {
			c.mu.Lock()
			c.url = u
			c.mu.Unlock()
		}
	default:
		c.log.Debug("ignoring message", logx.String("type", in.Type))
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	timeout := c.reg.cfg.WriteTimeout

	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("write failed", logx.Err(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

// goAway sends a close frame and gives the view one write timeout to answer
// before the connection is torn down.
func (c *Conn) goAway() {
	timeout := c.reg.cfg.WriteTimeout
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent stopping")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.close()
		return
	}
	time.AfterFunc(timeout, c.close)
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
