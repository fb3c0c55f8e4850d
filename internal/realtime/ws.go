package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler relays a Channel to websocket clients. Clients connect with
// ?user_id=<id>[&table=<name>] and receive matching events as JSON text frames.
type Handler struct {
	channel Channel
	log     *zap.Logger
}

// NewHandler constructs a Handler serving subscriptions on ch.
func NewHandler(ch Channel, log *zap.Logger) *Handler {
	return &Handler{channel: ch, log: logging.OrNop(log)}
}

// Connect upgrades the request and streams events until either side goes
// away.
func (h *Handler) Connect(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	table := c.DefaultQuery("table", TableNotifications)

	sub, err := h.channel.Subscribe(c.Request.Context(), Filter{Table: table, UserID: userID})
	if err != nil {
		h.log.Error("opening relay subscription", zap.String("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "subscription unavailable"})
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("user_id", userID))
	log.Debug("relay client connected")

	// Read side only handles control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(1 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			log.Debug("relay client disconnected")
			return
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "channel closed")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				log.Info("relay subscription ended", zap.Error(sub.Err()))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn("writing relay event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSChannel is a Channel backed by a remote Handler.
type WSChannel struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWSChannel returns a channel that dials rawURL for each subscription.
func NewWSChannel(rawURL string) *WSChannel {
	return &WSChannel{URL: rawURL, Dialer: websocket.DefaultDialer}
}

// Subscribe dials the relay and starts reading events.
func (c *WSChannel) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", f.UserID)
	if f.Table != "" {
		q.Set("table", f.Table)
	}
	u.RawQuery = q.Encode()

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.Header)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", c.URL, err)
	}

	sub := &wsSubscription{
		conn:   conn,
		filter: f,
		ch:     make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	filter Filter
	ch     chan Event
	done   chan struct{}

	cancelled atomic.Bool
	once      sync.Once
	mu        sync.Mutex
	err       error
}

func (s *wsSubscription) Events() <-chan Event { return s.ch }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		_ = s.conn.Close()
	})
}

// readLoop is the only writer to ch and closes it on exit.
func (s *wsSubscription) readLoop() {
	defer close(s.ch)

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !s.cancelled.Load() {
				s.setErr(readError(err))
			}
			return
		}
		if !s.filter.Matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseGoingAway {
		return ErrClosed
	}
	return fmt.Errorf("reading relay: %w", err)
}
