package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
)

// Relay routes.
const (
	RelayPath  = "/realtime"
	EventsPath = RelayPath + "/events"
	HealthPath = "/healthz"
)

// NewRouter builds the relay engine. Clients subscribe on RelayPath and
// producers without redis access post insert events to EventsPath, which
// are handed to pub.
func NewRouter(ch Channel, pub Publisher, log *zap.Logger) *gin.Engine {
	log = logging.OrNop(log)

	r := gin.New()
	r.Use(gin.Recovery(), requestLog(log))

	r.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	r.GET(RelayPath, NewHandler(ch, log).Connect)
	r.POST(EventsPath, publishEvent(pub, log))

	return r
}

// requestLog logs every finished request at debug level.
func requestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("relay request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func publishEvent(pub Publisher, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if ev.Type != EventInsert || ev.Record.ID == "" || ev.Record.UserID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "an insert event with record id and user_id is required"})
			return
		}
		if ev.Table == "" {
			ev.Table = TableNotifications
		}

		if err := pub.Publish(c.Request.Context(), ev); err != nil {
			log.Error("publishing relayed event",
				zap.String("notification_id", ev.Record.ID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "publish failed"})
			return
		}
		c.Status(http.StatusAccepted)
	}
}

// RelayPublisher publishes events by posting them to a relay's EventsPath.
type RelayPublisher struct {
	URL        string
	httpClient *http.Client
}

// NewRelayPublisher derives the events endpoint from the relay's websocket
// URL (ws://host/realtime becomes http://host/realtime/events).
func NewRelayPublisher(wsURL string) (*RelayPublisher, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("relay url %s: unsupported scheme %q", wsURL, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	u.RawQuery = ""

	return &RelayPublisher{
		URL:        u.String(),
		httpClient: &http.Client{Timeout: publishTimeout},
	}, nil
}

// Publish posts ev to the relay.
func (p *RelayPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling relay event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to relay %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay %s rejected event (%d): %s",
			p.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
