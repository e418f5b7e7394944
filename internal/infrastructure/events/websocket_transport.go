package events

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
)

// WebSocketTransport streams alerts to dashboard clients. Each client
// gets its own filtered subscription; a slow client only loses its own
// messages.
type WebSocketTransport struct {
	logger    *zap.Logger
	publisher *AlertPublisher
	config    WebSocketConfig
	upgrader  websocket.Upgrader
}

// WebSocketConfig configures the WebSocket transport
type WebSocketConfig struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int

	// ClientRateLimit caps alerts per second per client; zero disables
	ClientRateLimit rate.Limit
}

// DefaultWebSocketConfig returns default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageSize:  64 * 1024,
		SendBufferSize:  256,
		ClientRateLimit: 50,
	}
}

// WebSocketMessage is the wire envelope sent to clients
type WebSocketMessage struct {
	Type      string       `json:"type"`
	Alert     *alert.Alert `json:"alert,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewWebSocketTransport creates a transport over the given publisher
func NewWebSocketTransport(publisher *AlertPublisher, logger *zap.Logger, config WebSocketConfig) *WebSocketTransport {
	return &WebSocketTransport{
		logger:    logger,
		publisher: publisher,
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboard origin enforcement happens at the gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams matching alerts until
// the client disconnects. Filters come from query parameters:
// min_severity (info|warning|high|critical|emergency) and types
// (comma-separated alert type names).
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	filter.RateLimit = t.config.ClientRateLimit
	filter.Burst = t.config.SendBufferSize

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := t.publisher.Subscribe(filter, t.config.SendBufferSize)

	t.logger.Info("alert stream client connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("min_severity", filter.MinSeverity.String()))

	go t.writePump(conn, sub)
	go t.readPump(conn, sub)
}

func (t *WebSocketTransport) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case a, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			msg := WebSocketMessage{
				Type:      "risk_alert",
				Alert:     &a,
				Timestamp: time.Now(),
			}
			data, err := json.Marshal(msg)
			if err != nil {
				t.logger.Error("failed to marshal alert message", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; its job is detecting disconnects
// and answering pings so the subscription can be torn down.
func (t *WebSocketTransport) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	conn.SetReadLimit(t.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func filterFromQuery(r *http.Request) SubscriptionFilter {
	filter := SubscriptionFilter{MinSeverity: alert.SeverityInfo}

	switch strings.ToLower(r.URL.Query().Get("min_severity")) {
	case "warning":
		filter.MinSeverity = alert.SeverityWarning
	case "high":
		filter.MinSeverity = alert.SeverityHigh
	case "critical":
		filter.MinSeverity = alert.SeverityCritical
	case "emergency":
		filter.MinSeverity = alert.SeverityEmergency
	}

	if raw := r.URL.Query().Get("types"); raw != "" {
		filter.Types = make(map[alert.Type]bool)
		for _, name := range strings.Split(raw, ",") {
			if t, ok := alertTypeByName(strings.TrimSpace(name)); ok {
				filter.Types[t] = true
			}
		}
	}
	return filter
}

func alertTypeByName(name string) (alert.Type, bool) {
	for t := alert.TypeRiskLimitBreach; t <= alert.TypeMarketEvent; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}
