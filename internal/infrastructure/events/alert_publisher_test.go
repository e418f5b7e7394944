package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
)

func testAlert(t alert.Type, severity alert.Severity) alert.Alert {
	return *alert.New(t, severity, alert.PriorityP2, "test alert", "details",
		alert.TriggerCondition{Rule: "test_rule", ActualValue: 91})
}

func receive(t *testing.T, sub *Subscription) alert.Alert {
	t.Helper()
	select {
	case a := <-sub.C:
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert")
		return alert.Alert{}
	}
}

func TestAlertPublisher_FanOut(t *testing.T) {
	p := NewAlertPublisher(zaptest.NewLogger(t))
	defer p.Close()

	all := p.Subscribe(SubscriptionFilter{}, 8)
	fraudOnly := p.Subscribe(SubscriptionFilter{
		Types: map[alert.Type]bool{alert.TypeFraudDetection: true},
	}, 8)

	p.PublishAlert(context.Background(), testAlert(alert.TypeFraudDetection, alert.SeverityCritical))
	p.PublishAlert(context.Background(), testAlert(alert.TypeRiskLimitWarning, alert.SeverityWarning))

	assert.Equal(t, alert.TypeFraudDetection, receive(t, all).Type)
	assert.Equal(t, alert.TypeRiskLimitWarning, receive(t, all).Type)

	got := receive(t, fraudOnly)
	assert.Equal(t, alert.TypeFraudDetection, got.Type)
	select {
	case extra := <-fraudOnly.C:
		t.Fatalf("unexpected alert %s on filtered subscription", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAlertPublisher_SeverityFloor(t *testing.T) {
	p := NewAlertPublisher(zaptest.NewLogger(t))
	defer p.Close()

	critical := p.Subscribe(SubscriptionFilter{MinSeverity: alert.SeverityCritical}, 8)

	p.PublishAlert(context.Background(), testAlert(alert.TypeRiskLimitWarning, alert.SeverityWarning))
	p.PublishAlert(context.Background(), testAlert(alert.TypeRiskLimitBreach, alert.SeverityEmergency))

	got := receive(t, critical)
	assert.Equal(t, alert.SeverityEmergency, got.Severity)
}

func TestAlertPublisher_SlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewAlertPublisher(zaptest.NewLogger(t))
	defer p.Close()

	// Buffer of one and nobody reading: second publish must drop, not hang.
	_ = p.Subscribe(SubscriptionFilter{}, 1)

	done := make(chan struct{})
	go func() {
		p.PublishAlert(context.Background(), testAlert(alert.TypeFraudDetection, alert.SeverityHigh))
		p.PublishAlert(context.Background(), testAlert(alert.TypeFraudDetection, alert.SeverityHigh))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	assert.Equal(t, int64(1), p.Dropped())
}

func TestAlertPublisher_Cancel(t *testing.T) {
	p := NewAlertPublisher(zaptest.NewLogger(t))
	defer p.Close()

	sub := p.Subscribe(SubscriptionFilter{}, 8)
	require.Equal(t, 1, p.SubscriberCount())

	sub.Cancel()
	assert.Equal(t, 0, p.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// Cancel is idempotent.
	sub.Cancel()
}

func TestWebSocketTransport_StreamsFilteredAlerts(t *testing.T) {
	p := NewAlertPublisher(zaptest.NewLogger(t))
	defer p.Close()

	cfg := DefaultWebSocketConfig()
	cfg.ClientRateLimit = 0
	transport := NewWebSocketTransport(p, zaptest.NewLogger(t), cfg)

	srv := httptest.NewServer(http.HandlerFunc(transport.ServeHTTP))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?min_severity=critical&types=fraud_detection"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool { return p.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	p.PublishAlert(context.Background(), testAlert(alert.TypeRiskLimitWarning, alert.SeverityCritical))
	p.PublishAlert(context.Background(), testAlert(alert.TypeFraudDetection, alert.SeverityCritical))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "risk_alert", msg.Type)
	require.NotNil(t, msg.Alert)
	assert.Equal(t, alert.TypeFraudDetection, msg.Alert.Type)
}
