package fixtures

import (
	"testing"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
)

// AlertBuilder builds test Alert entities
type AlertBuilder struct {
	alertType alert.Type
	severity  alert.Severity
	priority  alert.Priority
	title     string
	message   string
	trigger   alert.TriggerCondition
	userID    *uuid.UUID
	sourceID  *uuid.UUID
	channels  []alert.Channel
}

// NewAlertBuilder creates a builder with a warning-grade limit alert
func NewAlertBuilder() *AlertBuilder {
	userID := uuid.New()
	return &AlertBuilder{
		alertType: alert.TypeRiskLimitWarning,
		severity:  alert.SeverityWarning,
		priority:  alert.PriorityP3,
		title:     "Risk limit approaching",
		message:   "notional utilization at 85% of limit",
		trigger: alert.TriggerCondition{
			Rule:        "limit_warning",
			Threshold:   80,
			ActualValue: 85,
			Operator:    "gte",
		},
		userID:   &userID,
		channels: []alert.Channel{alert.ChannelDashboard},
	}
}

func (b *AlertBuilder) WithType(t alert.Type) *AlertBuilder {
	b.alertType = t
	return b
}

func (b *AlertBuilder) WithSeverity(s alert.Severity, p alert.Priority) *AlertBuilder {
	b.severity = s
	b.priority = p
	return b
}

func (b *AlertBuilder) WithTitle(title, message string) *AlertBuilder {
	b.title = title
	b.message = message
	return b
}

func (b *AlertBuilder) WithTrigger(trigger alert.TriggerCondition) *AlertBuilder {
	b.trigger = trigger
	return b
}

func (b *AlertBuilder) WithUserID(id uuid.UUID) *AlertBuilder {
	b.userID = &id
	return b
}

func (b *AlertBuilder) WithSourceID(id uuid.UUID) *AlertBuilder {
	b.sourceID = &id
	return b
}

func (b *AlertBuilder) WithChannels(channels ...alert.Channel) *AlertBuilder {
	b.channels = channels
	return b
}

func (b *AlertBuilder) Build(t *testing.T) *alert.Alert {
	t.Helper()

	a := alert.New(b.alertType, b.severity, b.priority, b.title, b.message, b.trigger)
	a.UserID = b.userID
	a.SourceID = b.sourceID
	a.NotificationChannels = b.channels
	return a
}
