package alerting

import (
	"fmt"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

// breachSeverity scales the alert by the most drastic configured breach
// action: forced liquidation is an emergency, trade prevention is
// critical, anything else is high.
func breachSeverity(actions []limits.BreachAction) (alert.Severity, alert.Priority) {
	severity, priority := alert.SeverityHigh, alert.PriorityP2
	for _, action := range actions {
		switch action {
		case limits.ActionClosePositions:
			return alert.SeverityEmergency, alert.PriorityP1
		case limits.ActionPreventNewTrades, limits.ActionReduceLeverage:
			severity, priority = alert.SeverityCritical, alert.PriorityP1
		}
	}
	return severity, priority
}

func complianceSeverity(s compliance.Severity) (alert.Severity, alert.Priority) {
	switch s {
	case compliance.SeveritySevere:
		return alert.SeverityCritical, alert.PriorityP1
	case compliance.SeverityMajor:
		return alert.SeverityHigh, alert.PriorityP2
	case compliance.SeverityModerate:
		return alert.SeverityWarning, alert.PriorityP3
	default:
		return alert.SeverityInfo, alert.PriorityP4
	}
}

// channelsFor is the data-driven channel selection: everything lands on
// the dashboard, high and above goes out on email, critical and above
// also pages by SMS.
func channelsFor(severity alert.Severity) []alert.Channel {
	channels := []alert.Channel{alert.ChannelDashboard}
	if severity >= alert.SeverityHigh {
		channels = append(channels, alert.ChannelEmail)
	}
	if severity >= alert.SeverityCritical {
		channels = append(channels, alert.ChannelSMS)
	}
	return channels
}

// topFactorSummary renders the leading factors of an assessment for the
// alert body
func topFactorSummary(a *assessment.Assessment) string {
	if len(a.Factors) == 0 {
		return fmt.Sprintf("score %.0f, recommendation %s", a.Score, a.Recommendation)
	}

	limit := 3
	if len(a.Factors) < limit {
		limit = len(a.Factors)
	}
	msg := fmt.Sprintf("score %.0f, recommendation %s; leading factors:", a.Score, a.Recommendation)
	for _, f := range a.Factors[:limit] {
		msg += fmt.Sprintf(" %s (%.0f)", f.Factor, f.Value)
	}
	return msg
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
