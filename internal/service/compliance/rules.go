package compliance

import (
	"fmt"
	"time"

	"github.com/treumlabs/risk-engine/internal/domain/compliance"
)

// Pattern names. Each maps to one heuristic in defaultPatterns.
const (
	PatternLargeValue          = "large_value"
	PatternStructuring         = "structuring"
	PatternRapidBuySell        = "rapid_buy_sell"
	PatternDormantReactivation = "dormant_reactivation"
	PatternActivitySpike       = "activity_spike"
)

const (
	// Heuristic windows. Pattern thresholds come from the rule config;
	// the look-back windows are fixed.
	structuringWindow  = 24 * time.Hour
	structuringBand    = 0.9 // amounts in [band*threshold, threshold)
	structuringMinHits = 3
	rapidBuySellWindow = 30 * time.Minute
	activityWindow     = 24 * time.Hour
)

func defaultPatterns() map[string]patternFunc {
	return map[string]patternFunc{
		PatternLargeValue:          detectLargeValue,
		PatternStructuring:         detectStructuring,
		PatternRapidBuySell:        detectRapidBuySell,
		PatternDormantReactivation: detectDormantReactivation,
		PatternActivitySpike:       detectActivitySpike,
	}
}

// detectLargeValue flags a single transaction at or above the rule
// threshold
func detectLargeValue(in Input, rule compliance.Rule) (bool, float64, string) {
	if in.Transaction == nil {
		return false, 0, ""
	}
	amount := in.Transaction.Amount.ToFloat64()
	if amount < rule.Threshold {
		return false, amount, ""
	}
	return true, amount, fmt.Sprintf("single %s of %s at or above the reporting threshold",
		in.Transaction.Type, in.Transaction.Amount)
}

// detectStructuring flags repeated transactions sized just below the
// reporting threshold within a 24h window, a classic layering signal
func detectStructuring(in Input, rule compliance.Rule) (bool, float64, string) {
	lower := rule.Threshold * structuringBand
	now := in.Session.LoginAt

	var hits int
	consider := in.RecentTransactions
	if in.Transaction != nil {
		consider = append(consider[:len(consider):len(consider)], *in.Transaction)
	}
	for _, txn := range consider {
		amount := txn.Amount.ToFloat64()
		if amount >= lower && amount < rule.Threshold && withinWindow(txn.OccurredAt, now, structuringWindow) {
			hits++
		}
	}
	if hits < structuringMinHits {
		return false, float64(hits), ""
	}
	return true, float64(hits), fmt.Sprintf("%d transactions just below %.0f within 24h", hits, rule.Threshold)
}

// detectRapidBuySell flags a buy and sell of the same symbol within a
// short window, suggestive of wash trading
func detectRapidBuySell(in Input, _ compliance.Rule) (bool, float64, string) {
	orders := in.RecentOrders
	if in.Trade != nil {
		orders = append(orders[:len(orders):len(orders)], *in.Trade)
	}

	for i := range orders {
		for j := i + 1; j < len(orders); j++ {
			a, b := orders[i], orders[j]
			if a.Symbol != b.Symbol || a.Side == b.Side {
				continue
			}
			gap := b.PlacedAt.Sub(a.PlacedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap <= rapidBuySellWindow {
				return true, gap.Minutes(), fmt.Sprintf("opposite-side orders on %s %.0f minutes apart", a.Symbol, gap.Minutes())
			}
		}
	}
	return false, 0, ""
}

// detectDormantReactivation flags financial activity on an account with
// no activity for at least the rule threshold (in days)
func detectDormantReactivation(in Input, rule compliance.Rule) (bool, float64, string) {
	if in.History.LastActivityAt == nil {
		return false, 0, ""
	}
	if in.Transaction == nil && in.Trade == nil {
		return false, 0, ""
	}
	dormantDays := in.Session.LoginAt.Sub(*in.History.LastActivityAt).Hours() / 24
	if dormantDays < rule.Threshold {
		return false, dormantDays, ""
	}
	return true, dormantDays, fmt.Sprintf("financial activity after %.0f days dormant", dormantDays)
}

// detectActivitySpike flags an unusual burst of activity in 24h
func detectActivitySpike(in Input, rule compliance.Rule) (bool, float64, string) {
	now := in.Session.LoginAt

	var count int
	for _, txn := range in.RecentTransactions {
		if withinWindow(txn.OccurredAt, now, activityWindow) {
			count++
		}
	}
	for _, order := range in.RecentOrders {
		if withinWindow(order.PlacedAt, now, activityWindow) {
			count++
		}
	}
	if float64(count) < rule.Threshold {
		return false, float64(count), ""
	}
	return true, float64(count), fmt.Sprintf("%d transactions and orders within 24h", count)
}

// DefaultRules is the built-in rule set: global AML patterns plus
// jurisdiction-scoped reporting thresholds. Deployments replace or extend
// it from configuration.
func DefaultRules() []compliance.Rule {
	return []compliance.Rule{
		{
			ID:        "aml-large-value",
			Name:      "large value transaction",
			Kind:      compliance.KindPattern,
			Pattern:   PatternLargeValue,
			Threshold: 1_000_000,
			Severity:  compliance.SeverityMajor,
			Score:     40,
			Escalate:  true,
			Remediation: []string{
				"file a suspicious transaction report",
				"hold settlement pending review",
			},
			Enabled: true,
		},
		{
			ID:        "aml-structuring",
			Name:      "structuring below reporting threshold",
			Kind:      compliance.KindPattern,
			Pattern:   PatternStructuring,
			Threshold: 1_000_000,
			Severity:  compliance.SeveritySevere,
			Score:     60,
			Escalate:  true,
			Remediation: []string{
				"freeze further transfers",
				"file a suspicious transaction report",
			},
			Enabled: true,
		},
		{
			ID:        "aml-rapid-buy-sell",
			Name:      "rapid buy-sell on same instrument",
			Kind:      compliance.KindPattern,
			Pattern:   PatternRapidBuySell,
			Severity:  compliance.SeverityMajor,
			Score:     35,
			Escalate:  true,
			Remediation: []string{
				"review order flow for wash trading",
			},
			Enabled: true,
		},
		{
			ID:        "aml-dormant-reactivation",
			Name:      "dormant account reactivation",
			Kind:      compliance.KindPattern,
			Pattern:   PatternDormantReactivation,
			Threshold: 90,
			Severity:  compliance.SeverityModerate,
			Score:     20,
			Enabled:   true,
		},
		{
			ID:        "aml-activity-spike",
			Name:      "unusual activity spike",
			Kind:      compliance.KindPattern,
			Pattern:   PatternActivitySpike,
			Threshold: 50,
			Severity:  compliance.SeverityModerate,
			Score:     20,
			Enabled:   true,
		},
		{
			ID:            "in-cash-reporting",
			Name:          "cash transaction reporting threshold",
			Kind:          compliance.KindThreshold,
			Field:         "transaction.amount",
			Operator:      "gte",
			Threshold:     1_000_000,
			Jurisdictions: []string{"IN"},
			Severity:      compliance.SeverityMajor,
			Score:         30,
			Escalate:      true,
			Remediation: []string{
				"report to the financial intelligence unit",
			},
			Enabled: true,
		},
		{
			ID:            "in-large-notional",
			Name:          "large order notional review",
			Kind:          compliance.KindThreshold,
			Field:         "trade.notional",
			Operator:      "gt",
			Threshold:     5_000_000,
			Jurisdictions: []string{"IN"},
			Severity:      compliance.SeverityModerate,
			Score:         20,
			Enabled:       true,
		},
		{
			ID:        "young-account-activity",
			Name:      "financial activity on a young account",
			Kind:      compliance.KindThreshold,
			Field:     "account.age_days",
			Operator:  "lt",
			Threshold: 7,
			Severity:  compliance.SeverityMinor,
			Score:     10,
			Enabled:   true,
		},
	}
}
