package fraud

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treumlabs/risk-engine/internal/domain/profile"
)

// Scoring constants. Each evaluator adds the matching flag scores and
// clamps the category total to 100.
const (
	scoreUnrecognizedLocation = 70
	scoreHighRiskCountry      = 85
	scoreImpossibleTravel     = 90

	scoreUnseenDevice       = 60
	scoreUntrustedDevice    = 40
	scoreSuspiciousAgent    = 50
	scoreFingerprintAnomaly = 70

	scoreSessionDurationAnomaly = 50
	scoreUnusualLoginHour       = 40
	scoreRapidFinancialAction   = 60

	scoreRoundAmount         = 30
	scoreVeryLargeAmount     = 70
	scoreSuspiciousRecipient = 80
	scoreLargeTradeNotional  = 60

	scoreRapidRelogin       = 40
	scoreDormantReactivated = 50
	scoreWeekendActivity    = 20
	scoreOffHoursActivity   = 30
)

const (
	impossibleTravelWindow = 2 * time.Hour
	rapidActionWindow      = 30 * time.Second
	rapidReloginWindow     = 30 * time.Minute
	dormancyWindow         = 30 * 24 * time.Hour

	roundAmountFloor    = 10_000
	veryLargeAmount     = 100_000
	largeTradeNotional  = 500_000
	minFingerprintChars = 8

	tradingDayStartHour = 6
	tradingDayEndHour   = 22
)

func newResult(cat Category) CategoryResult {
	return CategoryResult{Category: cat, Factors: []RiskFactor{}}
}

func (r *CategoryResult) addFactor(name string, score float64, description string) {
	r.Factors = append(r.Factors, RiskFactor{
		Factor:      name,
		Category:    r.Category,
		Score:       score,
		Weight:      CategoryWeights[r.Category],
		Description: description,
		Severity:    severityForScore(score),
	})
	r.Score = clamp(r.Score+score, 0, 100)
}

// LocationEvaluator flags unfamiliar and high-risk locations, including
// the impossible-travel case: a location change shortly after a prior
// login from somewhere else.
type LocationEvaluator struct {
	highRiskCountries map[string]struct{}
}

func NewLocationEvaluator(highRiskCountries []string) *LocationEvaluator {
	set := make(map[string]struct{}, len(highRiskCountries))
	for _, c := range highRiskCountries {
		set[strings.ToUpper(c)] = struct{}{}
	}
	return &LocationEvaluator{highRiskCountries: set}
}

func (e *LocationEvaluator) Category() Category { return CategoryLocation }

func (e *LocationEvaluator) Evaluate(_ context.Context, in Input) (CategoryResult, error) {
	result := newResult(CategoryLocation)
	s := in.Session

	unfamiliar := !in.History.KnowsCountry(s.Country) || !in.History.KnowsCity(s.City)
	if unfamiliar {
		result.addFactor("unrecognized_location", scoreUnrecognizedLocation,
			fmt.Sprintf("login from unrecognized location %s, %s", s.City, s.Country))
	}

	if _, ok := e.highRiskCountries[strings.ToUpper(s.Country)]; ok {
		result.addFactor("high_risk_country", scoreHighRiskCountry,
			fmt.Sprintf("login from high-risk country %s", s.Country))
	}

	if last := in.History.LastLoginAt; last != nil && unfamiliar {
		moved := !strings.EqualFold(in.History.LastLoginCountry, s.Country)
		if moved && s.LoginAt.Sub(*last) < impossibleTravelWindow {
			result.addFactor("impossible_travel", scoreImpossibleTravel,
				fmt.Sprintf("location changed from %s to %s within %s of prior login",
					in.History.LastLoginCountry, s.Country, s.LoginAt.Sub(*last).Round(time.Second)))
		}
	}

	return result, nil
}

// DeviceEvaluator flags unknown fingerprints, untrusted devices,
// automation signatures in the user agent, and fingerprint anomalies.
type DeviceEvaluator struct {
	agentPattern *regexp.Regexp
}

var defaultAgentPattern = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|headless|selenium|phantomjs|puppeteer|curl|wget|python-requests`)

var placeholderFingerprints = map[string]struct{}{
	"unknown": {}, "null": {}, "undefined": {}, "none": {}, "test": {}, "00000000": {},
}

func NewDeviceEvaluator() *DeviceEvaluator {
	return &DeviceEvaluator{agentPattern: defaultAgentPattern}
}

func (e *DeviceEvaluator) Category() Category { return CategoryDevice }

func (e *DeviceEvaluator) Evaluate(_ context.Context, in Input) (CategoryResult, error) {
	result := newResult(CategoryDevice)
	s := in.Session

	if s.DeviceFingerprint != "" && !in.History.KnowsDevice(s.DeviceFingerprint) {
		result.addFactor("unseen_device", scoreUnseenDevice,
			"device fingerprint never seen for this user")
	}

	if !s.DeviceTrusted {
		result.addFactor("untrusted_device", scoreUntrustedDevice,
			"device has not completed trust verification")
	}

	if s.UserAgent != "" && e.agentPattern.MatchString(s.UserAgent) {
		result.addFactor("suspicious_user_agent", scoreSuspiciousAgent,
			fmt.Sprintf("automation signature in user agent %q", s.UserAgent))
	}

	if fingerprintAnomalous(s.DeviceFingerprint) {
		result.addFactor("fingerprint_anomaly", scoreFingerprintAnomaly,
			"device fingerprint is missing, too short or a placeholder")
	}

	return result, nil
}

func fingerprintAnomalous(fp string) bool {
	if len(fp) < minFingerprintChars {
		return true
	}
	_, placeholder := placeholderFingerprints[strings.ToLower(fp)]
	return placeholder
}

// BehaviorEvaluator compares the session against the user's own baseline:
// session length, login hour, and how fast money moved after login.
type BehaviorEvaluator struct{}

func NewBehaviorEvaluator() *BehaviorEvaluator { return &BehaviorEvaluator{} }

func (e *BehaviorEvaluator) Category() Category { return CategoryBehavior }

func (e *BehaviorEvaluator) Evaluate(_ context.Context, in Input) (CategoryResult, error) {
	result := newResult(CategoryBehavior)
	s := in.Session

	if avg := in.History.AvgSessionDuration; avg > 0 && s.Duration > 0 {
		ratio := float64(s.Duration) / float64(avg)
		if ratio < 0.1 || ratio > 10 {
			result.addFactor("session_duration_anomaly", scoreSessionDurationAnomaly,
				fmt.Sprintf("session duration %.1fx the user's average", ratio))
		}
	}

	if len(in.History.TypicalLoginHours) > 0 && !in.History.TypicalHour(s.LoginAt.Hour(), 2) {
		result.addFactor("unusual_login_hour", scoreUnusualLoginHour,
			fmt.Sprintf("login at %02d:00 outside the user's typical hours", s.LoginAt.Hour()))
	}

	if s.FirstActionAt != nil {
		if gap := s.FirstActionAt.Sub(s.LoginAt); gap >= 0 && gap < rapidActionWindow {
			result.addFactor("rapid_financial_action", scoreRapidFinancialAction,
				fmt.Sprintf("financial action %s after login", gap.Round(time.Second)))
		}
	}

	return result, nil
}

// TransactionEvaluator inspects the money movement or trade order itself
type TransactionEvaluator struct {
	recipientPatterns []*regexp.Regexp
}

var defaultRecipientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)crypto|exchange|gift\s?card|voucher`),
	regexp.MustCompile(`^\d{10,}$`),          // bare long account numbers
	regexp.MustCompile(`(?i)^(test|temp)\b`), // throwaway recipients
}

func NewTransactionEvaluator() *TransactionEvaluator {
	return &TransactionEvaluator{recipientPatterns: defaultRecipientPatterns}
}

func (e *TransactionEvaluator) Category() Category { return CategoryTransaction }

func (e *TransactionEvaluator) Evaluate(_ context.Context, in Input) (CategoryResult, error) {
	result := newResult(CategoryTransaction)

	if txn := in.Transaction; txn != nil {
		amount := txn.Amount.Amount()

		if isRoundAmount(amount) && amount.GreaterThanOrEqual(decimal.NewFromInt(roundAmountFloor)) {
			result.addFactor("round_amount", scoreRoundAmount,
				fmt.Sprintf("round-number amount %s", txn.Amount))
		}

		if amount.GreaterThan(decimal.NewFromInt(veryLargeAmount)) {
			result.addFactor("very_large_amount", scoreVeryLargeAmount,
				fmt.Sprintf("amount %s exceeds large-transaction threshold", txn.Amount))
		}

		if txn.Type == profile.TransactionTransfer && e.suspiciousRecipient(txn.Recipient) {
			result.addFactor("suspicious_recipient", scoreSuspiciousRecipient,
				fmt.Sprintf("transfer recipient %q matches suspicious pattern", txn.Recipient))
		}
	}

	if trade := in.Trade; trade != nil {
		if trade.Notional.Amount().GreaterThan(decimal.NewFromInt(largeTradeNotional)) {
			result.addFactor("large_trade_notional", scoreLargeTradeNotional,
				fmt.Sprintf("trade notional %s on %s", trade.Notional, trade.Symbol))
		}
	}

	return result, nil
}

func (e *TransactionEvaluator) suspiciousRecipient(recipient string) bool {
	if recipient == "" {
		return false
	}
	for _, p := range e.recipientPatterns {
		if p.MatchString(recipient) {
			return true
		}
	}
	return false
}

// isRoundAmount reports whether the amount is an exact multiple of 1,000
func isRoundAmount(amount decimal.Decimal) bool {
	return amount.Mod(decimal.NewFromInt(1000)).IsZero()
}

// TemporalEvaluator looks at when the activity happened: rapid re-logins,
// dormant-account reactivation, weekends and off-hours.
type TemporalEvaluator struct{}

func NewTemporalEvaluator() *TemporalEvaluator { return &TemporalEvaluator{} }

func (e *TemporalEvaluator) Category() Category { return CategoryTemporal }

func (e *TemporalEvaluator) Evaluate(_ context.Context, in Input) (CategoryResult, error) {
	result := newResult(CategoryTemporal)
	s := in.Session

	if last := in.History.LastLoginAt; last != nil {
		if gap := s.LoginAt.Sub(*last); gap >= 0 && gap < rapidReloginWindow {
			result.addFactor("rapid_relogin", scoreRapidRelogin,
				fmt.Sprintf("login %s after the previous one", gap.Round(time.Second)))
		}
	}

	if lastActive := in.History.LastActivityAt; lastActive != nil {
		if s.LoginAt.Sub(*lastActive) > dormancyWindow {
			result.addFactor("dormant_reactivation", scoreDormantReactivated,
				fmt.Sprintf("account dormant since %s", lastActive.Format("2006-01-02")))
		}
	}

	switch s.LoginAt.Weekday() {
	case time.Saturday, time.Sunday:
		result.addFactor("weekend_activity", scoreWeekendActivity, "activity on a weekend")
	}

	if hour := s.LoginAt.Hour(); hour < tradingDayStartHour || hour >= tradingDayEndHour {
		result.addFactor("off_hours_activity", scoreOffHoursActivity,
			fmt.Sprintf("activity at %02d:00, outside 06:00-22:00", hour))
	}

	return result, nil
}

// DefaultEvaluators returns the standard evaluator set
func DefaultEvaluators(highRiskCountries []string) []Evaluator {
	return []Evaluator{
		NewLocationEvaluator(highRiskCountries),
		NewDeviceEvaluator(),
		NewBehaviorEvaluator(),
		NewTransactionEvaluator(),
		NewTemporalEvaluator(),
	}
}
