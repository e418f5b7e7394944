package profile

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/values"
)

// Session captures the device/location metadata of the session being assessed.
// Collected by the auth collaborator and passed through unchanged.
type Session struct {
	UserID            uuid.UUID  `json:"user_id"`
	SessionID         string     `json:"session_id"`
	IPAddress         string     `json:"ip_address"`
	Country           string     `json:"country"`
	City              string     `json:"city"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceTrusted     bool       `json:"device_trusted"`
	UserAgent         string     `json:"user_agent"`
	LoginAt           time.Time  `json:"login_at"`
	Duration          time.Duration `json:"duration"`
	FirstActionAt     *time.Time `json:"first_action_at,omitempty"`
}

// TransactionType categorizes money movements
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionTransfer   TransactionType = "transfer"
	TransactionPayment    TransactionType = "payment"
)

// Transaction describes a money movement under assessment
type Transaction struct {
	ID         uuid.UUID       `json:"id"`
	Type       TransactionType `json:"type"`
	Amount     values.Money    `json:"amount"`
	Recipient  string          `json:"recipient,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// OrderSide is the direction of a trade order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// TradeOrder describes the trading activity under assessment
type TradeOrder struct {
	ID       uuid.UUID    `json:"id"`
	Symbol   string       `json:"symbol"`
	Side     OrderSide    `json:"side"`
	Quantity float64      `json:"quantity"`
	Price    values.Money `json:"price"`
	Notional values.Money `json:"notional"`
	PlacedAt time.Time    `json:"placed_at"`
}

// History is the user's accumulated risk profile: what locations, devices
// and hours are normal for this user. Supplied by the profile collaborator.
type History struct {
	UserID             uuid.UUID     `json:"user_id"`
	RegisteredAt       time.Time     `json:"registered_at"`
	KnownCountries     []string      `json:"known_countries"`
	KnownCities        []string      `json:"known_cities"`
	KnownDevices       []string      `json:"known_devices"`
	TypicalLoginHours  []int         `json:"typical_login_hours"`
	AvgSessionDuration time.Duration `json:"avg_session_duration"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty"`
	LastLoginCountry   string        `json:"last_login_country,omitempty"`
	LastActivityAt     *time.Time    `json:"last_activity_at,omitempty"`
}

// AccountAge returns how long the account has existed at the given instant
func (h History) AccountAge(now time.Time) time.Duration {
	return now.Sub(h.RegisteredAt)
}

// KnowsCountry reports whether the country appears in the user's history
func (h History) KnowsCountry(country string) bool {
	return containsFold(h.KnownCountries, country)
}

// KnowsCity reports whether the city appears in the user's history
func (h History) KnowsCity(city string) bool {
	return containsFold(h.KnownCities, city)
}

// KnowsDevice reports whether the fingerprint appears in the user's history
func (h History) KnowsDevice(fingerprint string) bool {
	for _, d := range h.KnownDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

// TypicalHour reports whether hour falls within any typical login hour ±tolerance
func (h History) TypicalHour(hour, tolerance int) bool {
	for _, typical := range h.TypicalLoginHours {
		diff := hour - typical
		if diff < 0 {
			diff = -diff
		}
		// Wrap around midnight
		if wrapped := 24 - diff; wrapped < diff {
			diff = wrapped
		}
		if diff <= tolerance {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
