package entity

import (
	"time"

	"recloud/lib/clock"
)

// Duration encodes promo benefit lifetimes. Values 1..6 map to a finite
// day count; 7 and any unrecognized value mean permanent. The mapping is
// a stored-data convention and must stay stable.
type Duration int

const (
	DurationDay       Duration = 1
	DurationWeek      Duration = 2
	DurationMonth     Duration = 3
	DurationQuarter   Duration = 4
	DurationHalfYear  Duration = 5
	DurationYear      Duration = 6
	DurationPermanent Duration = 7
)

// Days returns the finite day count for the duration. ok is false for
// permanent or unknown values.
func (d Duration) Days() (days int, ok bool) {
	switch d {
	case DurationDay:
		return 1, true
	case DurationWeek:
		return 7, true
	case DurationMonth:
		return 30, true
	case DurationQuarter:
		return 90, true
	case DurationHalfYear:
		return 180, true
	case DurationYear:
		return 365, true
	}
	return 0, false
}

// ExpiryFrom returns the formatted expiry timestamp for a benefit granted
// at the given moment, or "" for a permanent duration.
func (d Duration) ExpiryFrom(now time.Time) string {
	days, ok := d.Days()
	if !ok {
		return ""
	}
	return clock.Format(now.AddDate(0, 0, days))
}

// Redemption records a single user's redemption of a code. A user id
// appears at most once; the engine enforces this, not the store.
type Redemption struct {
	Id           string `json:"id" bson:"id"`
	Username     string `json:"username" bson:"username"`
	RedeemedAt   string `json:"redeemed_at" bson:"redeemed_at"`
	PremiumGiven bool   `json:"premium_given" bson:"premium_given"`
	SlotsGiven   int    `json:"slots_given" bson:"slots_given"`
}

// PromoCode is a redeemable grant definition. Codes compare
// case-insensitively; UsesLimit 0 means unlimited.
type PromoCode struct {
	Id              string       `json:"id" bson:"id"`
	Code            string       `json:"code" bson:"code"`
	Description     string       `json:"description" bson:"description"`
	UsesLimit       int          `json:"uses_limit" bson:"uses_limit"`
	UsesCount       int          `json:"uses_count" bson:"uses_count"`
	ExpiresAt       string       `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	GivesPremium    bool         `json:"gives_premium" bson:"gives_premium"`
	PremiumDuration Duration     `json:"premium_duration" bson:"premium_duration"`
	Slots           int          `json:"slots" bson:"slots"`
	SlotsDuration   Duration     `json:"slots_duration" bson:"slots_duration"`
	Group           string       `json:"group" bson:"group"`
	CreatedAt       string       `json:"created_at" bson:"created_at"`
	CreatedBy       string       `json:"created_by" bson:"created_by"`
	RedeemedBy      []Redemption `json:"redeemed_by" bson:"redeemed_by"`
}

// Expired reports whether the code's expiry date has passed. The
// comparison is date-granular: a code expires at the end of its calendar
// day. Unreadable dates do not expire the code.
func (p *PromoCode) Expired(now time.Time) bool {
	if p.ExpiresAt == "" {
		return false
	}
	expiresAt, err := clock.ParseDate(p.ExpiresAt)
	if err != nil {
		return false
	}
	return now.After(expiresAt)
}

// UsesExhausted reports whether the usage limit has been reached.
func (p *PromoCode) UsesExhausted() bool {
	return p.UsesLimit > 0 && p.UsesCount >= p.UsesLimit
}

// RedeemedByUser reports whether the given user id already redeemed this code.
func (p *PromoCode) RedeemedByUser(userId string) bool {
	for _, r := range p.RedeemedBy {
		if r.Id == userId {
			return true
		}
	}
	return false
}
