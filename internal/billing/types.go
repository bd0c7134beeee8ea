// Package billing maps subscription tiers, issued by the external billing
// provider and carried in access tokens, to journal entitlements.
package billing

import (
	"strings"
)

// SubscriptionTier represents the user's subscription level
type SubscriptionTier string

const (
	TierFree   SubscriptionTier = "free"
	TierTrader SubscriptionTier = "trader"
	TierPro    SubscriptionTier = "pro"
	TierWhale  SubscriptionTier = "whale"
)

// ParseTier normalizes a claim value. Unknown tiers are free.
func ParseTier(s string) SubscriptionTier {
	switch SubscriptionTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierTrader:
		return TierTrader
	case TierPro:
		return TierPro
	case TierWhale:
		return TierWhale
	default:
		return TierFree
	}
}

// TierLimits defines the limits for each subscription tier
type TierLimits struct {
	DefaultDailyTrades int // allotment used before the trader picks their own
	HistoryDays        int // how far back day records can be read, -1 unlimited
}

// GetTierLimits returns the limits for a given tier
func GetTierLimits(tier SubscriptionTier) TierLimits {
	switch tier {
	case TierFree:
		return TierLimits{
			DefaultDailyTrades: 3,
			HistoryDays:        30,
		}
	case TierTrader:
		return TierLimits{
			DefaultDailyTrades: 5,
			HistoryDays:        180,
		}
	case TierPro:
		return TierLimits{
			DefaultDailyTrades: 8,
			HistoryDays:        365,
		}
	case TierWhale:
		return TierLimits{
			DefaultDailyTrades: 10,
			HistoryDays:        -1, // Unlimited
		}
	default:
		return GetTierLimits(TierFree)
	}
}

// DefaultDailyTrades returns the tier's starting allotment
func DefaultDailyTrades(tier string) int {
	return GetTierLimits(ParseTier(tier)).DefaultDailyTrades
}

// HistoryAllowed reports whether a record daysAgo days old is readable.
func HistoryAllowed(tier SubscriptionTier, daysAgo int) bool {
	limit := GetTierLimits(tier).HistoryDays
	return limit < 0 || daysAgo <= limit
}
