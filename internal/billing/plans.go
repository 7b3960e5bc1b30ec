package billing

import "kidscan/internal/types"

// planInfo carries the static attributes of a capacity tier.
type planInfo struct {
	displayName string
	lookupKey   string
	// fallbackCents is used only when the provider catalog is unreachable;
	// the live catalog is always preferred.
	fallbackCents int64
}

var plans = map[types.PlanType]planInfo{
	types.PlanSingleCan: {
		displayName:   "Trash Service - Single Can",
		lookupKey:     "kids_can_single_can_task_price",
		fallbackCents: 500,
	},
	types.PlanDoubleCan: {
		displayName:   "Trash Service - Double Can",
		lookupKey:     "kids_can_double_can_task_price",
		fallbackCents: 800,
	},
	types.PlanTripleCan: {
		displayName:   "Trash Service - Triple Can",
		lookupKey:     "kids_can_triple_can_task_price",
		fallbackCents: 1100,
	},
}

// DisplayName returns the service display name derived from a plan tier.
// Unknown tiers get the generic name.
func DisplayName(plan types.PlanType) string {
	if info, ok := plans[plan]; ok {
		return info.displayName
	}
	return "Trash Service"
}

// LookupKey returns the provider price lookup key for a plan tier.
func LookupKey(plan types.PlanType) string {
	return plans[plan].lookupKey
}

// FallbackPriceCents returns the static fallback price for a plan tier,
// used when the live catalog cannot be reached and the caller supplied no
// price of its own.
func FallbackPriceCents(plan types.PlanType) int64 {
	return plans[plan].fallbackCents
}

// PlanCapacity returns the highest can number a plan tier covers.
func PlanCapacity(plan types.PlanType) int {
	switch plan {
	case types.PlanSingleCan:
		return 1
	case types.PlanDoubleCan:
		return 2
	case types.PlanTripleCan:
		return 3
	default:
		return 0
	}
}
