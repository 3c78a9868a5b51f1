package billing

import (
	"sort"

	"github.com/burncloud/burncloud-router/internal/store"
)

// TieredCost charges tokens against a segmented price curve: each tier
// charges its own input price for the tokens falling inside
// [tier_start, tier_end); tokens beyond the last tier are charged at the
// last tier's price. A token count landing exactly on a tier_end is charged
// entirely at the lower tier.
func TieredCost(tiers []store.TieredPrice, tokens int64) int64 {
	return tieredCost(tiers, tokens, func(t store.TieredPrice) int64 { return t.InputPrice })
}

// TieredOutputCost is TieredCost over the same tier table's output price.
func TieredOutputCost(tiers []store.TieredPrice, tokens int64) int64 {
	return tieredCost(tiers, tokens, func(t store.TieredPrice) int64 { return t.OutputPrice })
}

func tieredCost(tiers []store.TieredPrice, tokens int64, price func(store.TieredPrice) int64) int64 {
	if tokens <= 0 || len(tiers) == 0 {
		return 0
	}
	sorted := make([]store.TieredPrice, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TierStart < sorted[j].TierStart })

	var total int64
	remaining := tokens
	for i, tier := range sorted {
		if remaining <= 0 {
			break
		}
		start := tier.TierStart
		if tokens <= start {
			break
		}
		var width int64
		if tier.TierEnd != nil {
			width = *tier.TierEnd - start
		} else {
			width = remaining
		}
		last := i == len(sorted)-1
		inTier := tokens - start
		if !last && inTier > width {
			inTier = width
		}
		total += tokenCost(inTier, price(tier))
		remaining -= inTier
	}
	return total
}
