package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/burncloud/burncloud-router/internal/store"
)

// The qwen-intl curve: $1.2/M up to 32k, $2.4/M to 128k, $3.0/M to 252k.
func qwenTiers() []store.TieredPrice {
	return []store.TieredPrice{
		{Model: "qwen-intl", Currency: "USD", TierStart: 0, TierEnd: i64(32_000), InputPrice: 1_200_000_000, OutputPrice: 2_400_000_000},
		{Model: "qwen-intl", Currency: "USD", TierStart: 32_000, TierEnd: i64(128_000), InputPrice: 2_400_000_000, OutputPrice: 4_800_000_000},
		{Model: "qwen-intl", Currency: "USD", TierStart: 128_000, TierEnd: i64(252_000), InputPrice: 3_000_000_000, OutputPrice: 6_000_000_000},
	}
}

func TestTieredCost_SegmentedAccumulation(t *testing.T) {
	// 32k at $1.2/M + 96k at $2.4/M + 22k at $3.0/M = $0.3348
	got := TieredCost(qwenTiers(), 150_000)
	assert.Equal(t, int64(334_800_000), got)
}

func TestTieredCost_BoundaryChargesLowerTier(t *testing.T) {
	// Exactly 32k tokens all bill at the first tier's price.
	got := TieredCost(qwenTiers(), 32_000)
	assert.Equal(t, int64(38_400_000), got)
}

func TestTieredCost_BeyondLastTierUsesLastPrice(t *testing.T) {
	// 300k: the 48k tokens past tier_end=252k stay at $3.0/M.
	got := TieredCost(qwenTiers(), 300_000)
	want := int64(38_400_000 + 230_400_000) + tokenCost(300_000-128_000, 3_000_000_000)
	assert.Equal(t, want, got)
}

func TestTieredCost_ZeroTokensIsFree(t *testing.T) {
	assert.Equal(t, int64(0), TieredCost(qwenTiers(), 0))
}

func TestTieredCost_UnsortedInputIsSorted(t *testing.T) {
	tiers := qwenTiers()
	tiers[0], tiers[2] = tiers[2], tiers[0]
	assert.Equal(t, int64(334_800_000), TieredCost(tiers, 150_000))
}

func TestTieredCost_MonotonicallyNonDecreasing(t *testing.T) {
	tiers := qwenTiers()
	prev := int64(-1)
	for n := int64(0); n <= 300_000; n += 1_000 {
		cost := TieredCost(tiers, n)
		assert.GreaterOrEqual(t, cost, prev, "cost dipped at n=%d", n)
		prev = cost
	}
}

func TestTieredCost_OpenEndedFinalTier(t *testing.T) {
	tiers := []store.TieredPrice{
		{TierStart: 0, TierEnd: i64(1000), InputPrice: 1_000_000_000},
		{TierStart: 1000, TierEnd: nil, InputPrice: 500_000_000},
	}
	got := TieredCost(tiers, 3000)
	assert.Equal(t, tokenCost(1000, 1_000_000_000)+tokenCost(2000, 500_000_000), got)
}

func TestTieredOutputCost_UsesOutputColumn(t *testing.T) {
	got := TieredOutputCost(qwenTiers(), 32_000)
	assert.Equal(t, int64(76_800_000), got) // 32k at $2.4/M
}

func TestCalculate_TieredReplacesStandard(t *testing.T) {
	cost := Calculate(
		TokenUsage{Prompt: 150_000, Completion: 0},
		MultiCurrencyPricing{USD: &store.Price{Model: "qwen-intl", Currency: "USD", InputPrice: 99, OutputPrice: 99}},
		qwenTiers(), false, false)
	assert.Equal(t, int64(334_800_000), cost.USDNano)
}
