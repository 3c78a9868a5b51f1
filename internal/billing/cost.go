package billing

import "github.com/burncloud/burncloud-router/internal/store"

// TokenUsage is the fully-resolved usage of one call.
type TokenUsage struct {
	Prompt        int64
	Completion    int64
	CacheRead     int64
	CacheCreation int64
	Audio         int64
}

// MultiCurrencyPricing carries the USD price card plus an optional local
// card or exchange rate for tokens opened in a non-USD currency.
type MultiCurrencyPricing struct {
	USD                *store.Price
	Local              *store.Price
	ExchangeRateScaled int64 // 1e9-scaled, 0 when absent
}

// Cost is the outcome of one billing computation.
type Cost struct {
	USDNano       int64
	LocalNano     int64 // 0 when no local pricing resolved
	LocalCurrency string
}

// Calculate prices one call. Formula choice, in order: batch, priority,
// cache/audio split, standard. Tiered price sets, when present, replace the
// input/output component entirely.
func Calculate(usage TokenUsage, pricing MultiCurrencyPricing, tiers []store.TieredPrice, isBatch, isPriority bool) Cost {
	out := Cost{}
	if pricing.USD != nil {
		out.USDNano = costOneCurrency(usage, pricing.USD, filterTiers(tiers, pricing.USD.Currency), isBatch, isPriority)
	}
	if pricing.Local != nil {
		out.LocalNano = costOneCurrency(usage, pricing.Local, filterTiers(tiers, pricing.Local.Currency), isBatch, isPriority)
		out.LocalCurrency = pricing.Local.Currency
	} else if pricing.ExchangeRateScaled > 0 {
		out.LocalNano = applyRate(out.USDNano, pricing.ExchangeRateScaled)
	}
	return out
}

func filterTiers(tiers []store.TieredPrice, currency string) []store.TieredPrice {
	var out []store.TieredPrice
	for _, t := range tiers {
		if t.Currency == currency {
			out = append(out, t)
		}
	}
	return out
}

func costOneCurrency(usage TokenUsage, p *store.Price, tiers []store.TieredPrice, isBatch, isPriority bool) int64 {
	if len(tiers) > 0 {
		return TieredCost(tiers, usage.Prompt) + TieredOutputCost(tiers, usage.Completion)
	}

	switch {
	case isBatch:
		in := orDefault(p.BatchInputPrice, p.InputPrice/2)
		outp := orDefault(p.BatchOutputPrice, p.OutputPrice/2)
		return tokenCost(usage.Prompt, in) + tokenCost(usage.Completion, outp)

	case isPriority:
		in := orDefault(p.PriorityInputPrice, p.InputPrice*17/10)
		outp := orDefault(p.PriorityOutputPrice, p.OutputPrice*17/10)
		return tokenCost(usage.Prompt, in) + tokenCost(usage.Completion, outp)

	case usage.CacheRead > 0 || usage.CacheCreation > 0 || usage.Audio > 0:
		cacheRead := orDefault(p.CacheReadPrice, p.InputPrice/10)
		cacheCreate := orDefault(p.CacheCreationPrice, p.InputPrice*5/4)
		audio := orDefault(p.AudioInputPrice, p.InputPrice*7)
		fresh := usage.Prompt - usage.CacheRead
		if fresh < 0 {
			fresh = 0
		}
		return tokenCost(fresh, p.InputPrice) +
			tokenCost(usage.Completion, p.OutputPrice) +
			tokenCost(usage.CacheRead, cacheRead) +
			tokenCost(usage.CacheCreation, cacheCreate) +
			tokenCost(usage.Audio, audio)

	default:
		return tokenCost(usage.Prompt, p.InputPrice) + tokenCost(usage.Completion, p.OutputPrice)
	}
}

func orDefault(override *int64, fallback int64) int64 {
	if override != nil {
		return *override
	}
	return fallback
}
