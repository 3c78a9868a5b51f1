package billing

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/obsmetrics"
	"github.com/burncloud/burncloud-router/internal/store"
)

// Settler closes out a request: resolve prices, compute cost, decrement the
// token's quota, and enqueue the journal row. Settlement runs on every exit
// path of the failover loop before the handler returns.
type Settler struct {
	db      *gorm.DB
	journal *Journal
}

func NewSettler(db *gorm.DB, journal *Journal) *Settler {
	return &Settler{db: db, journal: journal}
}

// Outcome is what the proxy loop hands to Settle.
type Outcome struct {
	StatusCode int
	LatencyMs  int64
	Usage      TokenUsage
	Estimated  bool
	IsBatch    bool
	IsPriority bool
	Region     string
}

// Settle computes and applies the charge for one finished request, then
// journals it. Billing errors are logged and counted, never surfaced to the
// client; the response has already been relayed.
func (s *Settler) Settle(m *meta.Meta, o *Outcome) {
	cost := s.price(m, o)

	chargeNano := cost.USDNano
	chargeCurrency := "USD"
	if m.Currency != "" && m.Currency != "USD" && cost.LocalNano > 0 {
		chargeNano = cost.LocalNano
		chargeCurrency = m.Currency
	}

	if chargeNano > 0 && !m.Unlimited {
		clamped, err := store.DecrementQuota(s.db, m.TokenId, chargeNano)
		if err != nil {
			obsmetrics.BillingErrors.WithLabelValues("quota_decrement").Inc()
			obslog.Logger.Error("quota decrement failed", zap.Error(err),
				zap.Int("token_id", m.TokenId), zap.String("request_id", m.RequestId))
		} else if clamped {
			// The request was already served; clamp and warn rather than fail.
			obslog.Logger.Warn("quota decrement clamped at zero",
				zap.Int("token_id", m.TokenId), zap.Int64("charge_nano", chargeNano))
		}
	}

	s.journal.Push(&store.LogEntry{
		RequestId:        m.RequestId,
		UserId:           m.UserId,
		Path:             m.RequestURLPath,
		UpstreamId:       m.UpstreamId,
		StatusCode:       o.StatusCode,
		LatencyMs:        o.LatencyMs,
		PromptTokens:     int(o.Usage.Prompt),
		CompletionTokens: int(o.Usage.Completion),
		Estimated:        o.Estimated,
		CostNano:         chargeNano,
		Currency:         chargeCurrency,
	})
}

// price resolves the price cards and tier table for the request's model.
func (s *Settler) price(m *meta.Meta, o *Outcome) Cost {
	if m.Model == "" {
		return Cost{}
	}
	usd, err := store.GetPrice(s.db, m.Model, "USD", o.Region)
	if err != nil {
		obsmetrics.BillingErrors.WithLabelValues("price_lookup").Inc()
		obslog.Logger.Error("price lookup failed", zap.Error(err), zap.String("model", m.Model))
		return Cost{}
	}
	if usd == nil {
		// Unpriced model: relay for free, but say so.
		obslog.Logger.Debug("no price card for model", zap.String("model", m.Model))
		return Cost{}
	}

	pricing := MultiCurrencyPricing{USD: usd}
	if m.Currency != "" && m.Currency != "USD" {
		local, err := store.GetPrice(s.db, m.Model, m.Currency, o.Region)
		if err == nil && local != nil {
			pricing.Local = local
		} else if rate, rerr := store.GetExchangeRate(s.db, "USD", m.Currency); rerr == nil && rate != nil {
			pricing.ExchangeRateScaled = rate.Rate
		}
	}

	tiers, err := store.GetTieredPrices(s.db, m.Model, o.Region, "USD")
	if err != nil {
		obsmetrics.BillingErrors.WithLabelValues("tier_lookup").Inc()
		tiers = nil
	}
	return Calculate(o.Usage, pricing, tiers, o.IsBatch, o.IsPriority)
}
