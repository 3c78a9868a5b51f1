package store

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetTokenByKey looks up a Token by its literal opaque key.
func GetTokenByKey(db *gorm.DB, key string) (*Token, error) {
	var t Token
	err := db.Where("`key` = ?", key).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lookup token")
	}
	return &t, nil
}

// DecrementQuota subtracts amount from remain_quota and adds it to
// used_quota, clamping remain_quota at 0. If the subtraction would go
// negative, the clamp is logged by the caller (internal/billing).
func DecrementQuota(db *gorm.DB, tokenID int, amountNano int64) (clamped bool, err error) {
	var t Token
	if err := db.First(&t, tokenID).Error; err != nil {
		return false, errors.Wrap(err, "load token for decrement")
	}
	newRemain := t.RemainQuota - amountNano
	if newRemain < 0 {
		newRemain = 0
		clamped = true
	}
	res := db.Model(&Token{}).Where("id = ?", tokenID).Updates(map[string]interface{}{
		"remain_quota": newRemain,
		"used_quota":   gorm.Expr("used_quota + ?", amountNano),
	})
	if res.Error != nil {
		return clamped, errors.Wrap(res.Error, "decrement quota")
	}
	return clamped, nil
}

// UpsertPrice upserts on the (model, currency, region) composite uniqueness
// used by both admin edits and price-sync.
func UpsertPrice(db *gorm.DB, p *Price) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model"}, {Name: "currency"}, {Name: "region"}},
		UpdateAll: true,
	}).Create(p).Error
}

// UpsertTieredPrice upserts on (model, region, tier_start, currency).
func UpsertTieredPrice(db *gorm.DB, tp *TieredPrice) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model"}, {Name: "region"}, {Name: "tier_start"}, {Name: "currency"}},
		UpdateAll: true,
	}).Create(tp).Error
}

// UpsertExchangeRate upserts on (from_currency, to_currency).
func UpsertExchangeRate(db *gorm.DB, r *ExchangeRate) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "from_currency"}, {Name: "to_currency"}},
		UpdateAll: true,
	}).Create(r).Error
}

// GetTieredPrices returns the tier set for (model, region) ordered by
// tier_start ascending, ready for the segmented-accumulation walk. Like
// GetPrice, a region with no tiers of its own falls back to the universal
// (empty region) set.
func GetTieredPrices(db *gorm.DB, model, region, currency string) ([]TieredPrice, error) {
	var tiers []TieredPrice
	if region != "" {
		err := db.Where("model = ? AND region = ? AND currency = ?", model, region, currency).
			Order("tier_start ASC").Find(&tiers).Error
		if err != nil {
			return nil, errors.Wrap(err, "load tiered prices")
		}
		if len(tiers) > 0 {
			return tiers, nil
		}
	}
	err := db.Where("model = ? AND region = '' AND currency = ?", model, currency).
		Order("tier_start ASC").Find(&tiers).Error
	if err != nil {
		return nil, errors.Wrap(err, "load tiered prices")
	}
	return tiers, nil
}

// GetPrice resolves a price card, falling back to the universal (empty
// region) price when no region-specific row exists.
func GetPrice(db *gorm.DB, model, currency, region string) (*Price, error) {
	var p Price
	if region != "" {
		if err := db.Where("model = ? AND currency = ? AND region = ?", model, currency, region).First(&p).Error; err == nil {
			return &p, nil
		}
	}
	err := db.Where("model = ? AND currency = ? AND region = ''", model, currency).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load price")
	}
	return &p, nil
}

// GetExchangeRate returns the scaled conversion factor for (from, to), nil
// when no row exists.
func GetExchangeRate(db *gorm.DB, from, to string) (*ExchangeRate, error) {
	var r ExchangeRate
	err := db.Where("from_currency = ? AND to_currency = ?", from, to).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load exchange rate")
	}
	return &r, nil
}

// GetDefaultProtocolConfig returns the is_default mapping row for a channel
// type, nil when operators configured none.
func GetDefaultProtocolConfig(db *gorm.DB, channelType string) (*ProtocolConfig, error) {
	var pc ProtocolConfig
	err := db.Where("channel_type = ? AND is_default = ?", channelType, true).First(&pc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load protocol config")
	}
	return &pc, nil
}

// ListUpstreams and ListGroups/ListGroupMembers back the route resolver's
// snapshot build.
func ListUpstreams(db *gorm.DB) ([]Upstream, error) {
	var rows []Upstream
	if err := db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list upstreams")
	}
	return rows, nil
}

func ListGroups(db *gorm.DB) ([]Group, error) {
	var rows []Group
	if err := db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	return rows, nil
}

func ListGroupMembers(db *gorm.DB, groupID string) ([]GroupMember, error) {
	var rows []GroupMember
	if err := db.Where("group_id = ?", groupID).Order("weight DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list group members")
	}
	return rows, nil
}

// InsertLog appends a journal row; called by the background writer, never
// from the request path directly.
func InsertLog(db *gorm.DB, entry *LogEntry) error {
	return errors.Wrap(db.Create(entry).Error, "insert log")
}
