// Package store holds the gorm models and queries for the router core's
// relational schema.
package store

// Upstream is one concrete provider endpoint.
type Upstream struct {
	Id         string `gorm:"primaryKey;size:64" json:"id"`
	Name       string `gorm:"size:128" json:"name"`
	BaseURL    string `gorm:"size:512" json:"base_url"`
	APIKey     string `gorm:"size:512" json:"api_key"`
	AuthType   string `gorm:"size:32" json:"auth_type"`
	Protocol   string `gorm:"size:32;index" json:"protocol"`
	MatchPath  string `gorm:"size:256;index" json:"match_path"`
	Priority   int    `gorm:"default:0" json:"priority"`
	RateLimit  int    `gorm:"default:0" json:"rate_limit"` // requests/minute, 0 = unlimited
	JWTSecret  string `gorm:"size:256" json:"jwt_secret,omitempty"`
}

func (Upstream) TableName() string { return "upstreams" }

// Group is a named load-balanced set of Upstreams.
type Group struct {
	Id        string `gorm:"primaryKey;size:64" json:"id"`
	Name      string `gorm:"size:128" json:"name"`
	MatchPath string `gorm:"size:256;index" json:"match_path"`
	Strategy  string `gorm:"size:32" json:"strategy"` // round_robin | weighted | priority
}

func (Group) TableName() string { return "groups" }

// GroupMember is the (group, upstream) edge carrying a load-balancing weight.
type GroupMember struct {
	GroupId    string `gorm:"primaryKey;size:64" json:"group_id"`
	UpstreamId string `gorm:"primaryKey;size:64" json:"upstream_id"`
	Weight     int    `gorm:"default:1" json:"weight"`
}

func (GroupMember) TableName() string { return "group_members" }

// Token is an inbound API key for one end-user.
type Token struct {
	Id             int    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserId         int    `gorm:"index" json:"user_id"`
	Key            string `gorm:"size:48;uniqueIndex" json:"key"`
	Status         int    `gorm:"default:1" json:"status"` // 1 = active
	Name           string `gorm:"size:128" json:"name"`
	RemainQuota    int64  `gorm:"default:0" json:"remain_quota"` // nanodollars
	UsedQuota      int64  `gorm:"default:0" json:"used_quota"`
	UnlimitedQuota bool   `gorm:"default:false" json:"unlimited_quota"`
	Currency       string `gorm:"size:8;default:USD" json:"currency"`
	JWTSecret      string `gorm:"size:256" json:"jwt_secret,omitempty"`
	CreatedTime    int64  `json:"created_time"`
	AccessedTime   int64  `json:"accessed_time"`
	ExpiredTime    int64  `gorm:"default:-1" json:"expired_time"` // -1 = never
}

func (Token) TableName() string { return "tokens" }

// Usable reports whether the token may authenticate now: status active AND
// (never-expires OR not yet expired) AND (unlimited OR remaining > used).
func (t *Token) Usable(nowUnix int64) bool {
	if t.Status != 1 {
		return false
	}
	if !(t.ExpiredTime == -1 || t.ExpiredTime > nowUnix) {
		return false
	}
	if t.UnlimitedQuota {
		return true
	}
	return t.RemainQuota > t.UsedQuota
}

// Price is a per-(model, currency, region) price card, all units nanodollars
// per 1M tokens.
type Price struct {
	Model    string `gorm:"primaryKey;size:128" json:"model"`
	Currency string `gorm:"primaryKey;size:8" json:"currency"`
	// Region is empty for the universal fallback card.
	Region              string `gorm:"primaryKey;size:64;default:''" json:"region"`
	InputPrice          int64  `json:"input_price"`
	OutputPrice         int64  `json:"output_price"`
	CacheReadPrice      *int64 `json:"cache_read_price"`
	CacheCreationPrice  *int64 `json:"cache_creation_price"`
	BatchInputPrice     *int64 `json:"batch_input_price"`
	BatchOutputPrice    *int64 `json:"batch_output_price"`
	PriorityInputPrice  *int64 `json:"priority_input_price"`
	PriorityOutputPrice *int64 `json:"priority_output_price"`
	AudioInputPrice     *int64 `json:"audio_input_price"`
	ContextWindow       int    `json:"context_window"`
	MaxOutputTokens     int    `json:"max_output_tokens"`
	SupportsVision      bool   `json:"supports_vision"`
	SupportsTools       bool   `json:"supports_tools"`
	SupportsAudio       bool   `json:"supports_audio"`
	SupportsThinking    bool   `json:"supports_thinking"`
	Source              string `gorm:"size:64" json:"source"`
	SyncedAt            int64  `json:"synced_at"`
}

func (Price) TableName() string { return "prices_v2" }

// TieredPrice is one segment of a usage-based price curve.
type TieredPrice struct {
	Model       string `gorm:"primaryKey;size:128" json:"model"`
	Region      string `gorm:"primaryKey;size:64" json:"region"`
	Currency    string `gorm:"primaryKey;size:8" json:"currency"`
	TierStart   int64  `gorm:"primaryKey" json:"tier_start"`
	TierEnd     *int64 `json:"tier_end"` // nil = infinity
	InputPrice  int64  `json:"input_price"`
	OutputPrice int64  `json:"output_price"`
}

func (TieredPrice) TableName() string { return "tiered_pricing" }

// ExchangeRate is a scaled (x1e9) conversion factor.
type ExchangeRate struct {
	FromCurrency string `gorm:"primaryKey;size:8" json:"from_currency"`
	ToCurrency   string `gorm:"primaryKey;size:8" json:"to_currency"`
	Rate         int64  `json:"rate"` // scaled by 1e9
	UpdatedAt    int64  `json:"updated_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// ProtocolConfig holds dynamic mapping overrides for one (channel_type,
// api_version) pair.
type ProtocolConfig struct {
	ChannelType      string `gorm:"primaryKey;size:32" json:"channel_type"`
	APIVersion       string `gorm:"primaryKey;size:32" json:"api_version"`
	IsDefault        bool   `json:"is_default"`
	ChatEndpoint     string `gorm:"size:256" json:"chat_endpoint"`
	EmbedEndpoint    string `gorm:"size:256" json:"embed_endpoint"`
	ModelsEndpoint   string `gorm:"size:256" json:"models_endpoint"`
	RequestMapping   string `gorm:"type:text" json:"request_mapping"`
	ResponseMapping  string `gorm:"type:text" json:"response_mapping"`
	DetectionRules   string `gorm:"type:text" json:"detection_rules"`
}

func (ProtocolConfig) TableName() string { return "protocol_configs" }

// LogEntry is one inbound-request outcome, appended asynchronously.
type LogEntry struct {
	Id               int    `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestId        string `gorm:"size:64;index" json:"request_id"`
	UserId           int    `gorm:"index" json:"user_id"`
	Path             string `gorm:"size:256" json:"path"`
	UpstreamId       string `gorm:"size:64" json:"upstream_id"`
	StatusCode       int    `json:"status_code"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Estimated        bool   `json:"estimated"`
	CostNano         int64  `json:"cost_nano"`
	Currency         string `gorm:"size:8" json:"currency"`
	CreatedAt        int64  `gorm:"index" json:"created_at"`
}

func (LogEntry) TableName() string { return "router_logs" }
