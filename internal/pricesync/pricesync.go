// Package pricesync periodically pulls model price catalogues (LiteLLM
// format), converts per-token costs to per-million nanodollar price cards,
// and upserts them into the store. Sync failures log and retry on the next
// tick; they never touch the request path.
package pricesync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/appconfig"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/notify"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/store"
)

// catalogueEntry is one model's record in a LiteLLM-style catalogue. Costs
// are USD per single token.
type catalogueEntry struct {
	InputCostPerToken           float64 `json:"input_cost_per_token"`
	OutputCostPerToken          float64 `json:"output_cost_per_token"`
	CacheReadInputTokenCost     float64 `json:"cache_read_input_token_cost"`
	CacheCreationInputTokenCost float64 `json:"cache_creation_input_token_cost"`
	InputCostPerAudioToken      float64 `json:"input_cost_per_audio_token"`
	MaxInputTokens              int     `json:"max_input_tokens"`
	MaxOutputTokens             int     `json:"max_output_tokens"`
	SupportsVision              bool    `json:"supports_vision"`
	SupportsFunctionCalling     bool    `json:"supports_function_calling"`
	SupportsAudioInput          bool    `json:"supports_audio_input"`
	SupportsReasoning           bool    `json:"supports_reasoning"`
}

// source is one catalogue origin; lower rank wins when the same model
// appears in several sources.
type source struct {
	name  string
	rank  int
	fetch func(ctx context.Context) (map[string]catalogueEntry, error)
}

// Syncer drives the periodic fetch-and-upsert.
type Syncer struct {
	db     *gorm.DB
	client *http.Client
	sink   *notify.Sink
}

func New(db *gorm.DB, sink *notify.Sink) *Syncer {
	return &Syncer{
		db:     db,
		client: &http.Client{Timeout: 30 * time.Second},
		sink:   sink,
	}
}

// Run loops until ctx is cancelled, syncing once immediately and then on
// every interval tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.SyncOnce(ctx); err != nil {
			obslog.Logger.Error("price sync failed", zap.Error(err))
			s.sink.Post(ctx, "price sync failed: "+err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce fetches every configured source concurrently and upserts the
// merged result. Source priority: local override file > local main file >
// community repo > upstream catalogue.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	sources := s.sources()
	if len(sources) == 0 {
		return nil
	}

	var mu sync.Mutex
	merged := map[string]catalogueEntry{}
	ranks := map[string]int{}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			entries, err := src.fetch(gctx)
			if err != nil {
				// One bad source should not block the others.
				obslog.Logger.Warn("price source fetch failed",
					zap.String("source", src.name), zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for model, e := range entries {
				if prev, ok := ranks[model]; ok && prev <= src.rank {
					continue
				}
				merged[model] = e
				ranks[model] = src.rank
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().Unix()
	count := 0
	for model, e := range merged {
		price := toPrice(model, e, now)
		if err := store.UpsertPrice(s.db, price); err != nil {
			return errors.Wrapf(err, "upsert price for %s", model)
		}
		count++
	}
	obslog.Logger.Info("price sync complete", zap.Int("models", count))
	return nil
}

func (s *Syncer) sources() []source {
	var out []source
	if f := appconfig.PriceSyncLocalOverrideFile; f != "" {
		out = append(out, source{name: "local-override", rank: 0, fetch: fileFetcher(f)})
	}
	if f := appconfig.PriceSyncLocalMainFile; f != "" {
		out = append(out, source{name: "local-main", rank: 1, fetch: fileFetcher(f)})
	}
	if u := appconfig.PriceSyncCommunityURL; u != "" {
		out = append(out, source{name: "community", rank: 2, fetch: s.httpFetcher(u)})
	}
	if u := appconfig.PriceSyncUpstreamURL; u != "" {
		out = append(out, source{name: "upstream", rank: 3, fetch: s.httpFetcher(u)})
	}
	return out
}

func (s *Syncer) httpFetcher(url string) func(ctx context.Context) (map[string]catalogueEntry, error) {
	return func(ctx context.Context) (map[string]catalogueEntry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "fetch catalogue")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("catalogue fetch returned %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read catalogue")
		}
		return parseCatalogue(raw)
	}
}

func fileFetcher(path string) func(ctx context.Context) (map[string]catalogueEntry, error) {
	return func(ctx context.Context) (map[string]catalogueEntry, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read catalogue file")
		}
		return parseCatalogue(raw)
	}
}

func parseCatalogue(raw []byte) (map[string]catalogueEntry, error) {
	var entries map[string]catalogueEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "parse catalogue")
	}
	// The LiteLLM catalogue carries a sample entry under this key.
	delete(entries, "sample_spec")
	return entries, nil
}

// toPrice converts a per-token USD cost into a per-million-token nanodollar
// price card.
func toPrice(model string, e catalogueEntry, syncedAt int64) *store.Price {
	p := &store.Price{
		Model:            model,
		Currency:         "USD",
		InputPrice:       perTokenToPerMillionNano(e.InputCostPerToken),
		OutputPrice:      perTokenToPerMillionNano(e.OutputCostPerToken),
		ContextWindow:    e.MaxInputTokens,
		MaxOutputTokens:  e.MaxOutputTokens,
		SupportsVision:   e.SupportsVision,
		SupportsTools:    e.SupportsFunctionCalling,
		SupportsAudio:    e.SupportsAudioInput,
		SupportsThinking: e.SupportsReasoning,
		Source:           "sync",
		SyncedAt:         syncedAt,
	}
	if e.CacheReadInputTokenCost > 0 {
		v := perTokenToPerMillionNano(e.CacheReadInputTokenCost)
		p.CacheReadPrice = &v
	}
	if e.CacheCreationInputTokenCost > 0 {
		v := perTokenToPerMillionNano(e.CacheCreationInputTokenCost)
		p.CacheCreationPrice = &v
	}
	if e.InputCostPerAudioToken > 0 {
		v := perTokenToPerMillionNano(e.InputCostPerAudioToken)
		p.AudioInputPrice = &v
	}
	return p
}

func perTokenToPerMillionNano(costPerToken float64) int64 {
	return billing.DollarsToNano(costPerToken * 1_000_000)
}
