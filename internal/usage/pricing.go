package usage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	liteLLMPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	pricingCacheTTL   = 5 * time.Minute
	tieredThreshold   = 200_000
)

// ModelPricing mirrors the subset of LiteLLM's per-model pricing record
// this engine bills against.
type ModelPricing struct {
	InputCostPerToken           float64 `json:"input_cost_per_token"`
	OutputCostPerToken          float64 `json:"output_cost_per_token"`
	CacheCreationInputTokenCost float64 `json:"cache_creation_input_token_cost"`
	CacheReadInputTokenCost     float64 `json:"cache_read_input_token_cost"`
	InputCostPerTokenAbove200k  float64 `json:"input_cost_per_token_above_200k_tokens"`
	OutputCostPerTokenAbove200k float64 `json:"output_cost_per_token_above_200k_tokens"`
	CacheCreationCostAbove200k  float64 `json:"cache_creation_input_token_cost_above_200k_tokens"`
	CacheReadCostAbove200k      float64 `json:"cache_read_input_token_cost_above_200k_tokens"`
}

// PricingFetcher fetches and caches LiteLLM's published model pricing
// table in memory, grounded on the teacher's PricingFetcher
// (internal/usage/pricing.go). The teacher additionally persists a disk
// cache under os.TempDir so pricing survives process restarts; this
// engine's cost estimate is advisory display data recomputed each run, so
// the in-memory TTL cache alone is kept.
type PricingFetcher struct {
	mu         sync.RWMutex
	cache      map[string]ModelPricing
	lastFetch  time.Time
	httpClient *http.Client
}

var providerPrefixes = []string{"", "anthropic/", "openai/", "google/", "azure/"}

func NewPricingFetcher() *PricingFetcher {
	return &PricingFetcher{
		cache:      make(map[string]ModelPricing),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetPricing returns pricing for a model, fetching the LiteLLM table if the
// cache is empty or stale.
func (p *PricingFetcher) GetPricing(modelName string) (ModelPricing, error) {
	if err := p.ensureLoaded(); err != nil {
		return ModelPricing{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pricing, ok := p.cache[modelName]; ok {
		return pricing, nil
	}
	for _, prefix := range providerPrefixes {
		if pricing, ok := p.cache[prefix+modelName]; ok {
			return pricing, nil
		}
	}

	lower := strings.ToLower(modelName)
	for key, pricing := range p.cache {
		keyLower := strings.ToLower(key)
		if strings.Contains(keyLower, lower) || strings.Contains(lower, keyLower) {
			return pricing, nil
		}
	}

	return ModelPricing{}, fmt.Errorf("pricing not found for model: %s", modelName)
}

func (p *PricingFetcher) ensureLoaded() error {
	p.mu.RLock()
	fresh := len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL
	p.mu.RUnlock()
	if fresh {
		return nil
	}
	return p.fetch()
}

func (p *PricingFetcher) fetch() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL {
		return nil
	}

	resp, err := p.httpClient.Get(liteLLMPricingURL)
	if err != nil {
		return fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch pricing: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read pricing body: %w", err)
	}
	return p.parseData(data)
}

func (p *PricingFetcher) parseData(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse pricing json: %w", err)
	}

	newCache := make(map[string]ModelPricing, len(raw))
	for key, value := range raw {
		var pricing ModelPricing
		if err := json.Unmarshal(value, &pricing); err != nil {
			continue
		}
		newCache[key] = pricing
	}

	p.cache = newCache
	p.lastFetch = time.Now()
	return nil
}

// CalculateCost estimates USD cost for an entry's token counts, applying
// LiteLLM's 200k-token tiered pricing where published.
func (p *PricingFetcher) CalculateCost(e Entry) (float64, error) {
	if e.Model == "" {
		return 0, nil
	}
	pricing, err := p.GetPricing(e.Model)
	if err != nil {
		return 0, err
	}

	cost := calculateTieredCost(e.InputTokens, pricing.InputCostPerToken, pricing.InputCostPerTokenAbove200k)
	cost += calculateTieredCost(e.OutputTokens, pricing.OutputCostPerToken, pricing.OutputCostPerTokenAbove200k)
	cost += calculateTieredCost(e.CacheWriteTokens, pricing.CacheCreationInputTokenCost, pricing.CacheCreationCostAbove200k)
	cost += calculateTieredCost(e.CachedInputTokens, pricing.CacheReadInputTokenCost, pricing.CacheReadCostAbove200k)
	return cost, nil
}

func calculateTieredCost(tokens int, basePrice, tieredPrice float64) float64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > tieredThreshold && tieredPrice > 0 {
		belowThreshold := tieredThreshold
		aboveThreshold := tokens - tieredThreshold
		cost := float64(aboveThreshold) * tieredPrice
		if basePrice > 0 {
			cost += float64(belowThreshold) * basePrice
		}
		return cost
	}
	if basePrice > 0 {
		return float64(tokens) * basePrice
	}
	return 0
}
