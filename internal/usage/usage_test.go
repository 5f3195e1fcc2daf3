package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeai/engine/internal/llm"
)

func TestAggregateDaily_GroupsByDate(t *testing.T) {
	day1 := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Timestamp: day1, Model: "claude-opus-4", InputTokens: 100, OutputTokens: 50, CostUSD: 0.1},
		{Timestamp: day1, Model: "claude-opus-4", InputTokens: 20, OutputTokens: 10, CostUSD: 0.02},
		{Timestamp: day2, Model: "gpt-5", InputTokens: 5, OutputTokens: 5, CostUSD: 0.01},
	}

	daily := AggregateDaily(entries)
	require.Len(t, daily, 2)
	require.Equal(t, "2026-07-01", daily[0].Date)
	require.Equal(t, 120, daily[0].InputTokens)
	require.Equal(t, 60, daily[0].OutputTokens)
	require.InDelta(t, 0.12, daily[0].TotalCost, 1e-9)
	require.Equal(t, []string{"claude-opus-4"}, daily[0].ModelsUsed)
	require.Equal(t, "2026-07-02", daily[1].Date)
}

func TestAggregateByModel_SortsByTotalTokensDescending(t *testing.T) {
	entries := []Entry{
		{Model: "small", InputTokens: 1, OutputTokens: 1},
		{Model: "big", InputTokens: 1000, OutputTokens: 500},
	}
	breakdown := AggregateByModel(entries)
	require.Len(t, breakdown, 2)
	require.Equal(t, "big", breakdown[0].Model)
	require.Equal(t, "small", breakdown[1].Model)
}

func TestAggregateByModel_UnknownModelBucketed(t *testing.T) {
	entries := []Entry{{InputTokens: 10}}
	breakdown := AggregateByModel(entries)
	require.Len(t, breakdown, 1)
	require.Equal(t, "unknown", breakdown[0].Model)
}

func TestCalculateTieredCost_AppliesThresholdAbove200k(t *testing.T) {
	cost := calculateTieredCost(250_000, 0.000003, 0.000006)
	expected := float64(200_000)*0.000003 + float64(50_000)*0.000006
	require.InDelta(t, expected, cost, 1e-9)
}

func TestCalculateTieredCost_BelowThresholdUsesBasePrice(t *testing.T) {
	cost := calculateTieredCost(1000, 0.00001, 0.00002)
	require.InDelta(t, 0.01, cost, 1e-9)
}

func TestPricingFetcher_GetPricing_MatchesProviderPrefix(t *testing.T) {
	p := NewPricingFetcher()
	require.NoError(t, p.parseData([]byte(`{"anthropic/claude-opus-4":{"input_cost_per_token":0.000015,"output_cost_per_token":0.000075}}`)))

	pricing, err := p.GetPricing("claude-opus-4")
	require.NoError(t, err)
	require.InDelta(t, 0.000015, pricing.InputCostPerToken, 1e-12)
}

func TestPricingFetcher_GetPricing_UnknownModelErrors(t *testing.T) {
	p := NewPricingFetcher()
	require.NoError(t, p.parseData([]byte(`{}`)))

	_, err := p.GetPricing("nonexistent-model")
	require.Error(t, err)
}

func TestRecorder_RecordAccumulatesEntriesAndTotals(t *testing.T) {
	p := NewPricingFetcher()
	require.NoError(t, p.parseData([]byte(`{"test-model":{"input_cost_per_token":0.000002,"output_cost_per_token":0.000004}}`)))

	r := NewRecorder(p)
	r.Record("session-1", "test-model", llm.Usage{InputTokens: 100, OutputTokens: 50})
	r.Record("session-1", "test-model", llm.Usage{InputTokens: 10, OutputTokens: 5})

	entries := r.Entries()
	require.Len(t, entries, 2)

	total := r.Totals()
	require.Equal(t, 110, total.InputTokens)
	require.Equal(t, 55, total.OutputTokens)
	require.Greater(t, total.CostUSD, 0.0)
}

func TestRecorder_RecordWithNilPricingLeavesCostZero(t *testing.T) {
	r := NewRecorder(nil)
	e := r.Record("session-1", "any-model", llm.Usage{InputTokens: 10, OutputTokens: 5})
	require.Equal(t, 0.0, e.CostUSD)
}
