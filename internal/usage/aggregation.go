package usage

import "sort"

// AggregateDaily groups entries by calendar day, grounded on the teacher's
// AggregateDaily in internal/usage/aggregation.go.
func AggregateDaily(entries []Entry) []DailyUsage {
	if len(entries) == 0 {
		return nil
	}

	byDate := make(map[string]*DailyUsage)
	for _, e := range entries {
		date := e.Timestamp.Format("2006-01-02")
		daily, ok := byDate[date]
		if !ok {
			daily = &DailyUsage{Date: date}
			byDate[date] = daily
		}

		daily.InputTokens += e.InputTokens
		daily.OutputTokens += e.OutputTokens
		daily.CachedInputTokens += e.CachedInputTokens
		daily.CacheWriteTokens += e.CacheWriteTokens
		daily.TotalCost += e.CostUSD

		if e.Model != "" && !containsString(daily.ModelsUsed, e.Model) {
			daily.ModelsUsed = append(daily.ModelsUsed, e.Model)
		}
	}

	result := make([]DailyUsage, 0, len(byDate))
	for _, daily := range byDate {
		result = append(result, *daily)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result
}

// AggregateByModel groups entries by model name, grounded on the teacher's
// GetModelBreakdown.
func AggregateByModel(entries []Entry) []ModelBreakdown {
	byModel := make(map[string]*ModelBreakdown)
	for _, e := range entries {
		model := e.Model
		if model == "" {
			model = "unknown"
		}
		mb, ok := byModel[model]
		if !ok {
			mb = &ModelBreakdown{Model: model}
			byModel[model] = mb
		}
		mb.InputTokens += e.InputTokens
		mb.OutputTokens += e.OutputTokens
		mb.CachedInputTokens += e.CachedInputTokens
		mb.CacheWriteTokens += e.CacheWriteTokens
		mb.Cost += e.CostUSD
	}

	result := make([]ModelBreakdown, 0, len(byModel))
	for _, mb := range byModel {
		result = append(result, *mb)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InputTokens+result[i].OutputTokens > result[j].InputTokens+result[j].OutputTokens
	})
	return result
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
