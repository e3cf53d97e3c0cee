package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

type Aggregator struct {
	store db.LogStore
}

func NewAggregator(store db.LogStore) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize recomputes per-model bias rates and the sentiment distribution
// from every stored record.
func (a *Aggregator) Summarize(ctx context.Context) (models.DashboardSummary, error) {
	records, err := a.store.Find(ctx, models.LogFilter{})
	if err != nil {
		return models.DashboardSummary{}, fmt.Errorf("load audit records: %w", err)
	}
	return Summarize(records), nil
}

func Summarize(records []models.AuditRecord) models.DashboardSummary {
	byModel := make(map[string]*models.ModelBiasStats)
	distribution := map[string]int{
		models.SentimentPositive: 0,
		models.SentimentNeutral:  0,
		models.SentimentNegative: 0,
	}

	for _, r := range records {
		stats, ok := byModel[r.Model]
		if !ok {
			stats = &models.ModelBiasStats{Model: r.Model}
			byModel[r.Model] = stats
		}
		stats.TotalResponses++
		if r.Biased {
			stats.BiasedResponses++
		}
		if _, known := distribution[r.Sentiment]; known {
			distribution[r.Sentiment]++
		}
	}

	dashboard := make([]models.ModelBiasStats, 0, len(byModel))
	for _, stats := range byModel {
		stats.BiasPercentage = BiasPercentage(stats.BiasedResponses, stats.TotalResponses)
		dashboard = append(dashboard, *stats)
	}
	sort.Slice(dashboard, func(i, j int) bool {
		return dashboard[i].Model < dashboard[j].Model
	})

	return models.DashboardSummary{
		Dashboard:             dashboard,
		SentimentDistribution: distribution,
		TotalLogs:             len(records),
	}
}

// BiasPercentage is biased/total as a percentage rounded to two decimals.
func BiasPercentage(biased, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return math.Round(float64(biased)/float64(total)*100*100) / 100
}
