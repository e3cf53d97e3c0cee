package models

type ModelBiasStats struct {
	Model           string  `json:"model"`
	TotalResponses  int     `json:"total_responses"`
	BiasedResponses int     `json:"biased_responses"`
	BiasPercentage  float64 `json:"bias_percentage"`
}

type DashboardSummary struct {
	Dashboard             []ModelBiasStats `json:"dashboard"`
	SentimentDistribution map[string]int   `json:"sentiment_distribution"`
	TotalLogs             int              `json:"total_logs"`
}

type Alert struct {
	Alert    string `json:"alert"`
	RecordID string `json:"-"`
}
