package models

type ModelType string

const (
	ModelTypeMasked ModelType = "masked"
	ModelTypeCausal ModelType = "causal"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

type AnalyzeRequest struct {
	Prompt     string   `json:"prompt"`
	ModelNames []string `json:"model_names"`
}

type ModelResult struct {
	Model          string    `json:"model"`
	Type           ModelType `json:"type"`
	TopPredictions []string  `json:"top_predictions"`
	BiasFlags      []string  `json:"bias_flags"`
	Biased         bool      `json:"biased"`
	Sentiment      string    `json:"sentiment"`
}

type AnalyzeResponse struct {
	Results []ModelResult `json:"results"`
}

// BiasFlag is a single heuristic warning. Biased is decided when the flag is
// created so readers never have to parse Text.
type BiasFlag struct {
	Category string   `json:"category"`
	Matches  []string `json:"matches,omitempty"`
	Text     string   `json:"text"`
	Biased   bool     `json:"biased"`
}

// FlagTexts returns the human readable text of every flag, in order.
func FlagTexts(flags []BiasFlag) []string {
	texts := make([]string, 0, len(flags))
	for _, f := range flags {
		texts = append(texts, f.Text)
	}
	return texts
}

// AnyBiased reports whether at least one flag indicates bias.
func AnyBiased(flags []BiasFlag) bool {
	for _, f := range flags {
		if f.Biased {
			return true
		}
	}
	return false
}

// Candidate is one ranked completion returned by a model backend.
type Candidate struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
