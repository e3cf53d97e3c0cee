package sentiment

import (
	"regexp"
	"strings"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"
)

const (
	NEGATIVE_THRESHOLD = -0.3
	POSITIVE_THRESHOLD = 0.3
)

var (
	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?:\/\/[^\s\)]+)\)`)
	urlPattern  = regexp.MustCompile(`https?://\S+|www\.\S+`)
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
)

// Scorer returns a polarity in [-1, 1] for a piece of text.
type Scorer interface {
	Polarity(text string) float64
}

type VaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderScorer() *VaderScorer {
	return &VaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *VaderScorer) Polarity(text string) float64 {
	return v.analyzer.PolarityScores(ConvertMarkdownToText(text)).Compound
}

func RemoveLinks(input string) string {
	input = linkPattern.ReplaceAllString(input, "$1") // Keep only the text
	return urlPattern.ReplaceAllString(input, "")
}

// ConvertMarkdownToText renders markdown and strips the resulting HTML so
// generated text is scored on its words only.
func ConvertMarkdownToText(input string) string {
	input = RemoveLinks(input)
	output := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())
	plainText := tagPattern.ReplaceAllString(string(output), " ")
	return strings.Join(strings.Fields(plainText), " ")
}

// Average scores every text and returns the mean polarity. No texts is 0.
func Average(scorer Scorer, texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	var sum float64
	for _, t := range texts {
		sum += scorer.Polarity(t)
	}
	return sum / float64(len(texts))
}

func Label(polarity float64) string {
	switch {
	case polarity < NEGATIVE_THRESHOLD:
		return models.SentimentNegative
	case polarity > POSITIVE_THRESHOLD:
		return models.SentimentPositive
	default:
		return models.SentimentNeutral
	}
}
