package risk

import "strings"

// Sentiment is a coarse polarity label.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// SentimentAnalyzer counts positive and negative words in a message.
type SentimentAnalyzer struct {
	positive []string
	negative []string
}

// NewSentimentAnalyzer builds an analyzer over the given word lists.
func NewSentimentAnalyzer(positive, negative []string) *SentimentAnalyzer {
	return &SentimentAnalyzer{
		positive: normalizeTerms(positive),
		negative: normalizeTerms(negative),
	}
}

// Analyze returns whichever polarity has more matching words, or Neutral on a tie.
func (a *SentimentAnalyzer) Analyze(text string) Sentiment {
	normalized := strings.ToLower(text)
	pos := countMatches(normalized, a.positive)
	neg := countMatches(normalized, a.negative)

	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}

func countMatches(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
