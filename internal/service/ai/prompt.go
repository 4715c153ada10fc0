package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/solace/backend/internal/analysis/risk"
)

// Generation defaults.
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
	DefaultWordLimit   = 100
)

const crisisPromptTemplate = `You are a compassionate mental health support assistant.
The user may be in emotional distress.
Respond briefly with empathy and understanding.
If appropriate, suggest professional mental health resources or reaching out to trusted people.
Never provide medical advice. Limit your reply to %d words.`

const defaultPromptTemplate = `You are a compassionate mental health support assistant.
Respond briefly with empathy and understanding.
Never provide medical advice. Limit your reply to %d words.`

// PromptBuilder turns a risk signal and user text into a generation request.
type PromptBuilder struct {
	MaxTokens   int
	Temperature float64
	WordLimit   int
}

// NewPromptBuilder returns a builder, substituting defaults for non-positive values.
func NewPromptBuilder(maxTokens int, temperature float64, wordLimit int) PromptBuilder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	if wordLimit <= 0 {
		wordLimit = DefaultWordLimit
	}
	return PromptBuilder{MaxTokens: maxTokens, Temperature: temperature, WordLimit: wordLimit}
}

// Build selects the crisis-aware or default system prompt.
func (b PromptBuilder) Build(signal risk.Signal, userText string) Request {
	return Request{
		SystemPrompt: b.SystemPrompt(signal.IsCrisis),
		UserText:     strings.TrimSpace(userText),
		MaxTokens:    b.MaxTokens,
		Temperature:  b.Temperature,
	}
}

// SystemPrompt renders the system instruction for the given crisis state.
func (b PromptBuilder) SystemPrompt(crisis bool) string {
	if crisis {
		return fmt.Sprintf(crisisPromptTemplate, b.WordLimit)
	}
	return fmt.Sprintf(defaultPromptTemplate, b.WordLimit)
}
