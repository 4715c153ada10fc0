package risk

import (
	"sort"
	"strings"
)

// DistressThreshold is the number of distinct distress terms that escalates a message to crisis.
const DistressThreshold = 2

// MultipleDistressIndicator labels crisis signals raised by distress terms alone.
const MultipleDistressIndicator = "multiple distress indicators"

// Terms is the vocabulary a Classifier matches against.
type Terms struct {
	Crisis   []string
	Distress []string
}

// Signal is the result of classifying one message.
type Signal struct {
	IsCrisis      bool
	MatchedTerms  []string // crisis terms first, then distress terms
	DistressScore int

	crisisTerms []string
}

// Indicator names what raised the signal without quoting the message.
func (s Signal) Indicator() string {
	if !s.IsCrisis {
		return ""
	}
	if len(s.crisisTerms) > 0 {
		return s.crisisTerms[0]
	}
	return MultipleDistressIndicator
}

// Matched reports whether term was matched.
func (s Signal) Matched(term string) bool {
	return contains(s.MatchedTerms, strings.ToLower(strings.TrimSpace(term)))
}

// Classifier scans text for crisis and distress terms. It holds no mutable state.
type Classifier struct {
	crisis   []string
	distress []string
}

// NewClassifier normalizes terms and returns a classifier over them.
func NewClassifier(terms Terms) *Classifier {
	return &Classifier{
		crisis:   normalizeTerms(terms.Crisis),
		distress: normalizeTerms(terms.Distress),
	}
}

// Classify matches text case-insensitively against both term sets.
func (c *Classifier) Classify(text string) Signal {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Signal{}
	}

	var signal Signal
	for _, term := range c.crisis {
		if strings.Contains(normalized, term) {
			signal.crisisTerms = append(signal.crisisTerms, term)
		}
	}

	var distress []string
	for _, term := range c.distress {
		if strings.Contains(normalized, term) {
			distress = append(distress, term)
		}
	}

	signal.DistressScore = len(distress)
	signal.IsCrisis = len(signal.crisisTerms) > 0 || signal.DistressScore >= DistressThreshold

	if n := len(signal.crisisTerms) + len(distress); n > 0 {
		matched := make([]string, 0, n)
		matched = append(matched, signal.crisisTerms...)
		for _, term := range distress {
			if !contains(matched, term) {
				matched = append(matched, term)
			}
		}
		signal.MatchedTerms = matched
	}
	return signal
}

// normalizeTerms lower-cases, trims, drops empties and duplicates, and sorts.
func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		out = append(out, term)
	}
	return dedupe(out)
}

func dedupe(terms []string) []string {
	sort.Strings(terms)
	out := terms[:0]
	for i, term := range terms {
		if i > 0 && term == terms[i-1] {
			continue
		}
		out = append(out, term)
	}
	return out
}

func contains(terms []string, term string) bool {
	for _, t := range terms {
		if t == term {
			return true
		}
	}
	return false
}
