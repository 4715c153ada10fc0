package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed safety.yaml
var defaultSafety []byte

// Safety holds the vocabulary and resource text the pipeline treats as data.
type Safety struct {
	Version         string          `yaml:"version"`
	CrisisTerms     []string        `yaml:"crisis_terms"`
	DistressTerms   []string        `yaml:"distress_terms"`
	PositiveWords   []string        `yaml:"positive_words"`
	NegativeWords   []string        `yaml:"negative_words"`
	CrisisResources CrisisResources `yaml:"crisis_resources"`
}

// CrisisResources is the hotline block appended to flagged replies.
type CrisisResources struct {
	Version string `yaml:"version"`
	Text    string `yaml:"text"`
}

// LoadSafety reads the safety file at path, or the embedded defaults when path is empty.
func LoadSafety(path string) (*Safety, error) {
	raw := defaultSafety
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read safety config %s: %w", path, err)
		}
		raw = data
	}
	return parseSafety(raw)
}

func parseSafety(raw []byte) (*Safety, error) {
	var s Safety
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse safety config: %w", err)
	}
	if len(s.CrisisTerms) == 0 {
		return nil, errors.New("safety config: crisis_terms must not be empty")
	}
	if strings.TrimSpace(s.CrisisResources.Text) == "" {
		return nil, errors.New("safety config: crisis_resources.text must not be empty")
	}
	s.CrisisResources.Text = strings.TrimSpace(s.CrisisResources.Text)
	return &s, nil
}
