package ai

import "strings"

// DefaultReply replaces generated text that is empty after cleaning.
const DefaultReply = "I understand you're reaching out. Could you tell me more about what's on your mind?"

// DefaultArtifacts are instruction delimiters and turn markers that local
// and chat-tuned models leak into their output.
var DefaultArtifacts = []string{
	"[INST]", "[/INST]",
	"<s>", "</s>",
	"<|im_start|>", "<|im_end|>",
	"<|system|>", "<|user|>", "<|assistant|>",
}

// Sanitizer strips prompt-format artifacts from generated text.
type Sanitizer struct {
	Artifacts []string
	Default   string
}

// NewSanitizer returns a sanitizer with the default artifacts and reply.
func NewSanitizer() Sanitizer {
	return Sanitizer{Artifacts: DefaultArtifacts, Default: DefaultReply}
}

// Sanitize removes artifacts by literal substring replacement and never returns an empty string.
func (s Sanitizer) Sanitize(raw string) string {
	cleaned := strings.TrimSpace(raw)
	for _, artifact := range s.Artifacts {
		if artifact == "" {
			continue
		}
		cleaned = strings.ReplaceAll(cleaned, artifact, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned != "" {
		return cleaned
	}
	if s.Default != "" {
		return s.Default
	}
	return DefaultReply
}
