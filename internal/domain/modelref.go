package domain

import "strings"

// ModelRef is a parsed "provider:model" reference, e.g. "openai:gpt-4o".
// A bare name (no colon) leaves Provider empty.
type ModelRef struct {
	Provider string
	Model    string
}

// ParseModelRef splits an explicit provider prefix off a model string.
// "gpt-4o" -> {"", "gpt-4o"}; "openai:gpt-4o" -> {"openai", "gpt-4o"}.
func ParseModelRef(s string) ModelRef {
	if idx := strings.Index(s, ":"); idx > 0 {
		provider := s[:idx]
		if knownProviders[provider] {
			return ModelRef{Provider: provider, Model: s[idx+1:]}
		}
	}
	return ModelRef{Model: s}
}

var knownProviders = map[string]bool{
	"local": true, "openai": true, "anthropic": true, "google": true,
	"azure": true, "xai": true, "huggingface": true,
}

// InferProviderFromName applies naming-convention pattern inference
// (gpt-* -> openai, claude-* -> anthropic, gemini-* -> google, grok-* -> xai).
func InferProviderFromName(name string) string {
	switch {
	case strings.HasPrefix(name, "gpt-") || strings.HasPrefix(name, "o1") || strings.HasPrefix(name, "o3"):
		return "openai"
	case strings.HasPrefix(name, "claude-"):
		return "anthropic"
	case strings.HasPrefix(name, "gemini-"):
		return "google"
	case strings.HasPrefix(name, "grok-"):
		return "xai"
	default:
		return ""
	}
}
