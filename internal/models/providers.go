package models

import "strings"

const (
	ProviderAuto      = "auto"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderBuckets lists the canonical buckets in display order.
var ProviderBuckets = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

var providerSynonyms = map[string]string{
	"openai":       ProviderOpenAI,
	"chatgpt":      ProviderOpenAI,
	"gpt":          ProviderOpenAI,
	"azure-openai": ProviderOpenAI,
	"anthropic":    ProviderAnthropic,
	"claude":       ProviderAnthropic,
	"gemini":       ProviderGemini,
	"google":       ProviderGemini,
	"google-ai":    ProviderGemini,
	"googleai":     ProviderGemini,
	"vertex":       ProviderGemini,
}

// ProviderBucket folds a vendor or provider name into one of the canonical
// buckets. The second result is false when the name is not a known provider.
func ProviderBucket(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "-")
	bucket, ok := providerSynonyms[key]
	return bucket, ok
}

// ProviderDisplayName returns the label used for provider headers and badges.
func ProviderDisplayName(bucket string) string {
	switch bucket {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderGemini:
		return "Gemini"
	case ProviderAuto, "":
		return "Auto"
	default:
		return strings.ToUpper(bucket[:1]) + bucket[1:]
	}
}
