package analyzer

import "strings"

const (
	fallbackCategory = "Other"
	fallbackTag      = "unprocessed"
	maxTitleLen      = 60
	maxFallbackWords = 5
)

// Fallback is the deterministic oracle-free analysis: same content in,
// same result out, always with a zero confidence score.
func Fallback(content string) Result {
	return Result{
		Title:          truncateTitle(content),
		Category:       fallbackCategory,
		Keywords:       extractBasicKeywords(content),
		Tags:           []string{fallbackTag},
		StructuredData: map[string]any{},
		AIScore:        0,
	}
}

// truncateTitle takes the first 60 characters of content, marking
// truncation with a trailing ellipsis.
func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= maxTitleLen {
		return content
	}
	return string(runes[:maxTitleLen]) + "..."
}

// extractBasicKeywords returns the distinct lowercased tokens longer than
// three characters, in first-occurrence order, capped at five. Tokens are
// delimited by whitespace and punctuation.
func extractBasicKeywords(content string) []string {
	normalized := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return ' '
	}, strings.ToLower(content))

	keywords := []string{}
	seen := make(map[string]bool)
	for _, word := range strings.Fields(normalized) {
		if len([]rune(word)) <= 3 || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxFallbackWords {
			break
		}
	}
	return keywords
}
