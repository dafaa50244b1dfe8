package validators

import "strings"

// SanitizeIdentifier trims and lower-cases a machine identifier such as a
// frequency or view mode id.
func SanitizeIdentifier(input string, maxLen int) string {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}
