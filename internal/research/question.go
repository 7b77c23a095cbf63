// Package research holds the domain model shared by every researchdesk layer:
// questions, cited sources, the response envelope and the failure taxonomy.
package research

import "strings"

// NormalizeQuestion trims q and rejects it when nothing is left.
func NormalizeQuestion(q string) (string, error) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return "", ErrBlankQuestion
	}
	return trimmed, nil
}

// IsBlank reports whether q would be rejected by NormalizeQuestion.
func IsBlank(q string) bool {
	return strings.TrimSpace(q) == ""
}
