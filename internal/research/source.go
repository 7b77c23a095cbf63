package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source is one cited web page as returned by the research service.
type Source struct {
	ID      SourceID `json:"id,omitempty"`
	URL     string   `json:"url"`
	Title   string   `json:"title,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Domain  string   `json:"domain,omitempty"`

	// Placeholder marks a slot whose payload could not be decoded.
	// It keeps positional identities aligned with the answer's markers.
	Placeholder bool `json:"-"`
}

// Identity is the anchor identity of the source at position index:
// the explicit ID when present, else the 1-based position.
func (s Source) Identity(index int) string {
	if s.ID != "" {
		return string(s.ID)
	}
	return strconv.Itoa(index + 1)
}

// SourceID is a source identifier that may arrive as a JSON string or number.
// Bracketed forms such as "[3]" normalize to "3".
type SourceID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *SourceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NormalizeSourceID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("source id must be a string or number, got %s", data)
	}
	*id = NormalizeSourceID(n.String())
	return nil
}

// NormalizeSourceID trims whitespace and one pair of surrounding brackets.
func NormalizeSourceID(raw string) SourceID {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return SourceID(s)
}
