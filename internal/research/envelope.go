package research

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Envelope is the complete successful result of one query.
type Envelope struct {
	Answer           string   `json:"answer"`
	Confidence       *float64 `json:"confidence,omitempty"`
	IsSufficient     *bool    `json:"is_sufficient,omitempty"`
	QueriesUsed      []string `json:"queries_used"`
	Sources          []Source `json:"sources"`
	OriginalQuestion string   `json:"original_question,omitempty"`
}

// Sufficient reports the sufficiency flag, treating an absent flag as sufficient.
func (e *Envelope) Sufficient() bool {
	return e.IsSufficient == nil || *e.IsSufficient
}

// ErrInvalidEnvelope is returned when a success body cannot be read as an envelope at all.
var ErrInvalidEnvelope = errors.New("invalid response envelope")

// PartialDataError describes one malformed field that was degraded during decoding.
// It is never fatal to the query.
type PartialDataError struct {
	Field  string
	Reason string
}

func (e PartialDataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DecodeEnvelope reads a success body. The body must be a JSON object with a
// string answer; every other field degrades independently and is reported in
// the returned warnings.
func DecodeEnvelope(data []byte) (*Envelope, []PartialDataError, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if fields == nil {
		return nil, nil, fmt.Errorf("%w: body is null", ErrInvalidEnvelope)
	}

	answerRaw, ok := fields["answer"]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing answer", ErrInvalidEnvelope)
	}
	env := &Envelope{QueriesUsed: []string{}, Sources: []Source{}}
	if err := json.Unmarshal(answerRaw, &env.Answer); err != nil || isNull(answerRaw) {
		return nil, nil, fmt.Errorf("%w: answer is not a string", ErrInvalidEnvelope)
	}

	var warnings []PartialDataError
	warn := func(field, format string, args ...interface{}) {
		warnings = append(warnings, PartialDataError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if raw, ok := fields["confidence"]; ok && !isNull(raw) {
		if c, err := decodeConfidence(raw); err != nil {
			warn("confidence", "%v", err)
		} else {
			env.Confidence = &c
		}
	}

	if raw, ok := fields["is_sufficient"]; ok && !isNull(raw) {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			warn("is_sufficient", "not a boolean: %s", raw)
		} else {
			env.IsSufficient = &b
		}
	}

	if raw, ok := fields["queries_used"]; ok && !isNull(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			warn("queries_used", "not an array")
		}
		for i, item := range items {
			var q string
			if err := json.Unmarshal(item, &q); err != nil {
				warn(fmt.Sprintf("queries_used[%d]", i), "not a string: %s", item)
				continue
			}
			env.QueriesUsed = append(env.QueriesUsed, q)
		}
	}

	if raw, ok := fields["sources"]; ok && !isNull(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			warn("sources", "not an array")
		}
		for i, item := range items {
			src, problems := decodeSource(item)
			for _, p := range problems {
				warn(fmt.Sprintf("sources[%d]", i), "%s", p)
			}
			env.Sources = append(env.Sources, src)
		}
	}

	if raw, ok := fields["original_question"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.OriginalQuestion); err != nil {
			warn("original_question", "not a string")
		}
	}

	return env, warnings, nil
}

func decodeConfidence(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("not a number: %s", raw)
}

// decodeSource never fails. A slot that is not an object becomes a
// placeholder; inside an object each field degrades on its own.
func decodeSource(raw json.RawMessage) (Source, []string) {
	var fields map[string]json.RawMessage
	if !isObject(raw) || json.Unmarshal(raw, &fields) != nil {
		return Source{Placeholder: true}, []string{"malformed source replaced by placeholder"}
	}

	var (
		src      Source
		problems []string
	)
	if idRaw, ok := fields["id"]; ok {
		if err := json.Unmarshal(idRaw, &src.ID); err != nil {
			problems = append(problems, fmt.Sprintf("id: %v", err))
		}
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"url", &src.URL},
		{"title", &src.Title},
		{"snippet", &src.Snippet},
		{"domain", &src.Domain},
	} {
		v, ok := fields[f.name]
		if !ok || isNull(v) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			problems = append(problems, fmt.Sprintf("%s: not a string: %s", f.name, v))
		}
	}

	src.URL = strings.TrimSpace(src.URL)
	if src.URL == "" {
		problems = append(problems, "missing url")
	} else if u, err := url.Parse(src.URL); err != nil || !u.IsAbs() {
		problems = append(problems, fmt.Sprintf("url %q is not absolute", src.URL))
	}
	return src, problems
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
