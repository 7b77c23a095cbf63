package research

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuestion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "What is Go?", "What is Go?", false},
		{"trimmed", "  \tWhat is Go?\n", "What is Go?", false},
		{"empty", "", "", true},
		{"whitespace only", " \t\n ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeQuestion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrBlankQuestion))
				assert.Equal(t, KindValidation, KindOf(err))
				assert.True(t, IsBlank(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	svc := ServiceError(400, "bad question", nil)
	assert.Equal(t, KindService, KindOf(svc))
	assert.Equal(t, "bad question", MessageOf(svc))
	assert.Equal(t, 400, svc.Status)

	generic := ServiceError(500, "", nil)
	assert.Equal(t, GenericFailureMessage, MessageOf(generic))

	cause := errors.New("dial tcp: connection refused")
	conn := ConnectivityError("could not reach", cause)
	wrapped := fmt.Errorf("ask: %w", conn)
	assert.Equal(t, KindConnectivity, KindOf(wrapped))
	assert.Equal(t, "could not reach", MessageOf(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, conn.Error(), "connection refused")

	plain := errors.New("boom")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.Equal(t, GenericFailureMessage, MessageOf(plain))
	assert.Equal(t, "", MessageOf(nil))
}

func TestSourceIdentity(t *testing.T) {
	assert.Equal(t, "1", Source{URL: "https://a"}.Identity(0))
	assert.Equal(t, "3", Source{URL: "https://a"}.Identity(2))
	assert.Equal(t, "x7", Source{ID: "x7"}.Identity(0))
}

func TestNormalizeSourceID(t *testing.T) {
	assert.Equal(t, SourceID("3"), NormalizeSourceID("[3]"))
	assert.Equal(t, SourceID("3"), NormalizeSourceID(" [ 3 ] "))
	assert.Equal(t, SourceID("x7"), NormalizeSourceID("x7"))
	assert.Equal(t, SourceID("[a"), NormalizeSourceID("[a"))
}

func TestDecodeEnvelope_Complete(t *testing.T) {
	body := []byte(`{
		"answer": "Paris is the capital [1].",
		"confidence": 0.92,
		"is_sufficient": false,
		"queries_used": ["capital of france", "paris"],
		"sources": [
			{"id": "[1]", "url": "https://www.example.com/paris", "title": "Paris", "snippet": "Capital", "domain": "example.com"},
			{"id": 7, "url": "https://other.org"}
		],
		"original_question": "What is the capital of France?"
	}`)

	env, warnings, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	conf := 0.92
	suff := false
	want := &Envelope{
		Answer:       "Paris is the capital [1].",
		Confidence:   &conf,
		IsSufficient: &suff,
		QueriesUsed:  []string{"capital of france", "paris"},
		Sources: []Source{
			{ID: "1", URL: "https://www.example.com/paris", Title: "Paris", Snippet: "Capital", Domain: "example.com"},
			{ID: "7", URL: "https://other.org"},
		},
		OriginalQuestion: "What is the capital of France?",
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Errorf("DecodeEnvelope mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, env.Sufficient())
}

func TestDecodeEnvelope_MinimalDefaults(t *testing.T) {
	env, warnings, err := DecodeEnvelope([]byte(`{"answer": "ok"}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Nil(t, env.Confidence)
	assert.True(t, env.Sufficient())
	assert.NotNil(t, env.QueriesUsed)
	assert.NotNil(t, env.Sources)
	assert.Empty(t, env.Sources)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	for _, body := range []string{``, `null`, `[]`, `"answer"`, `{}`, `{"answer": null}`, `{"answer": 3}`} {
		t.Run(body, func(t *testing.T) {
			env, _, err := DecodeEnvelope([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEnvelope))
			assert.Nil(t, env)
		})
	}
}

func TestDecodeEnvelope_DegradesFieldsIndependently(t *testing.T) {
	body := []byte(`{
		"answer": "A [1] B [2] C [3]",
		"confidence": "high",
		"is_sufficient": "yes",
		"queries_used": ["q1", 5, "q2"],
		"sources": [
			{"url": "https://one.example"},
			"not an object",
			{"url": "relative/path", "title": "Third"}
		]
	}`)

	env, warnings, err := DecodeEnvelope(body)
	require.NoError(t, err)

	assert.Nil(t, env.Confidence)
	assert.Nil(t, env.IsSufficient)
	assert.Equal(t, []string{"q1", "q2"}, env.QueriesUsed)

	require.Len(t, env.Sources, 3, "placeholder keeps positions aligned")
	assert.False(t, env.Sources[0].Placeholder)
	assert.True(t, env.Sources[1].Placeholder)
	assert.Equal(t, "Third", env.Sources[2].Title)
	assert.Equal(t, "3", env.Sources[2].Identity(2))

	fields := make([]string, 0, len(warnings))
	for _, w := range warnings {
		fields = append(fields, w.Field)
	}
	want := []string{"confidence", "is_sufficient", "queries_used[1]", "sources[1]", "sources[2]"}
	if diff := cmp.Diff(want, fields, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("warning fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEnvelope_BadSourceFieldKeepsTheRest(t *testing.T) {
	body := []byte(`{
		"answer": "a [1] b [2]",
		"sources": [
			{"url": "https://example.org/x", "title": 5, "snippet": "ok", "domain": "example.org"},
			{"id": {"n": 2}, "url": "https://two.example", "title": "Two"}
		]
	}`)

	env, warnings, err := DecodeEnvelope(body)
	require.NoError(t, err)
	require.Len(t, env.Sources, 2)

	first := env.Sources[0]
	assert.False(t, first.Placeholder)
	assert.Equal(t, "https://example.org/x", first.URL)
	assert.Empty(t, first.Title)
	assert.Equal(t, "ok", first.Snippet)
	assert.Equal(t, "example.org", first.Domain)

	second := env.Sources[1]
	assert.False(t, second.Placeholder)
	assert.Empty(t, second.ID)
	assert.Equal(t, "2", second.Identity(1))
	assert.Equal(t, "Two", second.Title)

	require.Len(t, warnings, 2)
	assert.Equal(t, "sources[0]", warnings[0].Field)
	assert.Contains(t, warnings[0].Reason, "title")
	assert.Equal(t, "sources[1]", warnings[1].Field)
	assert.Contains(t, warnings[1].Reason, "id")
}

func TestDecodeEnvelope_NumericStringConfidence(t *testing.T) {
	env, warnings, err := DecodeEnvelope([]byte(`{"answer": "x", "confidence": "0.5"}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotNil(t, env.Confidence)
	assert.InDelta(t, 0.5, *env.Confidence, 1e-9)
}

func TestConfidenceLevels(t *testing.T) {
	tests := []struct {
		confidence float64
		percent    int
		level      Level
	}{
		{0.92, 92, LevelHigh},
		{0.8, 80, LevelHigh},
		{0.79, 79, LevelMedium},
		{0.5, 50, LevelMedium},
		{0.49, 49, LevelLow},
		{0, 0, LevelLow},
		{1.7, 100, LevelHigh},
		{-0.2, 0, LevelLow},
		{math.NaN(), 0, LevelLow},
	}

	for _, tt := range tests {
		if got := Percent(tt.confidence); got != tt.percent {
			t.Errorf("Percent(%v) = %d, want %d", tt.confidence, got, tt.percent)
		}
		if got := LevelFor(tt.confidence); got != tt.level {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.confidence, got, tt.level)
		}
	}
}
