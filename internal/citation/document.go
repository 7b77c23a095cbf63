package citation

import (
	"fmt"
	"strings"

	"researchdesk/internal/logging"
	"researchdesk/internal/research"
)

// Document is a render-ready view of one envelope.
type Document struct {
	Markdown   string // primary answer with linked markers
	Prepared   Prepared
	Sources    *Registry
	Unresolved []Ref

	Confidence  *float64
	Sufficient  bool
	QueriesUsed []string
	Question    string
}

// HasConfidence reports whether the meter should be shown.
func (d Document) HasConfidence() bool {
	return d.Confidence != nil
}

// Compose links env's answer against its sources. A nil envelope yields an
// empty document.
func Compose(env *research.Envelope) Document {
	if env == nil {
		return Document{Sources: Register(nil), Sufficient: true, Prepared: Prepare("")}
	}

	p := Prepare(env.Answer)
	reg := Register(env.Sources)
	doc := Document{
		Markdown:    Link(p, reg),
		Prepared:    p,
		Sources:     reg,
		Unresolved:  Unresolved(p, reg),
		Confidence:  env.Confidence,
		Sufficient:  env.Sufficient(),
		QueriesUsed: nonBlank(env.QueriesUsed),
		Question:    env.OriginalQuestion,
	}

	if n := len(doc.Unresolved); n > 0 {
		logging.CitationDebug("%d of %d markers have no matching source", n, len(p.Refs))
	}
	if p.HasAppendix {
		logging.CitationDebug("dropped %d-byte appendix from primary answer", len(p.Appendix))
	}
	return doc
}

// SourcesMarkdown renders the source list as markdown, one block per entry,
// for surfaces without dedicated source cards.
func (d Document) SourcesMarkdown(withSnippets bool) string {
	entries := d.Sources.Entries()
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Sources\n\n")
	for _, e := range entries {
		if e.Source.Placeholder {
			sb.WriteString(fmt.Sprintf("%d. **[%s]** _unavailable_\n", e.Position+1, e.Identity))
			continue
		}
		sb.WriteString(fmt.Sprintf("%d. **[%s]** %s · %s  \n   %s\n", e.Position+1, e.Identity, e.DisplayTitle, e.Domain, e.Source.URL))
		if withSnippets && e.DisplaySnippet != "" {
			sb.WriteString(fmt.Sprintf("   > %s\n", e.DisplaySnippet))
		}
	}
	return sb.String()
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
