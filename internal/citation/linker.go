// Package citation turns an answer body with inline [n] markers into
// markdown whose markers link to the answer's sources.
package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// Delimiter separates the primary answer from a trailing appendix.
const Delimiter = "---"

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Ref is one citation marker occurrence in Prepared.Primary.
type Ref struct {
	Marker   int    // parsed number, -1 when the digits overflow int
	Identity string // identity used for lookup
	Text     string // literal marker text, e.g. "[3]"
	Start    int    // byte offset into Primary
	End      int
}

// Prepared is an answer split into its renderable primary text and markers.
type Prepared struct {
	Primary     string
	Appendix    string // text after the delimiter; never rendered with the answer
	HasAppendix bool
	Refs        []Ref
}

// Prepare splits raw on the first delimiter and locates every marker in the
// primary part.
func Prepare(raw string) Prepared {
	p := Prepared{Refs: []Ref{}}

	primary := raw
	if idx := strings.Index(raw, Delimiter); idx >= 0 {
		primary = raw[:idx]
		p.Appendix = strings.TrimSpace(raw[idx+len(Delimiter):])
		p.HasAppendix = true
	}
	p.Primary = strings.TrimSpace(primary)

	for _, loc := range markerPattern.FindAllStringSubmatchIndex(p.Primary, -1) {
		digits := p.Primary[loc[2]:loc[3]]
		ref := Ref{
			Marker:   -1,
			Identity: digits,
			Text:     p.Primary[loc[0]:loc[1]],
			Start:    loc[0],
			End:      loc[1],
		}
		if n, err := strconv.Atoi(digits); err == nil {
			ref.Marker = n
			ref.Identity = strconv.Itoa(n)
		}
		p.Refs = append(p.Refs, ref)
	}
	return p
}

// Link rewrites every resolvable marker into an anchor link to its source.
// Unresolvable markers stay as their literal text. Everything else passes
// through unchanged.
func Link(p Prepared, r *Registry) string {
	if len(p.Refs) == 0 {
		return p.Primary
	}

	var sb strings.Builder
	sb.Grow(len(p.Primary) + len(p.Refs)*24)

	cursor := 0
	for _, ref := range p.Refs {
		sb.WriteString(p.Primary[cursor:ref.Start])
		if entry, ok := resolve(r, ref); ok {
			sb.WriteString(anchorLink(ref, entry))
		} else {
			sb.WriteString(ref.Text)
		}
		cursor = ref.End
	}
	sb.WriteString(p.Primary[cursor:])
	return sb.String()
}

// Unresolved returns the markers that have no matching source.
func Unresolved(p Prepared, r *Registry) []Ref {
	var out []Ref
	for _, ref := range p.Refs {
		if _, ok := resolve(r, ref); !ok {
			out = append(out, ref)
		}
	}
	return out
}

// resolve looks a marker up by number; digits that overflow int resolve by
// their literal identity.
func resolve(r *Registry, ref Ref) (Entry, bool) {
	if ref.Marker >= 0 {
		return r.ResolveMarker(ref.Marker)
	}
	return r.Resolve(ref.Identity)
}

func anchorLink(ref Ref, entry Entry) string {
	return `[\[` + ref.Identity + `\]](#` + entry.Anchor + `)`
}
