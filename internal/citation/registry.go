package citation

import (
	"io"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"researchdesk/internal/logging"
	"researchdesk/internal/research"

	"golang.org/x/net/html"
)

// UntitledSource is the display title for sources without one.
const UntitledSource = "Untitled"

// Entry is one registered source plus its display-only derived fields.
type Entry struct {
	Identity string
	Position int // 0-based position in the envelope's source list
	Source   research.Source

	Domain         string
	Anchor         string // "source-<slug>", unique within the registry
	DisplayTitle   string
	DisplaySnippet string
}

// Registry resolves citation identities to sources.
// It is built once per envelope and never mutated afterwards.
type Registry struct {
	entries    []Entry
	byIdentity map[string]int
}

// Register assigns every source its identity: the explicit id when present,
// else its 1-based position. When two sources share an identity the first one
// keeps it and the later one is still listed but unreachable by that identity.
func Register(sources []research.Source) *Registry {
	r := &Registry{
		entries:    make([]Entry, 0, len(sources)),
		byIdentity: make(map[string]int, len(sources)),
	}
	anchors := make(map[string]bool, len(sources))

	for i, src := range sources {
		identity := src.Identity(i)

		anchor := "source-" + slug(identity)
		for n := 2; anchors[anchor]; n++ {
			anchor = "source-" + slug(identity) + "-" + strconv.Itoa(n)
		}
		anchors[anchor] = true

		domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(src.Domain)), "www.")
		if domain == "" {
			domain = Domain(src.URL)
		}

		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = UntitledSource
		}

		entry := Entry{
			Identity:       identity,
			Position:       i,
			Source:         src,
			Domain:         domain,
			Anchor:         anchor,
			DisplayTitle:   title,
			DisplaySnippet: CleanSnippet(src.Snippet),
		}
		r.entries = append(r.entries, entry)

		if _, taken := r.byIdentity[identity]; taken {
			logging.CitationWarn("duplicate source identity %q at position %d; first registration wins", identity, i+1)
			continue
		}
		r.byIdentity[identity] = i
	}

	logging.CitationDebug("registered %d sources", len(r.entries))
	return r
}

// Resolve looks up an entry by identity.
func (r *Registry) Resolve(identity string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	i, ok := r.byIdentity[identity]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ResolveMarker looks up the entry a numeric marker refers to.
func (r *Registry) ResolveMarker(n int) (Entry, bool) {
	if n < 0 {
		return Entry{}, false
	}
	return r.Resolve(strconv.Itoa(n))
}

// Entries returns the entries in source order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Domain derives a display domain from rawURL: the lowercase host without a
// leading "www.". Malformed or host-less URLs fall back to the raw text.
func Domain(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return trimmed
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// CleanSnippet strips HTML tags and decodes entities. Whitespace runs collapse
// to one space. Text that fails to tokenize is returned trimmed but otherwise raw.
func CleanSnippet(snippet string) string {
	if !strings.ContainsAny(snippet, "<&") {
		return collapseSpace(snippet)
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(snippet))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				logging.CitationDebug("snippet tokenizer failed: %v", z.Err())
				return strings.TrimSpace(snippet)
			}
			return collapseSpace(sb.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(string(name)) {
				skip++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(string(name)) && skip > 0 {
				skip--
			}
			sb.WriteByte(' ')
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(name string) bool {
	return name == "script" || name == "style"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// slug lowercases identity and maps every run of other characters to '-'.
func slug(identity string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(identity) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(sb.String(), "-")
	if s == "" {
		return "x"
	}
	return s
}
