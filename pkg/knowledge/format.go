package knowledge

import (
	"fmt"
	"strings"
)

// FormatBundle renders a bundle as markdown suitable for prepending to a
// system prompt. Buckets appear in a fixed order; empty buckets are
// omitted entirely.
func FormatBundle(b Bundle) string {
	if b.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("# Relevant Organizational Knowledge\n")
	writeBucket(&sb, "Runbooks", b.Runbooks)
	writeBucket(&sb, "Past Incidents (Postmortems)", b.Postmortems)
	writeBucket(&sb, "Known Issues", b.KnownIssues)
	writeBucket(&sb, "Architecture", b.Architecture)
	return sb.String()
}

func writeBucket(sb *strings.Builder, heading string, chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n", heading)
	for _, c := range chunks {
		fmt.Fprintf(sb, "\n### %s\n%s\n", c.Title, strings.TrimSpace(c.Content))
	}
}

// Citation points a reader back at a source document.
type Citation struct {
	DocumentID string
	Title      string
	SourceURL  string
}

// Citations extracts one citation per source document, deduplicated by
// documentId, preserving first-seen order across buckets.
func Citations(b Bundle) []Citation {
	seen := make(map[string]bool)
	var out []Citation
	for _, c := range b.All() {
		if c.DocumentID == "" || seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		out = append(out, Citation{
			DocumentID: c.DocumentID,
			Title:      c.Title,
			SourceURL:  c.SourceURL,
		})
	}
	return out
}

// FormatCitations renders citations as a markdown trailing section, or ""
// when there is nothing to cite.
func FormatCitations(citations []Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n---\n**Sources:**\n")
	for _, c := range citations {
		if c.SourceURL != "" {
			fmt.Fprintf(&sb, "- [%s](%s)\n", c.Title, c.SourceURL)
		} else {
			fmt.Fprintf(&sb, "- %s\n", c.Title)
		}
	}
	return sb.String()
}
