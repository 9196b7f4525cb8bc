package format

import (
	"regexp"
	"sort"
	"strings"
)

// Link extraction runs in two passes with distinct priority:
//  1. explicit protocol URLs and known short-link hosts
//  2. bare domain-like tokens (word.word[.word]+ with optional path)
//
// Matches are trimmed of trailing sentence punctuation, removed from the text
// and collected in order of appearance. Extraction is idempotent: running it
// on its own body output finds nothing.
var (
	reExplicit = regexp.MustCompile(`(?i)\bhttps?://[^\s]+|\b(?:wa\.me|t\.me|bit\.ly|goo\.gl|tinyurl\.com)/[^\s]+`)
	reBare     = regexp.MustCompile(`(?i)\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}(?:/[^\s]*)?`)
)

const trailingPunct = `.,;:!?"')]`

type span struct {
	start, end int
}

// Extract splits free text into body lines and the links embedded in it.
func Extract(text string) ComposedMessage {
	spans := matchSpans(text)

	links := make([]string, 0, len(spans))
	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		raw := strings.TrimRight(text[sp.start:sp.end], trailingPunct)
		if raw == "" {
			continue
		}
		links = append(links, raw)
		b.WriteString(text[prev:sp.start])
		prev = sp.start + len(raw)
	}
	b.WriteString(text[prev:])

	return ComposedMessage{
		BodyLines: normalizeLines(b.String()),
		Links:     links,
	}
}

func matchSpans(text string) []span {
	var spans []span
	for _, m := range reExplicit.FindAllStringIndex(text, -1) {
		spans = append(spans, span{m[0], m[1]})
	}
	for _, m := range reBare.FindAllStringIndex(text, -1) {
		// Skip email-like tokens: the domain of "user@host.com" is not a link.
		if m[0] > 0 && text[m[0]-1] == '@' {
			continue
		}
		if overlaps(spans, m[0], m[1]) {
			continue
		}
		spans = append(spans, span{m[0], m[1]})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func overlaps(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}

// normalizeLines collapses whitespace damage left by link removal: runs of
// spaces become one space, and runs of blank lines collapse to a single blank
// line. Leading/trailing blank lines are dropped.
func normalizeLines(text string) []string {
	rawLines := strings.Split(text, "\n")
	out := make([]string, 0, len(rawLines))
	blanks := 0
	for _, ln := range rawLines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln == "" {
			blanks++
			continue
		}
		if blanks > 0 && len(out) > 0 {
			out = append(out, "")
		}
		blanks = 0
		out = append(out, ln)
	}
	return out
}
