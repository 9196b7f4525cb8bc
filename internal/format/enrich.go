package format

import "strings"

// Stylistic enrichment is single-pass only: it is applied once, right before
// sending, and never to text that was already composed (re-enriching would
// double-mark lines).

type category struct {
	marker   string
	triggers []string
}

// Trigger keywords are matched case-insensitively as substrings, Hebrew and
// English alike, first category wins.
var categories = []category{
	{marker: "🚨", triggers: []string{"urgent", "asap", "immediately", "דחוף", "בהול"}},
	{marker: "⏰", triggers: []string{"reminder", "remember", "תזכורת", "לא לשכוח"}},
	{marker: "📅", triggers: []string{"event", "meeting", "אירוע", "מפגש"}},
	{marker: "✅", triggers: []string{"task", "todo", "משימה", "מטלה"}},
	{marker: "🔗", triggers: []string{"link", "קישור", "לינק"}},
	{marker: "🙏", triggers: []string{"thanks", "thank you", "תודה"}},
}

// LinkMarker prefixes the follow-up message that carries extracted links.
const LinkMarker = "🔗"

const maxLeadWords = 3

// enrichLines applies structural emphasis line by line: a bolded lead
// segment, a category marker when trigger keywords match, and a forced
// first-line emphasis fallback so every enriched message has exactly one
// visually distinct lead line.
func enrichLines(lines []string) []string {
	out := make([]string, len(lines))
	emphasized := false
	for i, ln := range lines {
		e := enrichLine(ln)
		if strings.Contains(e, "*") {
			emphasized = true
		}
		out[i] = e
	}

	if !emphasized {
		for i, ln := range out {
			if strings.TrimSpace(ln) == "" {
				continue
			}
			out[i] = boldLead(ln)
			break
		}
	}
	return out
}

func enrichLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return line
	}
	// A line that is itself a bare link keeps its exact form.
	if isBareLink(trimmed) {
		return line
	}

	e := boldLead(trimmed)
	if m := markerFor(trimmed); m != "" {
		e = m + " " + e
	}
	return e
}

// boldLead wraps the lead segment of a line: up to its first colon, or the
// first few words when there is no colon.
func boldLead(line string) string {
	if i := strings.Index(line, ":"); i > 0 && i < len(line)-1 {
		return "*" + line[:i+1] + "*" + line[i+1:]
	}
	words := strings.Fields(line)
	n := len(words)
	if n == 0 {
		return line
	}
	if n > maxLeadWords {
		n = maxLeadWords
	}
	lead := "*" + strings.Join(words[:n], " ") + "*"
	if rest := strings.Join(words[n:], " "); rest != "" {
		return lead + " " + rest
	}
	return lead
}

func markerFor(line string) string {
	lower := strings.ToLower(line)
	for _, c := range categories {
		for _, trig := range c.triggers {
			if strings.Contains(lower, trig) {
				return c.marker
			}
		}
	}
	return ""
}

func isBareLink(line string) bool {
	m := Extract(line)
	return len(m.Links) == 1 && len(m.BodyLines) == 0
}
