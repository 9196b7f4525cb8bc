package format

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	logx "opsdispatch/pkg/logx"
)

func TestExtractVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		body  []string
		links []string
	}{
		{
			name:  "hebrew custom message",
			text:  "בדיקה: https://example.com/path?x=1 תודה",
			body:  []string{"בדיקה: תודה"},
			links: []string{"https://example.com/path?x=1"},
		},
		{
			name:  "no links",
			text:  "שלום לכולם",
			body:  []string{"שלום לכולם"},
			links: nil,
		},
		{
			name:  "bare domain with path",
			text:  "details at example.org/info, see you",
			body:  []string{"details at , see you"},
			links: []string{"example.org/info"},
		},
		{
			name:  "short link without protocol",
			text:  "join wa.me/9725012345 now",
			body:  []string{"join now"},
			links: []string{"wa.me/9725012345"},
		},
		{
			name:  "trailing punctuation trimmed",
			text:  "see https://example.com.",
			body:  []string{"see ."},
			links: []string{"https://example.com"},
		},
		{
			name:  "email is not a link",
			text:  "write to dana@example.com please",
			body:  []string{"write to dana@example.com please"},
			links: nil,
		},
		{
			name:  "link-only line collapses blank lines",
			text:  "first line\nhttps://example.com/a\n\nlast line",
			body:  []string{"first line", "", "last line"},
			links: []string{"https://example.com/a"},
		},
		{
			name:  "multiple links keep order of appearance",
			text:  "a example.com b https://x.io/p c",
			body:  []string{"a b c"},
			links: []string{"example.com", "https://x.io/p"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if !reflect.DeepEqual(got.BodyLines, tt.body) {
				t.Fatalf("body = %q, want %q", got.BodyLines, tt.body)
			}
			if len(got.Links) != len(tt.links) {
				t.Fatalf("links = %q, want %q", got.Links, tt.links)
			}
			for i := range tt.links {
				if got.Links[i] != tt.links[i] {
					t.Fatalf("links = %q, want %q", got.Links, tt.links)
				}
			}
		})
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()
	texts := []string{
		"בדיקה: https://example.com/path?x=1 תודה",
		"a example.com b https://x.io/p c\nwa.me/123",
		"no links at all",
		"",
	}
	for _, text := range texts {
		first := Extract(text)
		second := Extract(first.Body())
		if len(second.Links) != 0 {
			t.Fatalf("second pass on %q found links: %q", text, second.Links)
		}
		if second.Body() != first.Body() {
			t.Fatalf("second pass changed body: %q -> %q", first.Body(), second.Body())
		}
	}
}

func TestEnrichBoldsLeadUpToColon(t *testing.T) {
	t.Parallel()
	out := enrichLines([]string{"תזכורת: מחר בשמונה"})
	if len(out) != 1 {
		t.Fatalf("unexpected line count: %d", len(out))
	}
	if !strings.HasPrefix(out[0], "⏰ *תזכורת:*") {
		t.Fatalf("line = %q", out[0])
	}
}

func TestEnrichBoldsFirstWordsWithoutColon(t *testing.T) {
	t.Parallel()
	out := enrichLines([]string{"please bring the equipment tomorrow"})
	if out[0] != "*please bring the* equipment tomorrow" {
		t.Fatalf("line = %q", out[0])
	}
}

func TestEnrichCategoryMarkers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line   string
		marker string
	}{
		{line: "urgent: call now", marker: "🚨"},
		{line: "תודה לכל המתנדבים", marker: "🙏"},
		{line: "new task assigned", marker: "✅"},
		{line: "האירוע מתחיל בשש", marker: "📅"},
	}
	for _, tt := range tests {
		out := enrichLines([]string{tt.line})
		if !strings.HasPrefix(out[0], tt.marker+" ") {
			t.Fatalf("enrich(%q) = %q, want %q prefix", tt.line, out[0], tt.marker)
		}
	}
}

func TestEnrichEveryMessageHasEmphasis(t *testing.T) {
	t.Parallel()
	out := enrichLines([]string{"שורה ראשונה כאן", "ועוד שורה"})
	joined := strings.Join(out, "\n")
	if !strings.Contains(joined, "*") {
		t.Fatalf("no emphasis anywhere: %q", joined)
	}
}

type stubRewriter struct {
	out string
	err error
}

func (s stubRewriter) Rewrite(ctx context.Context, text string) (string, error) {
	return s.out, s.err
}

func TestComposeUsesRewriterWhenAvailable(t *testing.T) {
	t.Parallel()
	f := New(stubRewriter{out: "*Rewritten:* nicely"}, logx.Nop())
	msg := f.Compose(context.Background(), "original: https://example.com/x text", true)
	if msg.Body() != "*Rewritten:* nicely" {
		t.Fatalf("body = %q", msg.Body())
	}
	// Links come from the original extraction, not the rewriter.
	if len(msg.Links) != 1 || msg.Links[0] != "https://example.com/x" {
		t.Fatalf("links = %q", msg.Links)
	}
}

func TestComposeFallsBackOnRewriterError(t *testing.T) {
	t.Parallel()
	f := New(stubRewriter{err: errors.New("down")}, logx.Nop())
	msg := f.Compose(context.Background(), "reminder: tomorrow", true)
	if !strings.Contains(msg.Body(), "*") {
		t.Fatalf("expected rule-based enrichment, got %q", msg.Body())
	}
}

func TestLinksText(t *testing.T) {
	t.Parallel()
	msg := Extract("בדיקה: https://example.com/path?x=1 תודה")
	want := "🔗 https://example.com/path?x=1"
	if got := msg.LinksText(); got != want {
		t.Fatalf("LinksText = %q, want %q", got, want)
	}
	if (ComposedMessage{}).LinksText() != "" {
		t.Fatal("empty message should have no links text")
	}
}
