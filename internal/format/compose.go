// Package format is the pure text pipeline between operator input and the
// gateway: it splits free text into a body and its embedded links (the
// attachment-caption transport mangles links, so they travel as a separate
// message) and optionally re-renders the body with structural emphasis.
package format

import (
	"context"
	"strings"

	logx "opsdispatch/pkg/logx"
)

// ComposedMessage is the two-phase send payload: body first, then the
// extracted links as a follow-up.
type ComposedMessage struct {
	BodyLines []string
	Links     []string
}

// Body joins the body lines for the gateway.
func (m ComposedMessage) Body() string { return strings.Join(m.BodyLines, "\n") }

// LinksText renders the follow-up links message ("" when there are none).
func (m ComposedMessage) LinksText() string {
	if len(m.Links) == 0 {
		return ""
	}
	return LinkMarker + " " + strings.Join(m.Links, "\n")
}

// Formatter composes outbound message bodies. The zero value extracts links
// but never enriches.
type Formatter struct {
	rewriter Rewriter
	log      logx.Logger
}

// New builds a Formatter. rewriter may be nil; enrichment then always uses
// the built-in rules.
func New(rewriter Rewriter, log logx.Logger) *Formatter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Formatter{rewriter: rewriter, log: log}
}

// Compose extracts links and, when enrich is set, applies stylistic
// enrichment to the body. Enrichment is single-pass: never call Compose on
// text that was already composed.
func (f *Formatter) Compose(ctx context.Context, text string, enrich bool) ComposedMessage {
	msg := Extract(text)
	if !enrich {
		return msg
	}

	if f != nil && f.rewriter != nil {
		rewritten, err := f.rewriter.Rewrite(ctx, msg.Body())
		if err == nil && strings.TrimSpace(rewritten) != "" {
			// The rewriting service may reintroduce links; strip them so the
			// two-phase contract holds, but keep the original link list.
			re := Extract(rewritten)
			msg.BodyLines = re.BodyLines
			return msg
		}
		if err != nil {
			f.log.Debug("rewriter failed; falling back to rule-based enrichment", logx.Err(err))
		}
	}

	msg.BodyLines = enrichLines(msg.BodyLines)
	return msg
}
