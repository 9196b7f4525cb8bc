// Package dispatch couples the pacing gate with the gateway into the
// two-phase send every dispatcher flow uses: the body goes out first and the
// extracted links follow as a separate, separately gated message, because the
// attachment-caption transport is known to drop or mangle embedded links.
package dispatch

import (
	"context"

	"opsdispatch/internal/format"
	"opsdispatch/internal/gate"
	"opsdispatch/internal/gateway"
	logx "opsdispatch/pkg/logx"
)

// Gateway is the slice of the gateway client the sender needs.
type Gateway interface {
	SendText(ctx context.Context, destination, text string) error
	SendMedia(ctx context.Context, destination, mediaURL, filename, caption string) error
}

var _ Gateway = (*gateway.Client)(nil)

type Sender struct {
	gate *gate.Gate
	gw   Gateway
	log  logx.Logger
}

func NewSender(g *gate.Gate, gw Gateway, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{gate: g, gw: gw, log: log}
}

// Send delivers a composed message to one destination: gate, body, and - when
// links were extracted - a second gated follow-up carrying only the links.
// A body failure aborts the follow-up; a follow-up failure is reported even
// though the body already went out.
func (s *Sender) Send(ctx context.Context, destination string, msg format.ComposedMessage) error {
	if body := msg.Body(); body != "" {
		if err := s.gate.Acquire(ctx); err != nil {
			return err
		}
		if err := s.gw.SendText(ctx, destination, body); err != nil {
			return err
		}
	}

	if links := msg.LinksText(); links != "" {
		if err := s.gate.Acquire(ctx); err != nil {
			return err
		}
		if err := s.gw.SendText(ctx, destination, links); err != nil {
			return err
		}
	}
	return nil
}

// SendMedia delivers a media-by-reference message (gated), with the body as
// caption, then the link follow-up as with Send.
func (s *Sender) SendMedia(ctx context.Context, destination, mediaURL, filename string, msg format.ComposedMessage) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	if err := s.gw.SendMedia(ctx, destination, mediaURL, filename, msg.Body()); err != nil {
		return err
	}

	if links := msg.LinksText(); links != "" {
		if err := s.gate.Acquire(ctx); err != nil {
			return err
		}
		if err := s.gw.SendText(ctx, destination, links); err != nil {
			return err
		}
	}
	return nil
}
