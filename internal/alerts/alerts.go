// Package alerts pushes consolidated failure summaries of broadcast sessions
// to an operator Telegram chat. It is an observer on the event bus: when it
// is not configured, or when Telegram itself misbehaves, dispatching is never
// affected; problems here are logged and dropped.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"opsdispatch/internal/bulk"
	"opsdispatch/internal/eventbus"
	logx "opsdispatch/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

// Enabled reports whether the config is complete enough to alert anyone.
func (c Config) Enabled() bool { return c.Token != "" && c.ChatID != 0 }

// poster is the slice of the Telegram bot the service needs.
type poster interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	cfg Config
	bot poster
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	stop     func()
	stopDone chan struct{}
}

// New builds the alert service, or (nil, nil) when the config is incomplete:
// a nil *Service is a valid, inert receiver for Start and Stop.
func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: false})
	if err != nil {
		return nil, fmt.Errorf("alerts: telegram bot: %w", err)
	}
	return newWithPoster(cfg, bot, bus, log), nil
}

func newWithPoster(cfg Config, bot poster, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, bot: bot, bus: bus, log: log}
}

// Start subscribes to the bus and begins forwarding failure summaries.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	events, unsub := s.bus.Subscribe(64)
	done := make(chan struct{})
	s.stop = unsub
	s.stopDone = done

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handle(ev)
			}
		}
	}()
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	stop, done := s.stop, s.stopDone
	s.stop, s.stopDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (s *Service) handle(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.SessionDone:
		report, ok := ev.Data.(bulk.Report)
		if !ok || len(report.Failed) == 0 {
			return
		}
		s.post(formatReport(report))
	case eventbus.GroupFailed:
		de, ok := ev.Data.(eventbus.DispatchEvent)
		if !ok {
			return
		}
		s.post(fmt.Sprintf("⚠️ group broadcast to %s failed: %s", de.Channel, de.Error))
	}
}

func (s *Service) post(text string) {
	if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), text); err != nil {
		s.log.Warn("operator alert not delivered", logx.Err(err))
	}
}

func formatReport(r bulk.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ broadcast session %s (%s) finished with failures\n", r.Session, r.Template)
	fmt.Fprintf(&b, "sent %d, skipped %d, failed %d\n", r.Sent, r.Skipped, len(r.Failed))

	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "• %s: %s\n", k, r.Failed[k])
	}
	b.WriteString(time.Now().Format("02/01/2006 15:04"))
	return b.String()
}
