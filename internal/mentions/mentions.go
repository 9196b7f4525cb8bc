// Package mentions is the fire-and-forget tagged-in-a-task alert queue.
// Enqueueing is immediate and non-blocking; a single drain goroutine works
// the queue FIFO through the shared pacing gate. Nothing is reported back to
// an operator: delivery problems are logged and published on the bus, then
// forgotten.
package mentions

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"opsdispatch/internal/eventbus"
	"opsdispatch/internal/format"
	"opsdispatch/internal/identity"
	"opsdispatch/internal/match"
	logx "opsdispatch/pkg/logx"
)

// Resolver yields a sendable phone for an identity ("" when none).
type Resolver interface {
	Phone(ctx context.Context, id identity.Identity) string
}

// Sender is the gated two-phase text sender.
type Sender interface {
	Send(ctx context.Context, destination string, msg format.ComposedMessage) error
}

// Alert is one queued mention: who was tagged and on what.
type Alert struct {
	Identity       identity.Identity
	Task           match.Task
	ContainerTitle string
}

type Config struct {
	// DashboardURL is the public base address deep links are built on.
	DashboardURL string
	// VolunteerAreaPath is appended to DashboardURL for volunteer-scoped
	// tasks instead of the task deep link.
	VolunteerAreaPath string
}

// Service is the per-process mention queue. States: idle (no drain goroutine)
// and draining (exactly one). Enqueue merges by identity key, so a person
// tagged twice before the drain reaches them gets one message.
type Service struct {
	cfg      Config
	resolver Resolver
	sender   Sender
	bus      eventbus.Bus
	log      logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []Alert
	keys     map[string]struct{}
	draining bool
	stopped  bool
	wg       sync.WaitGroup
}

func New(cfg Config, resolver Resolver, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.VolunteerAreaPath == "" {
		cfg.VolunteerAreaPath = "/my-tasks"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		resolver: resolver,
		sender:   sender,
		bus:      bus,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		keys:     map[string]struct{}{},
	}
}

// Enqueue merges the alerts into the pending queue and starts the drain
// goroutine when idle. It never blocks on delivery.
func (s *Service) Enqueue(alerts ...Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, a := range alerts {
		key := a.Identity.Key()
		if key == "" {
			s.log.Debug("mention for unidentifiable recipient dropped", logx.String("task", a.Task.Path))
			continue
		}
		if _, dup := s.keys[key]; dup {
			continue
		}
		s.keys[key] = struct{}{}
		s.pending = append(s.pending, a)
		s.publish(eventbus.MentionQueued, key, nil)
	}
	if !s.draining && len(s.pending) > 0 {
		s.draining = true
		s.wg.Add(1)
		go s.drain()
	}
}

// Stop waits for an in-flight drain to finish; when ctx expires first, the
// drain is abandoned mid-queue and remaining entries are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
}

func (s *Service) drain() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("mention drain panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.ctx.Err() != nil {
			s.pending = nil
			s.keys = map[string]struct{}{}
			s.draining = false
			s.mu.Unlock()
			return
		}
		a := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.keys, a.Identity.Key())
		s.mu.Unlock()

		s.deliver(a)
	}
}

func (s *Service) deliver(a Alert) {
	key := a.Identity.Key()
	phone := s.resolver.Phone(s.ctx, a.Identity)
	if phone == "" {
		s.log.Info("mention skipped, no phone", logx.String("identity", key))
		s.publish(eventbus.MentionSkipped, key, nil)
		return
	}

	msg := s.compose(a)
	if err := s.sender.Send(s.ctx, phone, msg); err != nil {
		s.log.Warn("mention send failed",
			logx.String("identity", key),
			logx.String("task", a.Task.Path),
			logx.Err(err))
		s.publish(eventbus.MentionFailed, key, err)
		return
	}
	s.publish(eventbus.MentionSent, key, nil)
}

func (s *Service) compose(a Alert) format.ComposedMessage {
	lines := []string{"*You were tagged in a task*"}
	if a.Task.Title != "" {
		lines = append(lines, "Task: "+a.Task.Title)
	}
	if a.ContainerTitle != "" {
		lines = append(lines, "In: "+a.ContainerTitle)
	}
	if !a.Task.Due.IsZero() {
		lines = append(lines, "Due: "+a.Task.Due.Format("02/01/2006"))
	}
	if a.Task.Priority != "" {
		lines = append(lines, "Priority: "+a.Task.Priority)
	}
	if a.Task.Description != "" {
		lines = append(lines, a.Task.Description)
	}
	return format.ComposedMessage{BodyLines: lines, Links: []string{s.link(a.Task)}}
}

// link builds the deep link for the task. Volunteer-scoped tasks point at the
// recipient's personal task area instead of the task document.
func (s *Service) link(t match.Task) string {
	base := strings.TrimRight(s.cfg.DashboardURL, "/")
	if t.Volunteer {
		return base + s.cfg.VolunteerAreaPath
	}
	return fmt.Sprintf("%s/%s", base, t.Path)
}

func (s *Service) publish(typ, identityKey string, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.DispatchEvent{Kind: "mention", Identity: identityKey, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
