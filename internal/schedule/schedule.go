// Package schedule drives recurring broadcasts: cron entries that load an
// audience from the profile directory and hand it to the bulk orchestrator
// (for example a weekly open-task reminder to all volunteers).
package schedule

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"opsdispatch/internal/bulk"
	"opsdispatch/internal/directory"
	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

// Entry is one recurring broadcast definition.
type Entry struct {
	Name     string
	Spec     string // cron spec or @every duration
	Template bulk.Template
	Text     string // literal text for the custom template
	Audience string // profile audience tag selecting the targets
}

type Config struct {
	Enabled     bool
	Timezone    string // IANA name; empty means the process local zone
	CountryCode string
	Entries     []Entry
}

// Broadcaster runs one bulk session to completion.
type Broadcaster interface {
	Run(ctx context.Context, s *bulk.Session)
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	st     store.Store
	bcast  Broadcaster
	log    logx.Logger
	parser cron.Parser

	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func New(cfg Config, st store.Store, bcast Broadcaster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		st:     st,
		bcast:  bcast,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Apply swaps the configuration; a running service is restarted so timezone
// and entry changes take effect.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if !s.started {
		return
	}
	s.stopCronLocked()
	if cfg.Enabled {
		s.startCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.cfg.Enabled {
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
}

func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	s.stopCronLocked()
	s.log.Info("schedule stopped")
}

func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, e := range s.cfg.Entries {
		entry := e
		if _, err := s.c.AddFunc(entry.Spec, func() { s.fire(entry) }); err != nil {
			s.log.Warn("schedule entry rejected",
				logx.String("entry", entry.Name),
				logx.String("spec", entry.Spec),
				logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("schedule started",
		logx.Int("entries", len(s.cfg.Entries)),
		logx.String("tz", loc.String()))
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) fire(e Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled broadcast panicked",
				logx.String("entry", e.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	ctx := s.runCtx
	countryCode := s.cfg.CountryCode
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	session, err := s.buildSession(ctx, e, countryCode)
	if err != nil {
		s.log.Warn("scheduled broadcast aborted", logx.String("entry", e.Name), logx.Err(err))
		return
	}
	if len(session.Targets) == 0 {
		s.log.Info("scheduled broadcast has no audience", logx.String("entry", e.Name), logx.String("audience", e.Audience))
		return
	}

	s.log.Info("scheduled broadcast starting",
		logx.String("entry", e.Name),
		logx.String("session", session.ID),
		logx.Int("targets", len(session.Targets)))
	s.bcast.Run(ctx, session)

	report := bulk.SessionReport(session)
	s.log.Info("scheduled broadcast finished",
		logx.String("entry", e.Name),
		logx.String("session", session.ID),
		logx.Int("sent", report.Sent),
		logx.Int("skipped", report.Skipped),
		logx.Int("failed", len(report.Failed)))
}

func (s *Service) buildSession(ctx context.Context, e Entry, countryCode string) (*bulk.Session, error) {
	profiles, err := directory.ProfilesByAudience(ctx, s.st, e.Audience)
	if err != nil {
		return nil, err
	}
	targets := make([]identity.Identity, 0, len(profiles))
	for _, p := range profiles {
		targets = append(targets, identity.New(p.Name, p.Ref, p.Email, p.Phone, countryCode))
	}
	return bulk.NewSession(e.Template, e.Text, targets), nil
}
