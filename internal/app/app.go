// Package app wires the dispatcher together: config, logging, store, gate,
// gateway and the three dispatch flows. The daemon owns the schedule service;
// mentions, bulk and groups are library surfaces the dashboard backend calls
// into.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"opsdispatch/internal/alerts"
	"opsdispatch/internal/assets"
	"opsdispatch/internal/bulk"
	"opsdispatch/internal/config"
	"opsdispatch/internal/directory"
	"opsdispatch/internal/dispatch"
	"opsdispatch/internal/eventbus"
	"opsdispatch/internal/format"
	"opsdispatch/internal/gate"
	"opsdispatch/internal/gateway"
	"opsdispatch/internal/groups"
	"opsdispatch/internal/match"
	"opsdispatch/internal/mentions"
	"opsdispatch/internal/metrics"
	"opsdispatch/internal/schedule"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	st   store.Store

	gate      *gate.Gate
	gw        *gateway.Client
	sender    *dispatch.Sender
	formatter *format.Formatter
	resolver  *directory.Resolver
	matcher   *match.Matcher

	mentions *mentions.Service
	bulk     *bulk.Orchestrator
	groups   *groups.Manager
	sched    *schedule.Service
	alerts   *alerts.Service
	metrics  *metrics.Service

	metricsAddr string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	gateCfg, err := mapGateConfig(cfg)
	if err != nil {
		return nil, err
	}
	ledger := gate.NewStoreLedger(st, cfg.Pacing.LedgerPath)
	gateSvc := gate.New(gateCfg, ledger, log.With(logx.String("comp", "gate")), bus)

	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(gwCfg, log.With(logx.String("comp", "gateway")))
	if err != nil {
		return nil, err
	}

	rewriterTimeout, err := config.ParseDurationField("formatter.rewriter_timeout", cfg.Formatter.RewriterTimeout)
	if err != nil {
		return nil, err
	}
	var rewriter format.Rewriter
	if hr := format.NewHTTPRewriter(format.RewriterConfig{
		URL:     cfg.Formatter.RewriterURL,
		Timeout: rewriterTimeout,
	}); hr != nil {
		rewriter = hr
	}
	formatter := format.New(rewriter, log.With(logx.String("comp", "format")))

	countryCode := cfg.Identity.CountryCode
	resolver := directory.NewResolver(st, countryCode, log.With(logx.String("comp", "directory")))
	matcher := match.New(match.Config{
		TaskCap:  cfg.Matcher.TaskCap,
		ScanCap:  cfg.Matcher.ScanCap,
		EventCap: cfg.Matcher.EventCap,
	}, st, countryCode, log.With(logx.String("comp", "match")))

	sender := dispatch.NewSender(gateSvc, gw, log.With(logx.String("comp", "dispatch")))

	mediaTimeout, err := config.ParseDurationField("media.timeout", cfg.Media.Timeout)
	if err != nil {
		return nil, err
	}
	deleteGrace, err := config.ParseDurationField("media.delete_grace", cfg.Media.DeleteGrace)
	if err != nil {
		return nil, err
	}
	uploader := assets.NewClient(assets.Config{
		BaseURL: cfg.Media.BaseURL,
		Token:   cfg.Media.Token,
		Timeout: mediaTimeout,
	}, log.With(logx.String("comp", "assets")))

	mentionsSvc := mentions.New(mentions.Config{
		DashboardURL:      cfg.Dashboard.BaseURL,
		VolunteerAreaPath: cfg.Dashboard.VolunteerAreaPath,
	}, resolver, sender, bus, log.With(logx.String("comp", "mentions")))

	bulkSvc := bulk.New(bulk.Config{DashboardURL: cfg.Dashboard.BaseURL},
		resolver, sender, matcher, formatter, bus, log.With(logx.String("comp", "bulk")))

	groupsSvc := groups.New(groups.Config{DeleteGrace: deleteGrace},
		st, formatter, sender, uploader, bus, log.With(logx.String("comp", "groups")))

	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := schedule.New(schedCfg, st, bulkSvc, log.With(logx.String("comp", "schedule")))

	alertSvc, err := alerts.New(alerts.Config{
		Token:  cfg.Alerts.Token,
		ChatID: cfg.Alerts.ChatID,
	}, bus, log.With(logx.String("comp", "alerts")))
	if err != nil {
		return nil, err
	}

	var metricsSvc *metrics.Service
	metricsAddr := ""
	if cfg.Metrics.Enabled {
		metricsSvc = metrics.New(bus, log.With(logx.String("comp", "metrics")))
		metricsAddr = cfg.Metrics.Addr
		if metricsAddr == "" {
			metricsAddr = "127.0.0.1:9173"
		}
	}

	return &App{
		cfgm:        cfgm,
		logs:        logSvc,
		log:         log,
		bus:         bus,
		st:          st,
		gate:        gateSvc,
		gw:          gw,
		sender:      sender,
		formatter:   formatter,
		resolver:    resolver,
		matcher:     matcher,
		mentions:    mentionsSvc,
		bulk:        bulkSvc,
		groups:      groupsSvc,
		sched:       schedSvc,
		alerts:      alertSvc,
		metrics:     metricsSvc,
		metricsAddr: metricsAddr,
	}, nil
}

// Library surfaces for the dashboard backend.
func (a *App) Mentions() *mentions.Service { return a.mentions }
func (a *App) Bulk() *bulk.Orchestrator    { return a.bulk }
func (a *App) Groups() *groups.Manager     { return a.groups }
func (a *App) Resolver() *directory.Resolver {
	return a.resolver
}
func (a *App) Matcher() *match.Matcher { return a.matcher }
func (a *App) Store() store.Store      { return a.st }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.metrics != nil {
		a.metrics.Start(runCtx, a.metricsAddr)
	}
	a.alerts.Start(runCtx)
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("dispatcher started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	// Let an in-flight mention drain finish inside the caller's deadline.
	a.mentions.Stop(ctx)
	a.sched.Stop(ctx)
	a.alerts.Stop()
	if a.metrics != nil {
		a.metrics.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background loops did not stop in time")
	}

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// reloadLoop applies config changes that support live updates (logging, gate
// interval, schedule entries) and warns when a restart is required (storage,
// gateway).
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer, more := <-sub:
					if !more {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			prev := lastApplied
			if prev == nil {
				prev = &config.Config{}
			}
			sections, attrs := config.SummarizeConfigChange(prev, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				switch s {
				case "storage":
					a.log.Warn("config section requires a restart to take effect", logx.String("section", s))
				case "gateway":
					a.gw.SetRate(newCfg.Gateway.RatePerMin)
					if staticGateway(prev.Gateway) != staticGateway(newCfg.Gateway) {
						a.log.Warn("gateway endpoint changes require a restart to take effect")
					}
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			if gateCfg, err := mapGateConfig(newCfg); err == nil {
				a.gate.Apply(gateCfg)
			} else {
				a.log.Warn("invalid pacing config; keeping previous", logx.Err(err))
			}

			prevSchedEnabled := a.sched.Enabled()
			if schedCfg, err := mapScheduleConfig(newCfg); err == nil {
				a.sched.Apply(schedCfg)
				if !prevSchedEnabled && schedCfg.Enabled {
					a.sched.Start(ctx)
				}
			} else {
				a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func validate(cfg *config.Config) error {
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGateConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGatewayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScheduleConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("media.timeout", cfg.Media.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("media.delete_grace", cfg.Media.DeleteGrace); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("formatter.rewriter_timeout", cfg.Formatter.RewriterTimeout); err != nil {
		return err
	}
	return nil
}

// staticGateway strips the live-applicable rate field so endpoint changes can
// be detected separately.
func staticGateway(g config.GatewayConfig) config.GatewayConfig {
	g.RatePerMin = 0
	return g
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "memory"
	}
	return store.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapGateConfig(cfg *config.Config) (gate.Config, error) {
	interval, err := config.ParseDurationOrDefault("pacing.min_interval", cfg.Pacing.MinInterval, gate.DefaultMinInterval)
	if err != nil {
		return gate.Config{}, err
	}
	return gate.Config{MinInterval: interval}, nil
}

func mapGatewayConfig(cfg *config.Config) (gateway.Config, error) {
	timeout, err := config.ParseDurationField("gateway.timeout", cfg.Gateway.Timeout)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		InstanceID: cfg.Gateway.InstanceID,
		Token:      cfg.Gateway.Token,
		Timeout:    timeout,
		RatePerMin: cfg.Gateway.RatePerMin,
	}, nil
}

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	out := schedule.Config{
		Enabled:     cfg.Schedule.Enabled,
		Timezone:    cfg.Schedule.Timezone,
		CountryCode: cfg.Identity.CountryCode,
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return schedule.Config{}, fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	for _, e := range cfg.Schedule.Entries {
		var tmpl bulk.Template
		switch e.Template {
		case "custom":
			tmpl = bulk.TemplateCustom
		case "open_tasks":
			tmpl = bulk.TemplateOpenTasks
		case "upcoming_events":
			tmpl = bulk.TemplateUpcomingEvents
		default:
			return schedule.Config{}, fmt.Errorf("schedule entry %q: unknown template %q", e.Name, e.Template)
		}
		out.Entries = append(out.Entries, schedule.Entry{
			Name:     e.Name,
			Spec:     e.Spec,
			Template: tmpl,
			Text:     e.Text,
			Audience: e.Audience,
		})
	}
	return out, nil
}
