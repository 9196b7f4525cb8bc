package config

// Config is the daemon configuration. The file may be JSON or YAML; both are
// decoded strictly, so unknown keys fail the load instead of being silently
// ignored.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Gateway GatewayConfig `json:"gateway"`
	Pacing  PacingConfig  `json:"pacing,omitempty"`

	Identity  IdentityConfig  `json:"identity,omitempty"`
	Formatter FormatterConfig `json:"formatter,omitempty"`
	Matcher   MatcherConfig   `json:"matcher,omitempty"`
	Media     MediaConfig     `json:"media,omitempty"`
	Dashboard DashboardConfig `json:"dashboard"`

	Alerts   AlertsConfig   `json:"alerts,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the document store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./opsdispatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | sqlite | postgres
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// GatewayConfig points at the external messaging gateway.
type GatewayConfig struct {
	BaseURL    string `json:"base_url"`
	InstanceID string `json:"instance_id,omitempty"`
	Token      string `json:"token,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	// RatePerMin smooths this process's own sends on top of the shared gate.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// PacingConfig tunes the shared dispatch gate.
type PacingConfig struct {
	MinInterval string `json:"min_interval,omitempty"` // default 5s
	LedgerPath  string `json:"ledger_path,omitempty"`
}

type IdentityConfig struct {
	CountryCode string `json:"country_code,omitempty"` // default "972"
}

// FormatterConfig enables the optional external text-rewriting service.
type FormatterConfig struct {
	RewriterURL     string `json:"rewriter_url,omitempty"`
	RewriterTimeout string `json:"rewriter_timeout,omitempty"`
}

type MatcherConfig struct {
	TaskCap  int `json:"task_cap,omitempty"`
	ScanCap  int `json:"scan_cap,omitempty"`
	EventCap int `json:"event_cap,omitempty"`
}

// MediaConfig points at the transient object store.
type MediaConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Token       string `json:"token,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	DeleteGrace string `json:"delete_grace,omitempty"`
}

type DashboardConfig struct {
	BaseURL           string `json:"base_url"`
	VolunteerAreaPath string `json:"volunteer_area_path,omitempty"`
}

// AlertsConfig configures the optional operator Telegram channel. Both fields
// set means enabled.
type AlertsConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9173"
}

type ScheduleConfig struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone,omitempty"`
	Entries  []ScheduleEntry `json:"entries,omitempty"`
}

type ScheduleEntry struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Template string `json:"template"` // custom | open_tasks | upcoming_events
	Text     string `json:"text,omitempty"`
	Audience string `json:"audience"`
}
