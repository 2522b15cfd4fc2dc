package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/hq/internal/agent"
	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/health"
	"github.com/aristath/hq/internal/orchestrator"
	"github.com/aristath/hq/internal/roster"
	"github.com/aristath/hq/internal/scheduler"
)

// Config is the top-level configuration.
type Config struct {
	Store      StoreConfig             `mapstructure:"store" yaml:"store"`
	Tick       scheduler.Config        `mapstructure:"tick" yaml:"tick"`
	Budget     BudgetConfig            `mapstructure:"budget" yaml:"budget"`
	Health     HealthConfig            `mapstructure:"health" yaml:"health"`
	Generation orchestrator.Config     `mapstructure:"generation" yaml:"generation"`
	Agent      agent.Config            `mapstructure:"agent" yaml:"agent"`
	Providers  ProvidersConfig         `mapstructure:"providers" yaml:"providers"`
	Workers    []WorkerConfig          `mapstructure:"workers" yaml:"workers"`
	Pipelines  []orchestrator.Template `mapstructure:"pipelines" yaml:"pipelines,omitempty"`
	Metrics    MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BudgetConfig holds the daily spend limits in dollars. Workers missing
// from WorkerLimits run on free providers.
type BudgetConfig struct {
	GlobalLimit    float64                 `mapstructure:"global_limit" yaml:"global_limit"`
	WorkerLimits   map[string]float64      `mapstructure:"worker_limits" yaml:"worker_limits,omitempty"`
	Warning        float64                 `mapstructure:"warning" yaml:"warning"`
	Critical       float64                 `mapstructure:"critical" yaml:"critical"`
	Exceeded       float64                 `mapstructure:"exceeded" yaml:"exceeded"`
	Prices         map[string]budget.Price `mapstructure:"prices" yaml:"prices,omitempty"`
	DefaultPrice   budget.Price            `mapstructure:"default_price" yaml:"default_price"`
	ReservedWorker string                  `mapstructure:"reserved_worker" yaml:"reserved_worker"`
}

// Governor converts the section into a budget.Config.
func (b BudgetConfig) Governor() budget.Config {
	return budget.Config{
		GlobalLimit:    b.GlobalLimit,
		WorkerLimits:   b.WorkerLimits,
		Thresholds:     budget.Thresholds{Warning: b.Warning, Critical: b.Critical, Exceeded: b.Exceeded},
		Prices:         b.Prices,
		DefaultPrice:   b.DefaultPrice,
		ReservedWorker: b.ReservedWorker,
	}
}

// HealthConfig tunes failure backoff and self-healing.
type HealthConfig struct {
	InitialBackoff   time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	StuckWorkerAfter time.Duration `mapstructure:"stuck_worker_after" yaml:"stuck_worker_after"`
	StaleTaskAfter   time.Duration `mapstructure:"stale_task_after" yaml:"stale_task_after"`
	ClearFailuresAt  int           `mapstructure:"clear_failures_at" yaml:"clear_failures_at"`
}

// Tracker returns the tracker part of the section.
func (h HealthConfig) Tracker() health.Config {
	return health.Config{
		InitialBackoff:   h.InitialBackoff,
		MaxBackoff:       h.MaxBackoff,
		FailureThreshold: h.FailureThreshold,
		Cooldown:         h.Cooldown,
	}
}

// Healer returns the healer part of the section.
func (h HealthConfig) Healer() health.HealerConfig {
	return health.HealerConfig{
		StuckWorkerAfter: h.StuckWorkerAfter,
		StaleTaskAfter:   h.StaleTaskAfter,
		ClearFailuresAt:  h.ClearFailuresAt,
	}
}

// ProvidersConfig names the completion providers. Workers pick routes by
// name; Default serves workers without one.
type ProvidersConfig struct {
	Default string                    `mapstructure:"default" yaml:"default"`
	Retry   backend.RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Routes  map[string]ProviderConfig `mapstructure:"routes" yaml:"routes"`
}

// ProviderConfig defines one provider route. Type matches backend.Config.Type.
type ProviderConfig struct {
	Type      string        `mapstructure:"type" yaml:"type"`
	Model     string        `mapstructure:"model" yaml:"model,omitempty"`
	Provider  string        `mapstructure:"provider" yaml:"provider,omitempty"`
	Binary    string        `mapstructure:"binary" yaml:"binary,omitempty"`
	WorkDir   string        `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Backend converts the route into a backend.Config.
func (p ProviderConfig) Backend() backend.Config {
	return backend.Config{
		Type:      p.Type,
		Model:     p.Model,
		Provider:  p.Provider,
		Binary:    p.Binary,
		WorkDir:   p.WorkDir,
		APIKey:    p.APIKey,
		MaxTokens: p.MaxTokens,
		Timeout:   p.Timeout,
	}
}

// WorkerConfig seeds one roster worker. Fallback lists extra routes tried
// after Provider, in order.
type WorkerConfig struct {
	Code     string   `mapstructure:"code" yaml:"code"`
	Name     string   `mapstructure:"name" yaml:"name"`
	Role     string   `mapstructure:"role" yaml:"role"`
	Profile  string   `mapstructure:"profile" yaml:"profile"`
	Premium  bool     `mapstructure:"premium" yaml:"premium,omitempty"`
	Provider string   `mapstructure:"provider" yaml:"provider,omitempty"`
	Fallback []string `mapstructure:"fallback" yaml:"fallback,omitempty"`
	Model    string   `mapstructure:"model" yaml:"model,omitempty"`
}

// Worker converts the entry into a roster worker.
func (w WorkerConfig) Worker() (roster.Worker, error) {
	role, err := roster.ParseRole(w.Role)
	if err != nil {
		return roster.Worker{}, fmt.Errorf("worker %s: %w", w.Code, err)
	}
	profile, err := roster.ParseProfile(w.Profile)
	if err != nil {
		return roster.Worker{}, fmt.Errorf("worker %s: %w", w.Code, err)
	}
	return roster.Worker{
		Code:     w.Code,
		Name:     w.Name,
		Role:     role,
		Profile:  profile,
		Premium:  w.Premium,
		Provider: w.Provider,
		Model:    w.Model,
	}, nil
}

// Routes returns the route names serving the worker, primary first.
func (w WorkerConfig) Routes() []string {
	var names []string
	if w.Provider != "" {
		names = append(names, w.Provider)
	}
	return append(names, w.Fallback...)
}

// MetricsConfig controls the HTTP endpoint serving /metrics and /healthz.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Roster converts every worker entry.
func (c *Config) Roster() ([]roster.Worker, error) {
	out := make([]roster.Worker, 0, len(c.Workers))
	for _, wc := range c.Workers {
		w, err := wc.Worker()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Validate checks cross-references between sections.
func (c *Config) Validate() error {
	if _, err := scheduler.ParseQuotaTrip(string(c.Tick.QuotaTrip)); err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	b := c.Budget
	if !(b.Warning > 0 && b.Warning <= b.Critical && b.Critical <= b.Exceeded) {
		return fmt.Errorf("budget: thresholds must satisfy 0 < warning <= critical <= exceeded, got %v/%v/%v",
			b.Warning, b.Critical, b.Exceeded)
	}
	if len(c.Providers.Routes) == 0 {
		return fmt.Errorf("providers: no routes configured")
	}
	if _, ok := c.Providers.Routes[c.Providers.Default]; !ok {
		return fmt.Errorf("providers: default route %q is not defined", c.Providers.Default)
	}

	seen := make(map[string]bool, len(c.Workers))
	for _, wc := range c.Workers {
		if wc.Code == "" {
			return fmt.Errorf("workers: entry without a code")
		}
		if seen[wc.Code] {
			return fmt.Errorf("workers: duplicate code %s", wc.Code)
		}
		seen[wc.Code] = true
		if _, err := wc.Worker(); err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		for _, name := range wc.Routes() {
			if _, ok := c.Providers.Routes[name]; !ok {
				return fmt.Errorf("workers: %s uses undefined provider %q", wc.Code, name)
			}
		}
	}

	for _, p := range c.Pipelines {
		if p.Key == "" {
			return fmt.Errorf("pipelines: template without a key")
		}
		if _, err := orchestrator.ValidateStages(p.Stages); err != nil {
			return fmt.Errorf("pipelines: %s: %w", p.Key, err)
		}
	}
	return nil
}

// normalize undoes viper's key lowercasing where keys are worker codes and
// lowercases route references so they match route keys.
func (c *Config) normalize() {
	if len(c.Budget.WorkerLimits) > 0 {
		limits := make(map[string]float64, len(c.Budget.WorkerLimits))
		for code, limit := range c.Budget.WorkerLimits {
			limits[strings.ToUpper(code)] = limit
		}
		c.Budget.WorkerLimits = limits
	}
	c.Budget.ReservedWorker = strings.ToUpper(c.Budget.ReservedWorker)
	c.Providers.Default = strings.ToLower(c.Providers.Default)
	for i := range c.Workers {
		w := &c.Workers[i]
		w.Code = strings.ToUpper(w.Code)
		w.Provider = strings.ToLower(w.Provider)
		for j := range w.Fallback {
			w.Fallback[j] = strings.ToLower(w.Fallback[j])
		}
	}
}
