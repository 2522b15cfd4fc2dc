package config

import (
	"time"

	"github.com/aristath/hq/internal/agent"
	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/health"
	"github.com/aristath/hq/internal/orchestrator"
	"github.com/aristath/hq/internal/roster"
	"github.com/aristath/hq/internal/scheduler"
)

// DefaultConfig returns the stock configuration: the default roster on the
// claude CLI, premium workers on the Anthropic API with a $10 daily cap.
func DefaultConfig() *Config {
	thresholds := budget.DefaultThresholds()
	tracker := health.DefaultConfig()
	healer := health.DefaultHealerConfig()

	cfg := &Config{
		Store: StoreConfig{Path: ".hq/hq.db"},
		Tick:  scheduler.DefaultConfig(),
		Budget: BudgetConfig{
			GlobalLimit: 10,
			WorkerLimits: map[string]float64{
				roster.Architect: 5,
				roster.Coder:     5,
			},
			Warning:        thresholds.Warning,
			Critical:       thresholds.Critical,
			Exceeded:       thresholds.Exceeded,
			Prices:         budget.DefaultPrices(),
			DefaultPrice:   budget.FallbackPrice,
			ReservedWorker: roster.Architect,
		},
		Health: HealthConfig{
			InitialBackoff:   tracker.InitialBackoff,
			MaxBackoff:       tracker.MaxBackoff,
			FailureThreshold: tracker.FailureThreshold,
			Cooldown:         tracker.Cooldown,
			StuckWorkerAfter: healer.StuckWorkerAfter,
			StaleTaskAfter:   healer.StaleTaskAfter,
			ClearFailuresAt:  healer.ClearFailuresAt,
		},
		Generation: orchestrator.DefaultConfig(),
		Agent:      agent.DefaultConfig(),
		Providers: ProvidersConfig{
			Default: "claude",
			Retry:   backend.DefaultRetryConfig(),
			Routes: map[string]ProviderConfig{
				"claude": {Type: "claude", Timeout: 10 * time.Minute},
				"codex":  {Type: "codex", Timeout: 10 * time.Minute},
				"goose":  {Type: "goose", Provider: "ollama", Model: "llama3.1", Timeout: 10 * time.Minute},
				"anthropic": {
					Type:      "anthropic",
					Model:     "claude-sonnet-4-20250514",
					MaxTokens: 4096,
					Timeout:   5 * time.Minute,
				},
			},
		},
		Metrics: MetricsConfig{Enabled: true, Addr: "127.0.0.1:9464"},
	}

	for _, w := range roster.DefaultWorkers() {
		wc := WorkerConfig{
			Code:    w.Code,
			Name:    w.Name,
			Role:    string(w.Role),
			Profile: string(w.Profile),
			Premium: w.Premium,
		}
		if w.Premium {
			wc.Provider = "anthropic"
			wc.Fallback = []string{"claude"}
		}
		cfg.Workers = append(cfg.Workers, wc)
	}
	return cfg
}
