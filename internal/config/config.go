package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all stratum configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	LLM         LLMConfig         `yaml:"llm"`
	Intake      IntakeConfig      `yaml:"intake"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Router      RouterConfig      `yaml:"router"`
	Pool        PoolConfig        `yaml:"pool"`
	Decay       DecayConfig       `yaml:"decay"`
	Consolidate ConsolidateConfig `yaml:"consolidate"`
	Retry       RetryConfig       `yaml:"retry"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"` // "anthropic", "ollama", "mock"
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	AnthropicKey   string `yaml:"anthropic_key"`
}

// IntakeConfig governs the staging tier that holds records until they are
// classified.
type IntakeConfig struct {
	TTLSeconds        int `yaml:"ttl_seconds"`         // max age before force-routing
	SweepSeconds      int `yaml:"sweep_seconds"`       // sweep interval
	EmbedTimeoutMS    int `yaml:"embed_timeout_ms"`    // per-call embedding timeout
	ClassifyTimeoutMS int `yaml:"classify_timeout_ms"` // per-job classification budget
}

type BufferConfig struct {
	Capacity         int     `yaml:"capacity"`          // attention span, default 7
	PromoteThreshold float64 `yaml:"promote_threshold"` // min weight for nightly promotion
}

// SignalWeights is one weight per routing signal. Composite rule scores are
// dot products of a weight set against the extracted signal vector.
type SignalWeights struct {
	SuccessScore       float64 `yaml:"success_score"`
	RepetitionSignal   float64 `yaml:"repetition_signal"`
	Criticality        float64 `yaml:"criticality"`
	PatternNovelty     float64 `yaml:"pattern_novelty"`
	ContextRichness    float64 `yaml:"context_richness"`
	EmotionalIntensity float64 `yaml:"emotional_intensity"`
	TemporalUrgency    float64 `yaml:"temporal_urgency"`
}

// RouterConfig holds the weights and thresholds for the five composite
// routing scores. The rule ordering is fixed in code; only the numbers are
// tunable here.
type RouterConfig struct {
	ShockWeights      SignalWeights `yaml:"shock_weights"`
	DecayWeights      SignalWeights `yaml:"decay_weights"` // applied to inverted signals
	ProceduralWeights SignalWeights `yaml:"procedural_weights"`
	LongTermWeights   SignalWeights `yaml:"longterm_weights"`
	PatternWeights    SignalWeights `yaml:"pattern_weights"`

	ShockThreshold      float64 `yaml:"shock_threshold"`
	DecayThreshold      float64 `yaml:"decay_threshold"`
	ProceduralThreshold float64 `yaml:"procedural_threshold"`
	LongTermThreshold   float64 `yaml:"longterm_threshold"`
	PatternThreshold    float64 `yaml:"pattern_threshold"`

	SignalCacheEntries int64 `yaml:"signal_cache_entries"` // ristretto sizing
}

type PoolConfig struct {
	MinWorkers        int `yaml:"min_workers"`
	MaxWorkers        int `yaml:"max_workers"`
	QueueCapacity     int `yaml:"queue_capacity"`
	HighPrioWaitMS    int `yaml:"high_prio_wait_ms"`   // bounded block before backpressure
	MonitorIntervalMS int `yaml:"monitor_interval_ms"` // scaling + watchdog check
	ScaleUpDepth      int `yaml:"scale_up_depth"`      // queue depth to add a worker
	ScaleDownDepth    int `yaml:"scale_down_depth"`    // queue depth to drop a worker
	WatchdogTimeoutMS int `yaml:"watchdog_timeout_ms"` // silent worker replacement
	BatchSize         int `yaml:"batch_size"`          // low-priority coalescing
	MaxJobAttempts    int `yaml:"max_job_attempts"`    // requeues before dead-letter
	AgeBoostMinutes   int `yaml:"age_boost_minutes"`   // minutes per +1 priority
}

type DecayConfig struct {
	Schedule        string  `yaml:"schedule"` // cron expression, hourly by default
	HalfLifeDays    float64 `yaml:"half_life_days"`
	CriticalityDrag float64 `yaml:"criticality_drag"` // fraction of elapsed time a crit=1.0 record skips
	SuccessBoost    float64 `yaml:"success_boost"`
	RecencyBoost    float64 `yaml:"recency_boost"`
	RecencyHours    float64 `yaml:"recency_hours"`
	RepetitionBoost float64 `yaml:"repetition_boost"`
	CycleBudgetMS   int     `yaml:"cycle_budget_ms"` // wall-clock budget per run

	// Strength floors per phase, evaluated in order. A strength below every
	// floor means forgotten.
	PhaseThresholds PhaseThresholds `yaml:"phase_thresholds"`
	// Token budgets per phase, strictly decreasing.
	PhaseBudgets PhaseBudgets `yaml:"phase_budgets"`
}

type PhaseThresholds struct {
	Full        float64 `yaml:"full"`
	Compressed1 float64 `yaml:"compressed1"`
	Compressed2 float64 `yaml:"compressed2"`
	Essence     float64 `yaml:"essence"`
	Pattern     float64 `yaml:"pattern"`
	Intuitive   float64 `yaml:"intuitive"`
}

type PhaseBudgets struct {
	Full        int `yaml:"full"`
	Compressed1 int `yaml:"compressed1"`
	Compressed2 int `yaml:"compressed2"`
	Essence     int `yaml:"essence"`
	Pattern     int `yaml:"pattern"`
	Intuitive   int `yaml:"intuitive"`
}

type ConsolidateConfig struct {
	NightlySchedule     string  `yaml:"nightly_schedule"`
	WeeklySchedule      string  `yaml:"weekly_schedule"`
	ClusterWindowDays   int     `yaml:"cluster_window_days"`
	MinClusterSize      int     `yaml:"min_cluster_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	PatternMatchMin     float64 `yaml:"pattern_match_min"` // centroid match to update vs create
}

type RetryConfig struct {
	MaxTries         int `yaml:"max_tries"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// Default returns a Config with sensible defaults. The routing thresholds
// come from the product design docs; they are starting points, not contracts.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37791,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "ollama",
		},
		Intake: IntakeConfig{
			TTLSeconds:        600,
			SweepSeconds:      60,
			EmbedTimeoutMS:    30_000,
			ClassifyTimeoutMS: 30_000,
		},
		Buffer: BufferConfig{
			Capacity:         7,
			PromoteThreshold: 0.7,
		},
		Router: RouterConfig{
			ShockWeights: SignalWeights{
				Criticality:        0.9,
				EmotionalIntensity: 0.2,
				TemporalUrgency:    0.1,
			},
			DecayWeights: SignalWeights{
				SuccessScore:     0.30,
				RepetitionSignal: 0.25,
				Criticality:      0.25,
				TemporalUrgency:  0.20,
			},
			ProceduralWeights: SignalWeights{
				RepetitionSignal: 0.6,
				SuccessScore:     0.4,
			},
			LongTermWeights: SignalWeights{
				SuccessScore:       0.60,
				ContextRichness:    0.25,
				EmotionalIntensity: 0.15,
			},
			PatternWeights: SignalWeights{
				PatternNovelty:  0.6,
				ContextRichness: 0.2,
				SuccessScore:    0.2,
			},
			ShockThreshold:      0.85,
			DecayThreshold:      0.70,
			ProceduralThreshold: 0.60,
			LongTermThreshold:   0.70,
			PatternThreshold:    0.50,
			SignalCacheEntries:  10_000,
		},
		Pool: PoolConfig{
			MinWorkers:        2,
			MaxWorkers:        8,
			QueueCapacity:     100,
			HighPrioWaitMS:    2_000,
			MonitorIntervalMS: 1_000,
			ScaleUpDepth:      20,
			ScaleDownDepth:    2,
			WatchdogTimeoutMS: 60_000,
			BatchSize:         8,
			MaxJobAttempts:    4,
			AgeBoostMinutes:   5,
		},
		Decay: DecayConfig{
			Schedule:        "0 * * * *", // hourly
			HalfLifeDays:    30,
			CriticalityDrag: 0.7,
			SuccessBoost:    0.3,
			RecencyBoost:    0.2,
			RecencyHours:    24,
			RepetitionBoost: 0.3,
			CycleBudgetMS:   300_000,
			PhaseThresholds: PhaseThresholds{
				Full:        0.8,
				Compressed1: 0.6,
				Compressed2: 0.4,
				Essence:     0.2,
				Pattern:     0.1,
				Intuitive:   0.01,
			},
			PhaseBudgets: PhaseBudgets{
				Full:        4096,
				Compressed1: 512,
				Compressed2: 192,
				Essence:     64,
				Pattern:     24,
				Intuitive:   8,
			},
		},
		Consolidate: ConsolidateConfig{
			NightlySchedule:     "0 3 * * *",
			WeeklySchedule:      "0 4 * * 0",
			ClusterWindowDays:   30,
			MinClusterSize:      3,
			SimilarityThreshold: 0.80,
			PatternMatchMin:     0.90,
		},
		Retry: RetryConfig{
			MaxTries:         4,
			InitialBackoffMS: 250,
			MaxBackoffMS:     10_000,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break subsystem invariants.
func (c *Config) Validate() error {
	if c.Buffer.Capacity < 1 {
		return fmt.Errorf("buffer capacity must be >= 1, got %d", c.Buffer.Capacity)
	}
	if c.Pool.MinWorkers < 1 || c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return fmt.Errorf("pool workers misconfigured: min=%d max=%d", c.Pool.MinWorkers, c.Pool.MaxWorkers)
	}
	b := c.Decay.PhaseBudgets
	budgets := []int{b.Full, b.Compressed1, b.Compressed2, b.Essence, b.Pattern, b.Intuitive}
	for i := 1; i < len(budgets); i++ {
		if budgets[i] >= budgets[i-1] {
			return fmt.Errorf("phase budgets must strictly decrease, got %v", budgets)
		}
	}
	t := c.Decay.PhaseThresholds
	floors := []float64{t.Full, t.Compressed1, t.Compressed2, t.Essence, t.Pattern, t.Intuitive}
	for i := 1; i < len(floors); i++ {
		if floors[i] >= floors[i-1] {
			return fmt.Errorf("phase thresholds must strictly decrease, got %v", floors)
		}
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
