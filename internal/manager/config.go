package manager

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/llm"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxIdleModels  = 2
	defaultSessionTTL     = 10 * time.Minute
	defaultMaxTokensLimit = 2048
)

// DefaultArchitectures lists the model architectures accepted when none are configured.
var DefaultArchitectures = []string{"llama"}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Engine    llm.Engine
	Logger    *zerolog.Logger
	Publisher EventPublisher

	// Memory accounting uses model file size as the estimate (0 = unlimited).
	BudgetMB int
	MarginMB int
	// MaxIdleModels bounds how many unreferenced models stay loaded.
	MaxIdleModels int
	// Architectures accepted from the model header.
	Architectures []string

	// Workers caps concurrent generations across all models.
	Workers int
	// MaxQueueDepth and MaxWait optionally bound waiting for a busy model
	// (0 = wait until the request context ends).
	MaxQueueDepth int
	MaxWait       time.Duration
	// MaxDuration is the per-request deadline (0 = none).
	MaxDuration time.Duration
	// SessionTTL expires idle sessions.
	SessionTTL time.Duration

	// Params is the sampling policy for every request. Only MaxTokens can be
	// overridden per request, up to MaxTokensLimit.
	Params         llm.Params
	MaxTokensLimit int
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	if cfg.Engine == nil {
		cfg.Engine = llm.NewLlama(llm.Options{})
	}
	if cfg.Logger == nil {
		l := zerolog.Nop()
		cfg.Logger = &l
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.MaxIdleModels <= 0 {
		cfg.MaxIdleModels = defaultMaxIdleModels
	}
	if len(cfg.Architectures) == 0 {
		cfg.Architectures = DefaultArchitectures
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxQueueDepth < 0 {
		cfg.MaxQueueDepth = 0
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}
	if cfg.MaxDuration < 0 {
		cfg.MaxDuration = 0
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Params.MaxTokens <= 0 {
		cfg.Params.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.MaxTokensLimit <= 0 {
		cfg.MaxTokensLimit = defaultMaxTokensLimit
	}
	// A configured limit caps the default too.
	if cfg.Params.MaxTokens > cfg.MaxTokensLimit {
		cfg.Params.MaxTokens = cfg.MaxTokensLimit
	}
	return cfg
}
