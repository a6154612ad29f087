package manager

import (
	"testing"
	"time"

	"chatd/internal/llm"
	"chatd/internal/llm/llmtest"
)

func TestManagerConfigDefaults(t *testing.T) {
	cfg := ManagerConfig{}.withDefaults()
	if cfg.Engine == nil || cfg.Logger == nil || cfg.Publisher == nil {
		t.Fatal("engine, logger and publisher must default")
	}
	if cfg.MaxQueueDepth != 0 || cfg.MaxWait != 0 {
		t.Fatalf("waiting must be unbounded by default: depth=%d wait=%s", cfg.MaxQueueDepth, cfg.MaxWait)
	}
	if cfg.MaxIdleModels != defaultMaxIdleModels || cfg.SessionTTL != defaultSessionTTL {
		t.Fatalf("idle=%d ttl=%s", cfg.MaxIdleModels, cfg.SessionTTL)
	}
	if cfg.Workers <= 0 {
		t.Fatalf("workers=%d", cfg.Workers)
	}
	if cfg.Params.MaxTokens != llm.DefaultMaxTokens || cfg.MaxTokensLimit != defaultMaxTokensLimit {
		t.Fatalf("max tokens=%d limit=%d", cfg.Params.MaxTokens, cfg.MaxTokensLimit)
	}
	if len(cfg.Architectures) != 1 || cfg.Architectures[0] != "llama" {
		t.Fatalf("architectures=%v", cfg.Architectures)
	}
}

func TestManagerConfigOverrides(t *testing.T) {
	cfg := ManagerConfig{
		Engine:         llmtest.New(),
		MaxQueueDepth:  3,
		MaxWait:        time.Second,
		MaxDuration:    -1,
		MaxTokensLimit: 100,
		Workers:        2,
		Params:         llm.Params{MaxTokens: 4000},
	}.withDefaults()
	if cfg.MaxQueueDepth != 3 || cfg.MaxWait != time.Second || cfg.Workers != 2 {
		t.Fatalf("overrides lost: %+v", cfg)
	}
	if cfg.MaxDuration != 0 {
		t.Fatalf("negative MaxDuration should disable the deadline, got %s", cfg.MaxDuration)
	}
	if cfg.MaxTokensLimit != 100 || cfg.Params.MaxTokens != 100 {
		t.Fatalf("configured limit must cap the default: limit=%d default=%d", cfg.MaxTokensLimit, cfg.Params.MaxTokens)
	}
}

func TestManagerConfigNegativeWaitsMeanUnbounded(t *testing.T) {
	cfg := ManagerConfig{MaxQueueDepth: -1, MaxWait: -time.Second}.withDefaults()
	if cfg.MaxQueueDepth != 0 || cfg.MaxWait != 0 {
		t.Fatalf("depth=%d wait=%s", cfg.MaxQueueDepth, cfg.MaxWait)
	}
}

func TestManagerConfigLimitCapsDefaultMaxTokens(t *testing.T) {
	cfg := ManagerConfig{MaxTokensLimit: 8}.withDefaults()
	if cfg.MaxTokensLimit != 8 || cfg.Params.MaxTokens != 8 {
		t.Fatalf("limit=%d default=%d", cfg.MaxTokensLimit, cfg.Params.MaxTokens)
	}
}
