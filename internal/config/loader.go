package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used when PORT is unset.
const DefaultPort = 8080

// Duration is a time.Duration that decodes from strings like "30s" in every
// supported config format.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are filled from Defaults.
type Config struct {
	Port      int    `json:"port" yaml:"port" toml:"port"`
	AdminAddr string `json:"admin_addr" yaml:"admin_addr" toml:"admin_addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Preload lists model paths loaded at startup.
	Preload []string `json:"preload" yaml:"preload" toml:"preload"`

	MemoryBudgetMB int      `json:"memory_budget_mb" yaml:"memory_budget_mb" toml:"memory_budget_mb"`
	MemoryMarginMB int      `json:"memory_margin_mb" yaml:"memory_margin_mb" toml:"memory_margin_mb"`
	MaxIdleModels  int      `json:"max_idle_models" yaml:"max_idle_models" toml:"max_idle_models"`
	Architectures  []string `json:"architectures" yaml:"architectures" toml:"architectures"`

	Workers        int      `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueDepth  int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait        Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	MaxDuration    Duration `json:"max_duration" yaml:"max_duration" toml:"max_duration"`
	SessionTTL     Duration `json:"session_ttl" yaml:"session_ttl" toml:"session_ttl"`
	MaxTokens      int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxTokensLimit int      `json:"max_tokens_limit" yaml:"max_tokens_limit" toml:"max_tokens_limit"`

	// Sampling policy applied to every request (0 = engine default).
	Temperature   float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP          float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	Seed          int     `json:"seed" yaml:"seed" toml:"seed"`

	LlamaContext   int `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaGPULayers int `json:"llama_gpu_layers" yaml:"llama_gpu_layers" toml:"llama_gpu_layers"`

	MaxConns     int      `json:"max_conns" yaml:"max_conns" toml:"max_conns"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Port:           DefaultPort,
		ModelsDir:      "~/models/llm",
		MaxIdleModels:  2,
		Architectures:  []string{"llama"},
		SessionTTL:     Duration{10 * time.Minute},
		MaxTokens:      140,
		MaxTokensLimit: 2048,
		LlamaContext:   2048,
		MaxBodyBytes:   1 << 20,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Overlay returns c with every non-zero field of o applied on top.
func (c Config) Overlay(o Config) Config {
	setInt(&c.Port, o.Port)
	setStr(&c.AdminAddr, o.AdminAddr)
	setStr(&c.ModelsDir, o.ModelsDir)
	setList(&c.Preload, o.Preload)
	setInt(&c.MemoryBudgetMB, o.MemoryBudgetMB)
	setInt(&c.MemoryMarginMB, o.MemoryMarginMB)
	setInt(&c.MaxIdleModels, o.MaxIdleModels)
	setList(&c.Architectures, o.Architectures)
	setInt(&c.Workers, o.Workers)
	setInt(&c.MaxQueueDepth, o.MaxQueueDepth)
	setDur(&c.MaxWait, o.MaxWait)
	setDur(&c.MaxDuration, o.MaxDuration)
	setDur(&c.SessionTTL, o.SessionTTL)
	setInt(&c.MaxTokens, o.MaxTokens)
	setInt(&c.MaxTokensLimit, o.MaxTokensLimit)
	setFloat(&c.Temperature, o.Temperature)
	setInt(&c.TopK, o.TopK)
	setFloat(&c.TopP, o.TopP)
	setFloat(&c.RepeatPenalty, o.RepeatPenalty)
	setInt(&c.Seed, o.Seed)
	setInt(&c.LlamaContext, o.LlamaContext)
	setInt(&c.LlamaThreads, o.LlamaThreads)
	setInt(&c.LlamaGPULayers, o.LlamaGPULayers)
	setInt(&c.MaxConns, o.MaxConns)
	if o.MaxBodyBytes != 0 {
		c.MaxBodyBytes = o.MaxBodyBytes
	}
	setList(&c.CORSOrigins, o.CORSOrigins)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.LogFormat, o.LogFormat)
	return c
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float32, v float32) {
	if v != 0 {
		*dst = v
	}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}

func setDur(dst *Duration, v Duration) {
	if v.Duration != 0 {
		*dst = v
	}
}

// ParsePort parses the PORT value. Empty means DefaultPort; anything that is
// not a number in 1..65535 is an error.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPort, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid PORT %q: not a number", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid PORT %d: out of range", n)
	}
	return n, nil
}

// ApplyEnv overlays PORT, CHATD_LOG_LEVEL and CHATD_ADMIN_ADDR from getenv.
func (c Config) ApplyEnv(getenv func(string) string) (Config, error) {
	if v := getenv("PORT"); strings.TrimSpace(v) != "" {
		p, err := ParsePort(v)
		if err != nil {
			return c, err
		}
		c.Port = p
	}
	setStr(&c.LogLevel, strings.TrimSpace(getenv("CHATD_LOG_LEVEL")))
	setStr(&c.AdminAddr, strings.TrimSpace(getenv("CHATD_ADMIN_ADDR")))
	return c, nil
}
