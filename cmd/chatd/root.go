package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/catalog"
	"chatd/internal/config"
	"chatd/internal/llm"
)

// flagValues receives flag values; only flags the user changed are applied.
type flagValues struct {
	configPath     string
	port           int
	adminAddr      string
	modelsDir      string
	preload        string
	budgetMB       int
	marginMB       int
	maxIdle        int
	workers        int
	maxQueueDepth  int
	maxWait        time.Duration
	maxDuration    time.Duration
	sessionTTL     time.Duration
	maxTokens      int
	maxTokensLimit int
	arch           string
	llamaCtx       int
	llamaThreads   int
	llamaGPULayers int
	maxConns       int
	corsOrigins    string
	logLevel       string
	logFormat      string
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	fv := &flagValues{}

	root := &cobra.Command{
		Use:   "chatd",
		Short: "Serve POST /api/chat against local model files",
		Long: "chatd loads model files on demand, caches them by path and runs one\n" +
			"generation per model at a time. PORT selects the chat port (default 8080).",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, getenv)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			engine := llm.NewLlama(llm.Options{
				ContextSize: cfg.LlamaContext,
				Threads:     cfg.LlamaThreads,
				GPULayers:   cfg.LlamaGPULayers,
			})
			return serve(ctx, cfg, log, engine)
		},
	}

	bindFlags(root, fv)
	root.AddCommand(newModelsCmd(fv, getenv))
	return root
}

// bindFlags registers the CLI flags on root, defaulting to config.Defaults.
func bindFlags(root *cobra.Command, fv *flagValues) {
	def := config.Defaults()
	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "Config file (.yaml/.yml, .json, .toml); defaults to CHATD_CONFIG")
	pf.StringVar(&fv.modelsDir, "models-dir", def.ModelsDir, "Directory listed by /models and the models command")
	pf.StringVar(&fv.logLevel, "log-level", def.LogLevel, "Log level: debug|info|warn|error (defaults CHATD_LOG_LEVEL or info)")
	pf.StringVar(&fv.logFormat, "log-format", def.LogFormat, "Log format: json|console")

	f := root.Flags()
	f.IntVar(&fv.port, "port", def.Port, "Chat listener port (overrides PORT)")
	f.StringVar(&fv.adminAddr, "admin-addr", "", "Admin listener address, e.g. 127.0.0.1:9090 (disabled when empty)")
	f.StringVar(&fv.preload, "preload", "", "Comma-separated model paths to load at startup")
	f.IntVar(&fv.budgetMB, "memory-budget-mb", def.MemoryBudgetMB, "Memory budget in MB across loaded models (0=unlimited)")
	f.IntVar(&fv.marginMB, "memory-margin-mb", def.MemoryMarginMB, "Reserved memory margin in MB")
	f.IntVar(&fv.maxIdle, "max-idle-models", def.MaxIdleModels, "Unreferenced models kept loaded")
	f.IntVar(&fv.workers, "workers", def.Workers, "Concurrent generations across all models (0=number of CPUs)")
	f.IntVar(&fv.maxQueueDepth, "max-queue-depth", def.MaxQueueDepth, "Requests allowed to wait per model (0=unbounded)")
	f.DurationVar(&fv.maxWait, "max-wait", def.MaxWait.Duration, "Longest wait for a busy model (0=until the request ends)")
	f.DurationVar(&fv.maxDuration, "max-duration", def.MaxDuration.Duration, "Per-request deadline (0=none)")
	f.DurationVar(&fv.sessionTTL, "session-ttl", def.SessionTTL.Duration, "Idle session lifetime")
	f.IntVar(&fv.maxTokens, "max-tokens", def.MaxTokens, "Default tokens generated per request")
	f.IntVar(&fv.maxTokensLimit, "max-tokens-limit", def.MaxTokensLimit, "Largest max_tokens a request may ask for")
	f.StringVar(&fv.arch, "arch", strings.Join(def.Architectures, ","), "Comma-separated accepted model architectures")
	f.IntVar(&fv.llamaCtx, "llama-ctx", def.LlamaContext, "llama.cpp context size")
	f.IntVar(&fv.llamaThreads, "llama-threads", def.LlamaThreads, "llama.cpp threads (0=runtime default)")
	f.IntVar(&fv.llamaGPULayers, "llama-gpu-layers", def.LlamaGPULayers, "Layers offloaded to GPU")
	f.IntVar(&fv.maxConns, "max-conns", def.MaxConns, "Maximum simultaneous chat connections (0=unlimited)")
	f.StringVar(&fv.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (CORS disabled when empty)")
}

func newModelsCmd(fv *flagValues, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Short:   "List model files in the models directory",
		Example: "  chatd models --models-dir ~/models/llm",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, getenv)
			if err != nil {
				return err
			}
			models, err := catalog.LoadDir(cfg.ModelsDir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tARCH\tSIZE_MB\tPATH")
			for _, m := range models {
				arch := m.Architecture
				if m.Error != "" {
					arch = "?"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.ID, arch, m.SizeMB, m.Path)
			}
			return tw.Flush()
		},
	}
}

// resolveConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, fv *flagValues, getenv func(string) string) (config.Config, error) {
	cfg := config.Defaults()
	path := fv.configPath
	if path == "" {
		path = strings.TrimSpace(getenv("CHATD_CONFIG"))
	}
	if path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		cfg = cfg.Overlay(fileCfg)
	}
	cfg, err := cfg.ApplyEnv(getenv)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("port", func() { cfg.Port = fv.port })
	set("admin-addr", func() { cfg.AdminAddr = fv.adminAddr })
	set("models-dir", func() { cfg.ModelsDir = fv.modelsDir })
	set("preload", func() { cfg.Preload = splitCSV(fv.preload) })
	set("memory-budget-mb", func() { cfg.MemoryBudgetMB = fv.budgetMB })
	set("memory-margin-mb", func() { cfg.MemoryMarginMB = fv.marginMB })
	set("max-idle-models", func() { cfg.MaxIdleModels = fv.maxIdle })
	set("workers", func() { cfg.Workers = fv.workers })
	set("max-queue-depth", func() { cfg.MaxQueueDepth = fv.maxQueueDepth })
	set("max-wait", func() { cfg.MaxWait.Duration = fv.maxWait })
	set("max-duration", func() { cfg.MaxDuration.Duration = fv.maxDuration })
	set("session-ttl", func() { cfg.SessionTTL.Duration = fv.sessionTTL })
	set("max-tokens", func() { cfg.MaxTokens = fv.maxTokens })
	set("max-tokens-limit", func() { cfg.MaxTokensLimit = fv.maxTokensLimit })
	set("arch", func() { cfg.Architectures = splitCSV(fv.arch) })
	set("llama-ctx", func() { cfg.LlamaContext = fv.llamaCtx })
	set("llama-threads", func() { cfg.LlamaThreads = fv.llamaThreads })
	set("llama-gpu-layers", func() { cfg.LlamaGPULayers = fv.llamaGPULayers })
	set("max-conns", func() { cfg.MaxConns = fv.maxConns })
	set("cors-origins", func() { cfg.CORSOrigins = splitCSV(fv.corsOrigins) })
	set("log-level", func() { cfg.LogLevel = fv.logLevel })
	set("log-format", func() { cfg.LogFormat = fv.logFormat })

	if cfg.Port < 1 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
