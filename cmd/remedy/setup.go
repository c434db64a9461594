package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/config"
	"github.com/m-mizutani/remedy/helm"
	"github.com/m-mizutani/remedy/kube"
	"github.com/m-mizutani/remedy/llm/claude"
	"github.com/m-mizutani/remedy/llm/gemini"
	"github.com/m-mizutani/remedy/llm/ollama"
	"github.com/m-mizutani/remedy/llm/openai"
	"github.com/m-mizutani/remedy/loki"
	"github.com/m-mizutani/remedy/prom"
	"github.com/m-mizutani/remedy/tools"
)

// runtime bundles everything a subcommand needs after setup.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	kube   *kube.Client
	engine *remedy.Engine
	budget remedy.RunBudget
}

// setup loads the configuration, applies CLI overrides and wires the
// full stack: logger, cluster clients, model backend, tool catalog,
// engine.
func setup(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, cmd)

	logger, err := newLogger(cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return nil, err
	}

	kubeClient, err := kube.NewClient(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, err
	}

	backends := tools.Backends{Kube: kubeClient}
	if restCfg := kubeClient.RESTConfig(); restCfg != nil {
		helmClient, err := helm.New(restCfg, logger)
		if err != nil {
			return nil, err
		}
		backends.Helm = helmClient
	}
	if cfg.Loki.URL != "" {
		lokiClient, err := loki.New(cfg.Loki.URL)
		if err != nil {
			return nil, err
		}
		backends.Loki = lokiClient
	}
	if cfg.Prometheus.URL != "" {
		promClient, err := prom.New(cfg.Prometheus.URL)
		if err != nil {
			return nil, err
		}
		backends.Prom = promClient
	}

	llmClient, err := newLLMClient(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}

	catalog := tools.Catalog(backends)
	for _, server := range cfg.MCP {
		mcpTools, err := remedy.ToolsFromSet(ctx, newMCPToolSet(server))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to attach MCP server", goerr.V("server", server.Name))
		}
		catalog = append(catalog, mcpTools...)
	}

	budget := remedy.RunBudget{
		MaxIterations: cfg.Agent.MaxIterations,
		DryRun:        cfg.Agent.DryRun,
		AutoRemediate: cfg.Agent.AutoRemediate,
	}

	engine, err := remedy.New(llmClient, catalog,
		remedy.WithLogger(logger),
		remedy.WithObservationLimit(cfg.Agent.ObservationLimit),
		remedy.WithConfirm(terminalConfirm(os.Stdin, os.Stdout)),
		remedy.WithMessageHook(func(ctx context.Context, msg string) error {
			logger.Info("model", "message", msg)
			return nil
		}),
		remedy.WithToolRequestHook(func(ctx context.Context, call remedy.ToolCall) error {
			logger.Info("tool requested", "tool", call.Name, "args", call.Arguments)
			return nil
		}),
		remedy.WithToolErrorHook(func(ctx context.Context, err error, call remedy.ToolCall) error {
			var toolErr *remedy.ToolError
			if errors.As(err, &toolErr) {
				logger.Warn("tool failed", "tool", call.Name, "kind", toolErr.Kind, "error", toolErr.Message)
			} else {
				logger.Warn("tool failed", "tool", call.Name, "error", err)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		kube:   kubeClient,
		engine: engine,
		budget: budget,
	}, nil
}

// applyOverrides folds the global CLI flags into the loaded config.
// --dry-run wins over --auto: a simulated run can never mutate.
func applyOverrides(cfg *config.Config, cmd *cli.Command) {
	if cmd.Bool("auto") {
		cfg.Agent.AutoRemediate = true
	}
	if cmd.Bool("dry-run") {
		cfg.Agent.DryRun = true
		cfg.Agent.AutoRemediate = false
	}
	if n := int(cmd.Int("max-iterations")); n > 0 {
		cfg.Agent.MaxIterations = n
	}
	if p := cmd.String("provider"); p != "" {
		cfg.Provider.Name = p
	}
	if m := cmd.String("model"); m != "" {
		cfg.Provider.Model = m
	}
}

// newMCPToolSet builds the transport matching the server block; the
// config validator guarantees exactly one of command and url is set.
func newMCPToolSet(server config.MCPServer) remedy.ToolSet {
	if server.URL != "" {
		return remedy.NewMCPSSE(server.URL, remedy.WithHeaders(server.Headers))
	}
	return remedy.NewMCPStdio(server.Command, server.Args, remedy.WithEnvVars(server.Env))
}

func newLLMClient(ctx context.Context, p config.Provider) (remedy.LLMClient, error) {
	switch p.Name {
	case config.ProviderOpenAI:
		opts := []openai.Option{}
		if p.Model != "" {
			opts = append(opts, openai.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.Temperature != nil {
			opts = append(opts, openai.WithTemperature(float32(*p.Temperature)))
		}
		return openai.New(ctx, p.APIKey, opts...)

	case config.ProviderClaude:
		opts := []claude.Option{}
		if p.Model != "" {
			opts = append(opts, claude.WithModel(p.Model))
		}
		if p.Temperature != nil {
			opts = append(opts, claude.WithTemperature(*p.Temperature))
		}
		return claude.New(ctx, p.APIKey, opts...)

	case config.ProviderGemini:
		opts := []gemini.Option{}
		if p.Model != "" {
			opts = append(opts, gemini.WithModel(p.Model))
		}
		if p.Temperature != nil {
			opts = append(opts, gemini.WithTemperature(float32(*p.Temperature)))
		}
		return gemini.New(ctx, p.Project, p.Location, opts...)

	case config.ProviderOllama:
		opts := []ollama.Option{}
		if p.Model != "" {
			opts = append(opts, ollama.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithHost(p.BaseURL))
		}
		if p.Temperature != nil {
			opts = append(opts, ollama.WithTemperature(*p.Temperature))
		}
		return ollama.New(ctx, opts...)

	default:
		return nil, goerr.New("unknown provider", goerr.V("provider", p.Name))
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, goerr.New("unknown log level", goerr.V("level", level))
	}

	opts := &slog.HandlerOptions{Level: lv}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, goerr.New("unknown log format", goerr.V("format", format))
	}
}
