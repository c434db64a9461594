// Package config loads the agent configuration from a YAML file, with
// environment variables filling in secrets left out of the file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider block.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config is the full agent configuration.
type Config struct {
	Provider   Provider   `yaml:"provider"`
	Kubernetes Kubernetes `yaml:"kubernetes"`
	Loki       Endpoint   `yaml:"loki"`
	Prometheus Endpoint   `yaml:"prometheus"`
	Agent      Agent      `yaml:"agent"`
	Monitor    Monitor    `yaml:"monitor"`

	// MCP lists external tool servers whose tools join the catalog.
	MCP []MCPServer `yaml:"mcp"`
}

// Provider selects and configures the model backend.
type Provider struct {
	Name        string   `yaml:"name"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`

	// Vertex AI settings, used by the gemini provider only.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
}

// Kubernetes configures cluster access and the watched namespaces.
type Kubernetes struct {
	// Namespaces is "*" for all, or a comma-separated list.
	Namespaces string `yaml:"namespaces"`
	Kubeconfig string `yaml:"kubeconfig"`
}

// Endpoint is a plain base URL block for Loki and Prometheus.
type Endpoint struct {
	URL string `yaml:"url"`
}

// Agent configures run behavior.
type Agent struct {
	DryRun           bool     `yaml:"dry_run"`
	AutoRemediate    bool     `yaml:"auto_remediate"`
	MaxIterations    int      `yaml:"max_iterations"`
	PollInterval     Duration `yaml:"poll_interval"`
	ObservationLimit int      `yaml:"observation_limit"`
}

// Monitor configures incident detection.
type Monitor struct {
	// BadStates overrides the built-in container bad-state set when
	// non-empty.
	BadStates   []string `yaml:"bad_states"`
	Parallelism int      `yaml:"parallelism"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// MCPServer attaches an external MCP tool server. Exactly one of command
// (stdio transport) and url (SSE transport) must be set.
type MCPServer struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     []string          `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// Duration is a yaml-decodable time.Duration ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return goerr.Wrap(err, "duration must be a string")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("value", raw))
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	return Parse(raw)
}

// Parse decodes configuration bytes, applies defaults and fills secrets
// from the environment.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config")
	}

	cfg.applyDefaults()
	cfg.fillEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Name == "" {
		c.Provider.Name = ProviderOpenAI
	}
	if c.Kubernetes.Namespaces == "" {
		c.Kubernetes.Namespaces = "default"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.PollInterval == 0 {
		c.Agent.PollInterval = Duration(30 * time.Second)
	}
	if c.Agent.ObservationLimit == 0 {
		c.Agent.ObservationLimit = 3000
	}
	if c.Monitor.Parallelism == 0 {
		c.Monitor.Parallelism = 3
	}
}

// fillEnv resolves secrets from the environment when the file leaves them
// empty, so api keys never need to live in the config file.
func (c *Config) fillEnv() {
	if c.Provider.APIKey == "" {
		switch c.Provider.Name {
		case ProviderOpenAI:
			c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderClaude:
			c.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.Provider.Name == ProviderGemini {
		if c.Provider.Project == "" {
			c.Provider.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if c.Provider.Location == "" {
			c.Provider.Location = os.Getenv("GOOGLE_CLOUD_LOCATION")
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider.Name {
	case ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderOllama:
	default:
		return goerr.New("unknown provider", goerr.V("provider", c.Provider.Name))
	}

	if c.Agent.MaxIterations < 1 {
		return goerr.New("max_iterations must be positive",
			goerr.V("max_iterations", c.Agent.MaxIterations))
	}
	if c.Monitor.Parallelism < 1 {
		return goerr.New("parallelism must be positive",
			goerr.V("parallelism", c.Monitor.Parallelism))
	}

	for _, server := range c.MCP {
		if server.Name == "" {
			return goerr.New("mcp server name is required")
		}
		if (server.Command == "") == (server.URL == "") {
			return goerr.New("mcp server needs exactly one of command and url",
				goerr.V("server", server.Name))
		}
	}
	return nil
}

// NamespaceList expands the namespaces setting: "*" stays as the single
// wildcard element, anything else splits on commas.
func (k Kubernetes) NamespaceList() []string {
	if k.Namespaces == "*" {
		return []string{"*"}
	}

	var out []string
	for _, ns := range strings.Split(k.Namespaces, ",") {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}
