package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	DefaultListenAddr  = ":8080"
	DefaultPolicyPath  = "policy.yaml"
	DefaultRunbooksDir = "runbooks"
)

type Config struct {
	ListenAddr  string          `yaml:"listen_addr" mapstructure:"listen_addr"`
	Mode        string          `yaml:"mode" mapstructure:"mode"`
	PolicyPath  string          `yaml:"policy_path" mapstructure:"policy_path"`
	RunbooksDir string          `yaml:"runbooks_dir" mapstructure:"runbooks_dir"`
	DB          DBConfig        `yaml:"db" mapstructure:"db"`
	Redis       RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Auth        AuthConfig      `yaml:"auth" mapstructure:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Tools       ToolsConfig     `yaml:"tools" mapstructure:"tools"`
}

type DBConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

type AuthConfig struct {
	DevToken string `yaml:"dev_token" mapstructure:"dev_token"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

type ToolsConfig struct {
	GitHub    GitHubConfig    `yaml:"github" mapstructure:"github"`
	Slack     SlackConfig     `yaml:"slack" mapstructure:"slack"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Secrets   SecretsConfig   `yaml:"secrets" mapstructure:"secrets"`
	K8s       K8sConfig       `yaml:"k8s" mapstructure:"k8s"`
	CI        CIConfig        `yaml:"ci" mapstructure:"ci"`
	Terraform TerraformConfig `yaml:"terraform" mapstructure:"terraform"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
}

type GitHubConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// MetricsConfig points metrics_check at a Prometheus-compatible query API.
// Queries are keyed by threshold name and may reference {{service}} and
// {{window_min}}, which environment expansion leaves alone.
type MetricsConfig struct {
	PrometheusURL string            `yaml:"prometheus_url" mapstructure:"prometheus_url"`
	Queries       map[string]string `yaml:"queries" mapstructure:"queries"`
}

type SecretsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// K8sConfig drives the deploy and rollback tools. They dry-run unless Enabled.
type K8sConfig struct {
	Enabled    bool              `yaml:"enabled" mapstructure:"enabled"`
	Kubeconfig string            `yaml:"kubeconfig" mapstructure:"kubeconfig"`
	Namespaces map[string]string `yaml:"namespaces" mapstructure:"namespaces"`
}

type CIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

type TerraformConfig struct {
	MockCostPct *float64 `yaml:"mock_cost_pct" mapstructure:"mock_cost_pct"`
}

type StorageConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Default returns a configuration usable without any file.
func Default() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		Mode:        ModeDevelopment,
		PolicyPath:  DefaultPolicyPath,
		RunbooksDir: DefaultRunbooksDir,
		RateLimit:   RateLimitConfig{RPS: 20, Burst: 40},
	}
}

func Load(path string) (Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func readFile(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}
	if c.RunbooksDir == "" {
		return fmt.Errorf("runbooks_dir is required")
	}
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode)
	}

	switch c.DB.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db.driver: %s", c.DB.Driver)
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.Mode == ModeProduction && c.Auth.DevToken == "" {
		return fmt.Errorf("auth.dev_token is required in production mode")
	}

	return nil
}

// Production reports whether tool failures should propagate to callers.
func (c Config) Production() bool {
	return c.Mode == ModeProduction
}
