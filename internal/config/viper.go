package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: db.dsn is OPSGATE_DB_DSN.
const EnvPrefix = "OPSGATE"

// KeyConfigFile is the viper key holding the config file path.
const KeyConfigFile = "config"

type override struct {
	key   string
	apply func(c *Config, v *viper.Viper)
}

var overrides = []override{
	{"listen_addr", func(c *Config, v *viper.Viper) { c.ListenAddr = v.GetString("listen_addr") }},
	{"mode", func(c *Config, v *viper.Viper) { c.Mode = v.GetString("mode") }},
	{"policy_path", func(c *Config, v *viper.Viper) { c.PolicyPath = v.GetString("policy_path") }},
	{"runbooks_dir", func(c *Config, v *viper.Viper) { c.RunbooksDir = v.GetString("runbooks_dir") }},
	{"db.driver", func(c *Config, v *viper.Viper) { c.DB.Driver = v.GetString("db.driver") }},
	{"db.dsn", func(c *Config, v *viper.Viper) { c.DB.DSN = v.GetString("db.dsn") }},
	{"redis.url", func(c *Config, v *viper.Viper) { c.Redis.URL = v.GetString("redis.url") }},
	{"auth.dev_token", func(c *Config, v *viper.Viper) { c.Auth.DevToken = v.GetString("auth.dev_token") }},
	{"rate_limit.rps", func(c *Config, v *viper.Viper) { c.RateLimit.RPS = v.GetFloat64("rate_limit.rps") }},
	{"rate_limit.burst", func(c *Config, v *viper.Viper) { c.RateLimit.Burst = v.GetInt("rate_limit.burst") }},
	{"tools.github.token", func(c *Config, v *viper.Viper) { c.Tools.GitHub.Token = v.GetString("tools.github.token") }},
	{"tools.slack.webhook_url", func(c *Config, v *viper.Viper) { c.Tools.Slack.WebhookURL = v.GetString("tools.slack.webhook_url") }},
	{"tools.metrics.prometheus_url", func(c *Config, v *viper.Viper) {
		c.Tools.Metrics.PrometheusURL = v.GetString("tools.metrics.prometheus_url")
	}},
	{"tools.k8s.enabled", func(c *Config, v *viper.Viper) { c.Tools.K8s.Enabled = v.GetBool("tools.k8s.enabled") }},
	{"tools.k8s.kubeconfig", func(c *Config, v *viper.Viper) { c.Tools.K8s.Kubeconfig = v.GetString("tools.k8s.kubeconfig") }},
	{"tools.ci.base_url", func(c *Config, v *viper.Viper) { c.Tools.CI.BaseURL = v.GetString("tools.ci.base_url") }},
	{"tools.ci.token", func(c *Config, v *viper.Viper) { c.Tools.CI.Token = v.GetString("tools.ci.token") }},
}

// NewViper returns a viper instance reading OPSGATE_* variables for every
// overridable key. Callers bind their flags onto it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv(KeyConfigFile, EnvPrefix+"_CONFIG")
	for _, o := range overrides {
		_ = v.BindEnv(o.key)
	}
	return v
}

// Resolve builds the effective configuration: defaults, then the file named
// by the config key, then every key a flag or environment variable set.
func Resolve(v *viper.Viper) (Config, error) {
	cfg := Default()
	if path := v.GetString(KeyConfigFile); path != "" {
		loaded, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(&cfg, v)
		}
	}
	return cfg, cfg.Validate()
}
