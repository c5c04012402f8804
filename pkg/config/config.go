package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/shipengqi/registry-api/pkg/docker/registry/client"
	"github.com/shipengqi/registry-api/pkg/images"
)

// EnvPrefix prefixes the environment variables that override the file,
// e.g. REGISTRY_API_API_KEY.
const EnvPrefix = "REGISTRY_API"

const (
	_defaultTimeout  = 30 * time.Second
	_defaultLogLevel = "info"
)

// Config holds everything needed to build a client.
type Config struct {
	Registry   string        `yaml:"registry"`
	Username   string        `yaml:"username"`
	APIKey     string        `yaml:"api_key"`
	Repository string        `yaml:"repository"`
	AuthURL    string        `yaml:"auth_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RateLimit  int           `yaml:"rate_limit"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	LogFile    string        `yaml:"log_file"`
	LogLevel   string        `yaml:"log_level"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"registry":   "registry",
	"username":   "username",
	"api-key":    "api_key",
	"repository": "repository",
	"auth-url":   "auth_url",
	"timeout":    "timeout",
	"rate-limit": "rate_limit",
	"cache-ttl":  "cache_ttl",
	"log-file":   "log_file",
	"log-level":  "log_level",
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Registry: client.DefaultRegistry,
		Timeout:  _defaultTimeout,
		LogLevel: _defaultLogLevel,
	}
}

// Load reads file (if not empty), applies environment variables and then the
// flags that were set explicitly, and normalizes the result.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	conf := Default()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err = yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrap(err, "yaml unmarshal")
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
	}
	if err := conf.override(v); err != nil {
		return nil, err
	}
	if err := conf.normalize(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) override(v *viper.Viper) error {
	for _, key := range []string{"registry", "username", "api_key", "repository", "auth_url", "log_file", "log_level"} {
		if !v.IsSet(key) {
			continue
		}
		val := v.GetString(key)
		switch key {
		case "registry":
			c.Registry = val
		case "username":
			c.Username = val
		case "api_key":
			c.APIKey = val
		case "repository":
			c.Repository = val
		case "auth_url":
			c.AuthURL = val
		case "log_file":
			c.LogFile = val
		case "log_level":
			c.LogLevel = val
		}
	}
	if v.IsSet("timeout") {
		c.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("cache_ttl") {
		c.CacheTTL = v.GetDuration("cache_ttl")
	}
	if v.IsSet("rate_limit") {
		c.RateLimit = v.GetInt("rate_limit")
	}
	if c.Timeout < 0 || c.CacheTTL < 0 || c.RateLimit < 0 {
		return errors.New("durations and rate_limit must not be negative")
	}
	return nil
}

// normalize rewrites the repository into namespace/name form. A repository
// that names its own registry host is served from that host unless the
// registry was configured explicitly.
func (c *Config) normalize() error {
	img, err := images.NormalizeRepository(c.Repository)
	if err != nil {
		return err
	}
	c.Repository = img.Name
	if !img.IsDockerHub() && (c.Registry == "" || c.Registry == client.DefaultRegistry) {
		c.Registry = "https://" + img.Domain
	}
	c.Registry = strings.TrimSuffix(c.Registry, "/")
	if c.Registry == "" {
		c.Registry = client.DefaultRegistry
	}
	return nil
}

// ClientOptions converts the configuration into client options.
func (c *Config) ClientOptions() client.Options {
	return client.Options{
		Registry:   c.Registry,
		Username:   c.Username,
		APIKey:     c.APIKey,
		Repository: c.Repository,
		AuthURL:    c.AuthURL,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		CacheTTL:   c.CacheTTL,
	}
}
