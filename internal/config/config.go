package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/davidahmann/attest/pkg/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string           `yaml:"listen_addr"`
	MetricsAddr string           `yaml:"metrics_addr"`
	UnitsDir    string           `yaml:"units_dir"`
	WatchUnits  bool             `yaml:"watch_units"`
	ObjectsDir  string           `yaml:"objects_dir"`
	DB          DBConfig         `yaml:"db"`
	SigningKey  SigningKeyConfig `yaml:"signing_key"`
	Sinks       SinksConfig      `yaml:"sinks"`
	Card        CardConfig       `yaml:"card"`
	Mode        *types.Mode      `yaml:"mode"`
	Auth        AuthConfig       `yaml:"auth"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Log         LogConfig        `yaml:"log"`
	Engine      EngineConfig     `yaml:"engine"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SigningKeyConfig struct {
	KeyID             string `yaml:"key_id"`
	PrivateKeyPath    string `yaml:"private_key_path"`
	GenerateIfMissing bool   `yaml:"generate_if_missing"`
}

type SinksConfig struct {
	Dir         string      `yaml:"dir"`
	Redis       RedisConfig `yaml:"redis"`
	AsyncBuffer int         `yaml:"async_buffer"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type CardConfig struct {
	Host           string `yaml:"host"`
	Realm          string `yaml:"realm"`
	RegistryBase   string `yaml:"registry_base"`
	PortableScheme string `yaml:"portable_scheme"`
}

type AuthConfig struct {
	DevToken         string `yaml:"dev_token"`
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
	JWTIssuer        string `yaml:"jwt_issuer"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EngineConfig struct {
	ParallelRules int `yaml:"parallel_rules"`
}

var knownDrivers = map[string]bool{"": true, "memory": true, "sqlite": true, "postgres": true}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.UnitsDir == "" {
		return fmt.Errorf("units_dir is required")
	}

	if !knownDrivers[c.DB.Driver] {
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	if c.DB.Driver != "" && c.DB.Driver != "memory" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	if c.SigningKey.GenerateIfMissing && c.SigningKey.PrivateKeyPath == "" {
		return fmt.Errorf("signing_key.private_key_path is required when generate_if_missing=true")
	}

	if c.Sinks.AsyncBuffer < 0 {
		return fmt.Errorf("sinks.async_buffer must not be negative")
	}

	if c.Mode != nil {
		for _, e := range c.Mode.Effects {
			if _, err := types.ParseEffect(string(e)); err != nil {
				return fmt.Errorf("mode.effects: %w", err)
			}
		}
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.Engine.ParallelRules < 0 {
		return fmt.Errorf("engine.parallel_rules must not be negative")
	}
	return nil
}
