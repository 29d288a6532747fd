// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package config loads jwtserver settings from flag defaults, an optional
// YAML file, JWTSERVER_* environment variables and explicitly set flags, in
// that order of precedence.
package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/internal/logging"
)

// EnvPrefix marks environment variables that override config keys.
// JWTSERVER_SERVER_CORS_ORIGINS maps to server.cors_origins: the first
// underscore after the prefix separates section from key.
const EnvPrefix = "JWTSERVER_"

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server,omitempty"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Auth     AuthConfig     `koanf:"auth" json:"auth,omitempty"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics,omitempty"`
	Log      LogConfig      `koanf:"log" json:"log,omitempty"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Addr              string        `koanf:"addr" json:"addr,omitempty" jsonschema:"description=Listen address such as :8080"`
	Production        bool          `koanf:"production" json:"production,omitempty" jsonschema:"description=Marks the refresh cookie Secure"`
	CORSOrigins       []string      `koanf:"cors_origins" json:"cors_origins,omitempty" jsonschema:"description=Allowed origins; glob patterns accepted"`
	RefreshCookieName string        `koanf:"refresh_cookie_name" json:"refresh_cookie_name,omitempty" jsonschema:"minLength=1"`
	ReadTimeout       time.Duration `koanf:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout      time.Duration `koanf:"write_timeout" json:"write_timeout,omitempty"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
	LoginRate         float64       `koanf:"login_rate" json:"login_rate,omitempty" jsonschema:"exclusiveMinimum=0,description=Login and register requests per second per client"`
	LoginBurst        int           `koanf:"login_burst" json:"login_burst,omitempty" jsonschema:"minimum=1"`
}

// DatabaseConfig selects the user store. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string `koanf:"url" json:"url,omitempty"`
	ConnectAttempts int    `koanf:"connect_attempts" json:"connect_attempts,omitempty" jsonschema:"minimum=1"`
	AutoMigrate     bool   `koanf:"auto_migrate" json:"auto_migrate,omitempty"`
}

// AuthConfig holds token secrets, lifetimes and hashing settings.
type AuthConfig struct {
	AccessSecret      string        `koanf:"access_secret" json:"access_secret,omitempty"`
	RefreshSecret     string        `koanf:"refresh_secret" json:"refresh_secret,omitempty"`
	AccessTTL         time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty"`
	RefreshTTL        time.Duration `koanf:"refresh_ttl" json:"refresh_ttl,omitempty"`
	Hasher            string        `koanf:"hasher" json:"hasher,omitempty" jsonschema:"enum=bcrypt,enum=argon2id"`
	BcryptCost        int           `koanf:"bcrypt_cost" json:"bcrypt_cost,omitempty" jsonschema:"minimum=4,maximum=31"`
	MinPasswordLength int           `koanf:"min_password_length" json:"min_password_length,omitempty" jsonschema:"minimum=0,maximum=72"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the built-in configuration. Secrets are left empty.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			CORSOrigins:       []string{"http://localhost:3000"},
			RefreshCookieName: "nwid",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			LoginRate:         5,
			LoginBurst:        10,
		},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			AccessTTL:  auth.DefaultAccessTTL,
			RefreshTTL: auth.DefaultRefreshTTL,
			Hasher:     auth.HasherBcrypt,
			BcryptCost: auth.DefaultBcryptCost,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"production":    "server.production",
	"database-url":  "database.url",
	"auto-migrate":  "database.auto_migrate",
	"metrics-addr":  "metrics.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"hasher":        "auth.hasher",
	"cors-origin":   "server.cors_origins",
	"cookie-name":   "server.refresh_cookie_name",
	"min-password":  "auth.min_password_length",
	"connect-tries": "database.connect_attempts",
}

// RegisterFlags adds the overridable settings to fs with Default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.Bool("production", d.Server.Production, "serve the refresh cookie with the Secure attribute")
	fs.StringSlice("cors-origin", d.Server.CORSOrigins, "allowed CORS origin (repeatable, glob patterns accepted)")
	fs.String("cookie-name", d.Server.RefreshCookieName, "refresh token cookie name")
	fs.String("database-url", d.Database.URL, "PostgreSQL URL (empty uses the in-memory store)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on start")
	fs.Int("connect-tries", d.Database.ConnectAttempts, "database connection attempts before giving up")
	fs.String("hasher", d.Auth.Hasher, "password hash algorithm for new hashes (bcrypt or argon2id)")
	fs.Int("min-password", d.Auth.MinPasswordLength, "minimum password length (0 only requires non-blank)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Load assembles the configuration. path may be empty; fs may be nil;
// environ is typically os.Environ().
func Load(path string, fs *pflag.FlagSet, environ []string) (*Config, error) {
	k := koanf.New(".")

	if err := setAll(k, defaultValues()); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   func() []string { return environ },
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	if port := lookupEnv(environ, "PORT"); port != "" && lookupEnv(environ, EnvPrefix+"SERVER_ADDR") == "" {
		if err := k.Set("server.addr", net.JoinHostPort("", port)); err != nil {
			return nil, oops.Code("CONFIG_SET_FAILED").With("key", "server.addr").Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func setAll(k *koanf.Koanf, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := k.Set(key, values[key]); err != nil {
			return oops.Code("CONFIG_SET_FAILED").With("key", key).Wrap(err)
		}
	}
	return nil
}

func defaultValues() map[string]any {
	d := Default()
	return map[string]any{
		"server.addr":                d.Server.Addr,
		"server.production":          d.Server.Production,
		"server.cors_origins":        d.Server.CORSOrigins,
		"server.refresh_cookie_name": d.Server.RefreshCookieName,
		"server.read_timeout":        d.Server.ReadTimeout,
		"server.write_timeout":       d.Server.WriteTimeout,
		"server.shutdown_timeout":    d.Server.ShutdownTimeout,
		"server.login_rate":          d.Server.LoginRate,
		"server.login_burst":         d.Server.LoginBurst,
		"database.url":               d.Database.URL,
		"database.connect_attempts":  d.Database.ConnectAttempts,
		"database.auto_migrate":      d.Database.AutoMigrate,
		"auth.access_secret":         d.Auth.AccessSecret,
		"auth.refresh_secret":        d.Auth.RefreshSecret,
		"auth.access_ttl":            d.Auth.AccessTTL,
		"auth.refresh_ttl":           d.Auth.RefreshTTL,
		"auth.hasher":                d.Auth.Hasher,
		"auth.bcrypt_cost":           d.Auth.BcryptCost,
		"auth.min_password_length":   d.Auth.MinPasswordLength,
		"metrics.addr":               d.Metrics.Addr,
		"log.format":                 d.Log.Format,
		"log.level":                  d.Log.Level,
	}
}

// envKey maps JWTSERVER_SECTION_KEY to section.key. The first underscore
// after the prefix separates section from key. Unmappable names are skipped.
func envKey(name, value string) (string, any) {
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, key, ok := strings.Cut(rest, "_")
	if !ok || section == "" || key == "" {
		return "", nil
	}
	if section == "server" && key == "cors_origins" {
		return "server.cors_origins", splitList(value)
	}
	return section + "." + key, value
}

// lookupEnv returns the last value of name in environ, or "".
func lookupEnv(environ []string, name string) string {
	var value string
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k == name {
			value = v
		}
	}
	return value
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(key, format string, args ...any) {
		errs = append(errs, oops.With("key", key).Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr", "server.addr is required")
	}
	if c.Server.RefreshCookieName == "" {
		add("server.refresh_cookie_name", "server.refresh_cookie_name is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		add("server.*_timeout", "server timeouts must be positive")
	}
	if c.Server.LoginRate <= 0 {
		add("server.login_rate", "server.login_rate must be positive")
	}
	if c.Server.LoginBurst < 1 {
		add("server.login_burst", "server.login_burst must be at least 1")
	}
	if c.Database.ConnectAttempts < 1 {
		add("database.connect_attempts", "database.connect_attempts must be at least 1")
	}
	if err := c.TokenConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{auth.HasherBcrypt, auth.HasherArgon2id}, c.Auth.Hasher) {
		add("auth.hasher", "auth.hasher must be bcrypt or argon2id, got %q", c.Auth.Hasher)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		add("auth.bcrypt_cost", "auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.MinPasswordLength < 0 || c.Auth.MinPasswordLength > auth.MaxPasswordBytes {
		add("auth.min_password_length", "auth.min_password_length must be between 0 and %d", auth.MaxPasswordBytes)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format", "log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").With("problems", len(errs)).Errorf("%v", errors.Join(errs...))
	}
	return nil
}

// TokenConfig converts the auth section for auth.NewTokenService.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  c.Auth.AccessSecret,
		RefreshSecret: c.Auth.RefreshSecret,
		AccessTTL:     c.Auth.AccessTTL,
		RefreshTTL:    c.Auth.RefreshTTL,
	}
}

// PasswordPolicy converts the auth section for auth.WithPasswordPolicy.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{MinLength: c.Auth.MinPasswordLength}
}

// Redacted returns a copy safe to print, with secrets and database
// credentials masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return logging.Redacted
	}
	c.Auth.AccessSecret = mask(c.Auth.AccessSecret)
	c.Auth.RefreshSecret = mask(c.Auth.RefreshSecret)
	c.Database.URL = redactURL(c.Database.URL)
	c.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	return c
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return logging.Redacted
	}
	return u.Redacted()
}
