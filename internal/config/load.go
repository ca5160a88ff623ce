// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package config

import (
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// FlagConfig is the name of the flag holding the YAML file path.
const FlagConfig = "config"

// EnvDatabaseURL overrides database.url when set.
const EnvDatabaseURL = "DATABASE_URL"

const delim = "."

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"database-url":    "database.url",
	"jwt-secret":      "jwt.secret",
	"jwt-issuer":      "jwt.issuer",
	"access-ttl":      "jwt.access-ttl",
	"refresh-ttl":     "auth.refresh-ttl",
	"reset-ttl":       "auth.reset-ttl",
	"reuse-detection": "auth.reuse-detection",
	"mail-from":       "mail.from",
	"mail-origin":     "mail.origin",
	"mail-queue":      "mail.queue",
	"smtp-host":       "mail.smtp.host",
	"smtp-port":       "mail.smtp.port",
	"smtp-username":   "mail.smtp.username",
	"smtp-password":   "mail.smtp.password",
	"redis-addr":      "redis.addr",
	"redis-password":  "redis.password",
	"redis-db":        "redis.db",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
}

// RegisterFlags adds the configuration flags to fs. Flag defaults mirror
// Default so help output is accurate.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(FlagConfig, "", "config file path (YAML, default $XDG_CONFIG_HOME/accounts/config.yaml)")
	fs.String("database-url", "", "PostgreSQL connection URL (env "+EnvDatabaseURL+")")
	fs.String("jwt-secret", "", "HMAC secret for access tokens (at least 32 bytes)")
	fs.String("jwt-issuer", d.JWT.Issuer, "access token issuer")
	fs.Duration("access-ttl", d.JWT.AccessTTL, "access token lifetime")
	fs.Duration("refresh-ttl", d.Auth.RefreshTTL, "refresh token lifetime")
	fs.Duration("reset-ttl", d.Auth.ResetTTL, "password reset token lifetime")
	fs.Bool("reuse-detection", d.Auth.ReuseDetection, "revoke descendants when a rotated refresh token is reused")
	fs.String("mail-from", d.Mail.From, "sender address for account emails")
	fs.String("mail-origin", d.Mail.Origin, "base URL for links in account emails")
	fs.String("mail-queue", d.Mail.Queue, "mail delivery mode: direct or redis")
	fs.String("smtp-host", d.Mail.SMTP.Host, "SMTP relay host (empty logs emails instead)")
	fs.Int("smtp-port", d.Mail.SMTP.Port, "SMTP relay port")
	fs.String("smtp-username", "", "SMTP username")
	fs.String("smtp-password", "", "SMTP password")
	fs.String("redis-addr", d.Redis.Addr, "Redis address for the mail queue")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", d.Redis.DB, "Redis database number")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "observability server address (empty disables)")
}

// Load builds a Config from defaults, the file named by --config (or
// DefaultPath when it exists), the DATABASE_URL environment variable and
// explicitly set flags. Later sources win. The result is validated.
func Load(fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(delim)

	if err := setDefaults(k); err != nil {
		return nil, err
	}

	path, _ := fs.GetString(FlagConfig)
	if path == "" && getenv != nil {
		discovered, err := discoverFile(getenv)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "find config file").Wrap(err)
		}
		path = discovered
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	if getenv != nil {
		if url := getenv(EnvDatabaseURL); url != "" {
			if err := k.Set("database.url", url); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "apply environment").Wrap(err)
			}
		}
	}

	// Unchanged flags only fill keys no earlier source set, and the defaults
	// set every key, so in practice only explicit flags apply here.
	provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "apply flags").Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) error {
	d := Default()
	defaults := map[string]any{
		"database.url":         d.Database.URL,
		"jwt.secret":           d.JWT.Secret,
		"jwt.issuer":           d.JWT.Issuer,
		"jwt.access-ttl":       d.JWT.AccessTTL,
		"auth.refresh-ttl":     d.Auth.RefreshTTL,
		"auth.reset-ttl":       d.Auth.ResetTTL,
		"auth.reuse-detection": d.Auth.ReuseDetection,
		"mail.from":            d.Mail.From,
		"mail.origin":          d.Mail.Origin,
		"mail.queue":           d.Mail.Queue,
		"mail.smtp.host":       d.Mail.SMTP.Host,
		"mail.smtp.port":       d.Mail.SMTP.Port,
		"mail.smtp.username":   d.Mail.SMTP.Username,
		"mail.smtp.password":   d.Mail.SMTP.Password,
		"redis.addr":           d.Redis.Addr,
		"redis.password":       d.Redis.Password,
		"redis.db":             d.Redis.DB,
		"log.format":           d.Log.Format,
		"log.level":            d.Log.Level,
		"metrics.addr":         d.Metrics.Addr,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "apply defaults").
				With("key", key).
				Wrap(err)
		}
	}
	return nil
}
