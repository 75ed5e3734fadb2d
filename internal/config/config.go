// Package config loads the engine's configuration from environment
// variables, a file, and defaults, in that order of decreasing precedence,
// via viper. Scheduler, persistence, and push-channel settings all funnel
// through the same closed key set; an unrecognized key is rejected rather
// than silently ignored (spec §6.5).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldsync/offline-core/internal/scheduler"
	"github.com/fieldsync/offline-core/internal/synccore"
)

// allowedKeys is the closed set of recognized configuration keys (spec
// §4.4's scheduler config plus the push-channel/persistence/auth settings
// an engine deployment needs). Dotted keys use viper's nested-map
// addressing.
var allowedKeys = map[string]bool{
	"scheduler.mode":                     true,
	"scheduler.direction":                true,
	"scheduler.retry_limit":              true,
	"scheduler.retry_delay_ms":           true,
	"scheduler.retry_backoff_factor":     true,
	"scheduler.max_concurrent_syncs":     true,
	"scheduler.batch_size":               true,
	"scheduler.network_timeout_ms":       true,
	"scheduler.sync_on_startup":          true,
	"scheduler.sync_on_network_change":   true,
	"scheduler.sync_on_focus":            true,
	"scheduler.sync_on_document_change":  true,
	"scheduler.sync_interval_ms":         true,
	"scheduler.priority_docs":            true,
	"scheduler.excluded_docs":            true,

	"persistence.database_url":     true,
	"persistence.redis_url":        true,
	"persistence.redis_channel_prefix": true,

	"auth.jwt_secret":      true,
	"auth.required":        true,

	"pushchannel.host":         true,
	"pushchannel.port":         true,
	"pushchannel.cors_origins": true,

	"environment": true,
}

// Config is the bound, validated configuration for an engine deployment.
type Config struct {
	Scheduler scheduler.Config

	DatabaseURL        string
	RedisURL           string
	RedisChannelPrefix string

	JWTSecret    string
	AuthRequired bool

	Host        string
	Port        int
	CORSOrigins []string

	Environment string
}

// Load reads configuration from path (if non-empty), environment variables
// prefixed FIELDSYNC_, and built-in defaults, validates every key actually
// set against allowedKeys, and binds the result into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("fieldsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, synccore.InvalidArgument(fmt.Sprintf("failed to read config file %s", path), err)
		}
	}

	if err := rejectUnknownKeys(v); err != nil {
		return nil, err
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Mode = scheduler.Mode(v.GetString("scheduler.mode"))
	schedCfg.Direction = scheduler.Direction(v.GetString("scheduler.direction"))
	schedCfg.RetryLimit = v.GetInt("scheduler.retry_limit")
	schedCfg.RetryDelay = time.Duration(v.GetInt64("scheduler.retry_delay_ms")) * time.Millisecond
	schedCfg.RetryBackoffFactor = v.GetFloat64("scheduler.retry_backoff_factor")
	schedCfg.MaxConcurrentSyncs = v.GetInt("scheduler.max_concurrent_syncs")
	schedCfg.BatchSize = v.GetInt("scheduler.batch_size")
	schedCfg.NetworkTimeout = time.Duration(v.GetInt64("scheduler.network_timeout_ms")) * time.Millisecond
	schedCfg.SyncOnStartup = v.GetBool("scheduler.sync_on_startup")
	schedCfg.SyncOnNetworkChange = v.GetBool("scheduler.sync_on_network_change")
	schedCfg.SyncOnFocus = v.GetBool("scheduler.sync_on_focus")
	schedCfg.SyncOnDocumentChange = v.GetBool("scheduler.sync_on_document_change")
	schedCfg.SyncInterval = time.Duration(v.GetInt64("scheduler.sync_interval_ms")) * time.Millisecond
	schedCfg.PriorityDocs = toSet(v.GetStringSlice("scheduler.priority_docs"))
	schedCfg.ExcludedDocs = toSet(v.GetStringSlice("scheduler.excluded_docs"))

	jwtSecret := v.GetString("auth.jwt_secret")
	env := v.GetString("environment")
	if jwtSecret == "" {
		if env == "production" {
			return nil, synccore.InvalidArgument("auth.jwt_secret is required in production", nil)
		}
		jwtSecret = "development-secret-do-not-use-in-production"
	}
	if env == "production" && len(jwtSecret) < 32 {
		return nil, synccore.InvalidArgument(fmt.Sprintf("auth.jwt_secret must be at least 32 characters in production (got %d)", len(jwtSecret)), nil)
	}

	return &Config{
		Scheduler:          schedCfg,
		DatabaseURL:        v.GetString("persistence.database_url"),
		RedisURL:           v.GetString("persistence.redis_url"),
		RedisChannelPrefix: v.GetString("persistence.redis_channel_prefix"),
		JWTSecret:          jwtSecret,
		AuthRequired:       v.GetBool("auth.required"),
		Host:               v.GetString("pushchannel.host"),
		Port:               v.GetInt("pushchannel.port"),
		CORSOrigins:        v.GetStringSlice("pushchannel.cors_origins"),
		Environment:        env,
	}, nil
}

func setDefaults(v *viper.Viper) {
	d := scheduler.DefaultConfig()
	v.SetDefault("scheduler.mode", string(d.Mode))
	v.SetDefault("scheduler.direction", string(d.Direction))
	v.SetDefault("scheduler.retry_limit", d.RetryLimit)
	v.SetDefault("scheduler.retry_delay_ms", d.RetryDelay.Milliseconds())
	v.SetDefault("scheduler.retry_backoff_factor", d.RetryBackoffFactor)
	v.SetDefault("scheduler.max_concurrent_syncs", d.MaxConcurrentSyncs)
	v.SetDefault("scheduler.batch_size", d.BatchSize)
	v.SetDefault("scheduler.network_timeout_ms", d.NetworkTimeout.Milliseconds())
	v.SetDefault("scheduler.sync_on_startup", d.SyncOnStartup)
	v.SetDefault("scheduler.sync_on_network_change", d.SyncOnNetworkChange)
	v.SetDefault("scheduler.sync_on_focus", d.SyncOnFocus)
	v.SetDefault("scheduler.sync_on_document_change", d.SyncOnDocumentChange)
	v.SetDefault("scheduler.sync_interval_ms", 0)
	v.SetDefault("scheduler.priority_docs", []string{})
	v.SetDefault("scheduler.excluded_docs", []string{})

	v.SetDefault("persistence.database_url", "")
	v.SetDefault("persistence.redis_url", "")
	v.SetDefault("persistence.redis_channel_prefix", "fieldsync")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.required", true)

	v.SetDefault("pushchannel.host", "0.0.0.0")
	v.SetDefault("pushchannel.port", 8080)
	v.SetDefault("pushchannel.cors_origins", []string{"*"})

	v.SetDefault("environment", "development")
}

// rejectUnknownKeys walks every key viper knows (the defaults set above,
// all of which are in allowedKeys, plus every key read from the file) and
// fails closed on anything outside allowedKeys. An environment variable
// whose key has no default and is absent from the file is not among them,
// so it is not checked here.
func rejectUnknownKeys(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if !allowedKeys[key] {
			return synccore.InvalidArgument(fmt.Sprintf("unrecognized configuration key %q", key), nil)
		}
	}
	return nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
