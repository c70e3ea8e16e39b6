package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesVerify(t *testing.T) {
	require.NoError(t, DefaultConfig().Verify())
}

func TestVerify(t *testing.T) {
	testcases := map[string]func(cfg *Config){
		"bad_log_format": func(cfg *Config) {
			cfg.Log.Format = "yaml"
		},
		"bad_log_level": func(cfg *Config) {
			cfg.Log.Level = "verbose"
		},
		"bad_datastore_engine": func(cfg *Config) {
			cfg.Datastore.Engine = "postgres"
		},
		"sqlite_without_uri": func(cfg *Config) {
			cfg.Datastore.Engine = "sqlite"
			cfg.Datastore.URI = ""
		},
		"bad_bus_engine": func(cfg *Config) {
			cfg.Bus.Engine = "redis"
		},
		"kafka_without_brokers": func(cfg *Config) {
			cfg.Bus.Engine = "kafka"
			cfg.Bus.Brokers = nil
		},
		"bad_authn_method": func(cfg *Config) {
			cfg.Authn.Method = "oidc"
		},
		"preshared_without_keys": func(cfg *Config) {
			cfg.Authn.Method = "preshared"
		},
		"zero_max_text_length": func(cfg *Config) {
			cfg.MaxTextLengthInBytes = 0
		},
		"zero_worker_count": func(cfg *Config) {
			cfg.Worker.Count = 0
		},
		"stream_timeout_below_poll_interval": func(cfg *Config) {
			cfg.Feedback.StreamPollInterval = 2 * time.Second
			cfg.Feedback.StreamTimeout = time.Second
		},
		"fallback_without_attempts": func(cfg *Config) {
			cfg.Processor.Fallback.URL = "https://translate.example.com"
			cfg.Processor.Fallback.MaxAttempts = 0
		},
	}

	for name, mutate := range testcases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Verify())
		})
	}
}

func TestVerifyAcceptsConfiguredEngines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Datastore.Engine = "sqlite"
	cfg.Datastore.URI = "file:translations.db"
	cfg.Bus.Engine = "kafka"
	cfg.Bus.Brokers = []string{"localhost:9092"}
	cfg.Authn.Method = "preshared"
	cfg.Authn.Keys = []string{"key1=alice"}
	require.NoError(t, cfg.Verify())
}
