// Package config contains all knobs and defaults used to configure features
// of LingoRelay when running as a standalone server.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxTextLengthInBytes = 8 * 1_024
	DefaultWorkerCount          = 4
	DefaultCacheTTL             = time.Hour
	DefaultCacheMaxEntries      = 10000

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCoolDown         = 30 * time.Second

	DefaultAmbassadorTimeout     = 10 * time.Second
	DefaultAmbassadorMaxAttempts = 3

	DefaultPollBufferCapacity      = 100
	DefaultStreamPollInterval      = 1 * time.Second
	DefaultStreamHeartbeatInterval = 10 * time.Second
	DefaultStreamTimeout           = 60 * time.Second
)

type DatastoreMetricsConfig struct {
	// Enabled enables export of the Datastore metrics.
	Enabled bool
}

// DatastoreConfig defines LingoRelay server configurations for datastore
// specific settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'sqlite').
	Engine string
	URI    string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in
	// the idle connection pool.
	MaxIdleConns int

	// ConnMaxIdleTime is the maximum amount of time a connection to the
	// datastore may be idle.
	ConnMaxIdleTime time.Duration

	// ConnMaxLifetime is the maximum amount of time a connection to the
	// datastore may be reused.
	ConnMaxLifetime time.Duration

	// Metrics is configuration for the Datastore metrics.
	Metrics DatastoreMetricsConfig
}

// BusConfig defines the message transport between the API surface and the
// translation workers.
type BusConfig struct {
	// Engine is the bus engine to use (e.g. 'memory', 'kafka').
	Engine string

	// Brokers lists the Kafka bootstrap brokers when Engine is 'kafka'.
	Brokers []string

	// ConsumerGroup names the Kafka consumer group the workers join.
	ConsumerGroup string

	// Breaker guards publishes against a repeatedly failing transport.
	Breaker BreakerConfig
}

// BreakerConfig defines circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// ProcessorConfig defines the translation engines: the primary local one
// and the remote fallback consulted when the primary fails.
type ProcessorConfig struct {
	// Breaker guards the primary engine.
	Breaker BreakerConfig

	// Fallback configures the remote translation API. Disabled when the
	// URL is empty.
	Fallback FallbackConfig
}

// FallbackConfig defines the remote translation endpoint settings.
type FallbackConfig struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// HTTPConfig defines LingoRelay server configurations for HTTP server
// specific settings.
type HTTPConfig struct {
	Enabled bool
	Addr    string

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// AuthnConfig defines LingoRelay server configurations for authentication
// specific settings.
type AuthnConfig struct {
	// Method is the authentication method that should be enforced
	// (e.g. 'none', 'preshared').
	Method string

	// Keys holds the valid preshared keys, each optionally suffixed with
	// '=principal' to name the submitter the key maps to.
	Keys []string
}

// WorkerConfig defines the consumption side of the pipeline.
type WorkerConfig struct {
	// Count is the number of concurrent subscription loops.
	Count int

	// CacheTTL bounds how long completed translations are memoized.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the content cache before LRU eviction.
	CacheMaxEntries int64
}

// FeedbackConfig defines the poll buffer and stream delivery settings.
type FeedbackConfig struct {
	// BufferCapacity is the per-submitter poll buffer bound; the oldest
	// entries are evicted past it.
	BufferCapacity int

	// StreamPollInterval is how often a stream re-checks for a result.
	StreamPollInterval time.Duration

	// StreamHeartbeatInterval is how often an idle stream emits a
	// keep-alive frame.
	StreamHeartbeatInterval time.Duration

	// StreamTimeout bounds how long a stream waits for a terminal status.
	StreamTimeout time.Duration
}

// LogConfig defines LingoRelay server configurations for log specific
// settings. For production we recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

// MetricConfig defines configurations for serving custom metrics from
// LingoRelay.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

type Config struct {
	// MaxTextLengthInBytes bounds the size of a single translation
	// submission.
	MaxTextLengthInBytes int

	Datastore DatastoreConfig
	Bus       BusConfig
	Processor ProcessorConfig
	HTTP      HTTPConfig
	Authn     AuthnConfig
	Worker    WorkerConfig
	Feedback  FeedbackConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if cfg.Log.Level != "none" &&
		cfg.Log.Level != "debug" &&
		cfg.Log.Level != "info" &&
		cfg.Log.Level != "warn" &&
		cfg.Log.Level != "error" &&
		cfg.Log.Level != "panic" &&
		cfg.Log.Level != "fatal" {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if cfg.Datastore.Engine != "memory" && cfg.Datastore.Engine != "sqlite" {
		return fmt.Errorf("config 'datastore.engine' must be one of ['memory', 'sqlite']")
	}

	if cfg.Datastore.Engine == "sqlite" && cfg.Datastore.URI == "" {
		return errors.New("config 'datastore.uri' must be set when 'datastore.engine' is 'sqlite'")
	}

	if cfg.Bus.Engine != "memory" && cfg.Bus.Engine != "kafka" {
		return fmt.Errorf("config 'bus.engine' must be one of ['memory', 'kafka']")
	}

	if cfg.Bus.Engine == "kafka" && len(cfg.Bus.Brokers) == 0 {
		return errors.New("config 'bus.brokers' must be set when 'bus.engine' is 'kafka'")
	}

	if cfg.Authn.Method != "none" && cfg.Authn.Method != "preshared" {
		return fmt.Errorf("config 'authn.method' must be one of ['none', 'preshared']")
	}

	if cfg.Authn.Method == "preshared" && len(cfg.Authn.Keys) == 0 {
		return errors.New("config 'authn.keys' must be set when 'authn.method' is 'preshared'")
	}

	if cfg.MaxTextLengthInBytes <= 0 {
		return errors.New("config 'maxTextLength' must be a positive integer")
	}

	if cfg.Worker.Count <= 0 {
		return errors.New("config 'worker.count' must be a positive integer")
	}

	if cfg.Feedback.StreamPollInterval <= 0 ||
		cfg.Feedback.StreamHeartbeatInterval <= 0 ||
		cfg.Feedback.StreamTimeout <= 0 {
		return errors.New("config stream intervals must be positive durations")
	}

	if cfg.Feedback.StreamTimeout < cfg.Feedback.StreamPollInterval {
		return fmt.Errorf(
			"config 'feedback.streamTimeout' (%s) cannot be lower than 'feedback.streamPollInterval' (%s)",
			cfg.Feedback.StreamTimeout,
			cfg.Feedback.StreamPollInterval,
		)
	}

	if cfg.Processor.Fallback.URL != "" && cfg.Processor.Fallback.MaxAttempts <= 0 {
		return errors.New("config 'processor.fallback.maxAttempts' must be a positive integer")
	}

	return nil
}

func DefaultConfig() *Config {
	return &Config{
		MaxTextLengthInBytes: DefaultMaxTextLengthInBytes,
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxIdleConns: 10,
			MaxOpenConns: 30,
		},
		Bus: BusConfig{
			Engine:        "memory",
			ConsumerGroup: "lingorelay-workers",
			Breaker: BreakerConfig{
				FailureThreshold: DefaultBreakerFailureThreshold,
				CoolDown:         DefaultBreakerCoolDown,
			},
		},
		Processor: ProcessorConfig{
			Breaker: BreakerConfig{
				FailureThreshold: DefaultBreakerFailureThreshold,
				CoolDown:         DefaultBreakerCoolDown,
			},
			Fallback: FallbackConfig{
				Timeout:     DefaultAmbassadorTimeout,
				MaxAttempts: DefaultAmbassadorMaxAttempts,
			},
		},
		HTTP: HTTPConfig{
			Enabled:            true,
			Addr:               "0.0.0.0:8080",
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		Authn: AuthnConfig{
			Method: "none",
		},
		Worker: WorkerConfig{
			Count:           DefaultWorkerCount,
			CacheTTL:        DefaultCacheTTL,
			CacheMaxEntries: DefaultCacheMaxEntries,
		},
		Feedback: FeedbackConfig{
			BufferCapacity:          DefaultPollBufferCapacity,
			StreamPollInterval:      DefaultStreamPollInterval,
			StreamHeartbeatInterval: DefaultStreamHeartbeatInterval,
			StreamTimeout:           DefaultStreamTimeout,
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
				TLS: OTLPTraceTLSConfig{
					Enabled: false,
				},
			},
			SampleRatio: 0.2,
			ServiceName: "lingorelay",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}
