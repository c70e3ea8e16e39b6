package run

import (
	"github.com/spf13/cobra"

	"github.com/lingorelay/lingorelay/cmd/util"
	serverconfig "github.com/lingorelay/lingorelay/internal/server/config"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := serverconfig.DefaultConfig()
	flags := command.Flags()

	flags.Int("max-text-length", defaultConfig.MaxTextLengthInBytes, "the maximum size in bytes of a single translation submission")
	util.MustBindPFlag("maxTextLengthInBytes", flags.Lookup("max-text-length"))
	util.MustBindEnv("maxTextLengthInBytes", "LINGORELAY_MAX_TEXT_LENGTH", "LINGORELAY_MAXTEXTLENGTH")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence")
	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "LINGORELAY_DATASTORE_ENGINE")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "LINGORELAY_DATASTORE_URI")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
	util.MustBindEnv("datastore.maxOpenConns", "LINGORELAY_DATASTORE_MAX_OPEN_CONNS", "LINGORELAY_DATASTORE_MAXOPENCONNS")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
	util.MustBindEnv("datastore.maxIdleConns", "LINGORELAY_DATASTORE_MAX_IDLE_CONNS", "LINGORELAY_DATASTORE_MAXIDLECONNS")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics for the datastore")
	util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
	util.MustBindEnv("datastore.metrics.enabled", "LINGORELAY_DATASTORE_METRICS_ENABLED")

	flags.String("bus-engine", defaultConfig.Bus.Engine, "the message bus engine that will be used for request and result transport")
	util.MustBindPFlag("bus.engine", flags.Lookup("bus-engine"))
	util.MustBindEnv("bus.engine", "LINGORELAY_BUS_ENGINE")

	flags.StringSlice("bus-brokers", defaultConfig.Bus.Brokers, "the kafka bootstrap brokers (required when the bus engine is 'kafka')")
	util.MustBindPFlag("bus.brokers", flags.Lookup("bus-brokers"))
	util.MustBindEnv("bus.brokers", "LINGORELAY_BUS_BROKERS")

	flags.String("bus-consumer-group", defaultConfig.Bus.ConsumerGroup, "the kafka consumer group the translation workers join")
	util.MustBindPFlag("bus.consumerGroup", flags.Lookup("bus-consumer-group"))
	util.MustBindEnv("bus.consumerGroup", "LINGORELAY_BUS_CONSUMER_GROUP", "LINGORELAY_BUS_CONSUMERGROUP")

	flags.Int("bus-breaker-failure-threshold", defaultConfig.Bus.Breaker.FailureThreshold, "the number of consecutive publish failures that open the bus circuit breaker")
	util.MustBindPFlag("bus.breaker.failureThreshold", flags.Lookup("bus-breaker-failure-threshold"))
	util.MustBindEnv("bus.breaker.failureThreshold", "LINGORELAY_BUS_BREAKER_FAILURE_THRESHOLD", "LINGORELAY_BUS_BREAKER_FAILURETHRESHOLD")

	flags.Duration("bus-breaker-cooldown", defaultConfig.Bus.Breaker.CoolDown, "how long the bus circuit breaker stays open before probing")
	util.MustBindPFlag("bus.breaker.coolDown", flags.Lookup("bus-breaker-cooldown"))
	util.MustBindEnv("bus.breaker.coolDown", "LINGORELAY_BUS_BREAKER_COOLDOWN")

	flags.Int("processor-breaker-failure-threshold", defaultConfig.Processor.Breaker.FailureThreshold, "the number of consecutive failures that open the local engine circuit breaker")
	util.MustBindPFlag("processor.breaker.failureThreshold", flags.Lookup("processor-breaker-failure-threshold"))
	util.MustBindEnv("processor.breaker.failureThreshold", "LINGORELAY_PROCESSOR_BREAKER_FAILURE_THRESHOLD", "LINGORELAY_PROCESSOR_BREAKER_FAILURETHRESHOLD")

	flags.Duration("processor-breaker-cooldown", defaultConfig.Processor.Breaker.CoolDown, "how long the local engine circuit breaker stays open before probing")
	util.MustBindPFlag("processor.breaker.coolDown", flags.Lookup("processor-breaker-cooldown"))
	util.MustBindEnv("processor.breaker.coolDown", "LINGORELAY_PROCESSOR_BREAKER_COOLDOWN")

	flags.String("processor-fallback-url", defaultConfig.Processor.Fallback.URL, "the base url of the remote translation API used when the local engine fails (disabled when empty)")
	util.MustBindPFlag("processor.fallback.url", flags.Lookup("processor-fallback-url"))
	util.MustBindEnv("processor.fallback.url", "LINGORELAY_PROCESSOR_FALLBACK_URL")

	flags.String("processor-fallback-api-key", defaultConfig.Processor.Fallback.APIKey, "the bearer key presented to the remote translation API")
	util.MustBindPFlag("processor.fallback.apiKey", flags.Lookup("processor-fallback-api-key"))
	util.MustBindEnv("processor.fallback.apiKey", "LINGORELAY_PROCESSOR_FALLBACK_API_KEY", "LINGORELAY_PROCESSOR_FALLBACK_APIKEY")

	flags.Duration("processor-fallback-timeout", defaultConfig.Processor.Fallback.Timeout, "the per-request timeout for remote translation API calls")
	util.MustBindPFlag("processor.fallback.timeout", flags.Lookup("processor-fallback-timeout"))
	util.MustBindEnv("processor.fallback.timeout", "LINGORELAY_PROCESSOR_FALLBACK_TIMEOUT")

	flags.Int("processor-fallback-max-attempts", defaultConfig.Processor.Fallback.MaxAttempts, "the maximum number of attempts per remote translation API call")
	util.MustBindPFlag("processor.fallback.maxAttempts", flags.Lookup("processor-fallback-max-attempts"))
	util.MustBindEnv("processor.fallback.maxAttempts", "LINGORELAY_PROCESSOR_FALLBACK_MAX_ATTEMPTS", "LINGORELAY_PROCESSOR_FALLBACK_MAXATTEMPTS")

	flags.Bool("http-enabled", defaultConfig.HTTP.Enabled, "enable/disable the LingoRelay HTTP server")
	util.MustBindPFlag("http.enabled", flags.Lookup("http-enabled"))
	util.MustBindEnv("http.enabled", "LINGORELAY_HTTP_ENABLED")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")
	util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	util.MustBindEnv("http.addr", "LINGORELAY_HTTP_ADDR")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")
	util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
	util.MustBindEnv("http.corsAllowedOrigins", "LINGORELAY_HTTP_CORS_ALLOWED_ORIGINS", "LINGORELAY_HTTP_CORSALLOWEDORIGINS")

	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")
	util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
	util.MustBindEnv("http.corsAllowedHeaders", "LINGORELAY_HTTP_CORS_ALLOWED_HEADERS", "LINGORELAY_HTTP_CORSALLOWEDHEADERS")

	flags.String("authn-method", defaultConfig.Authn.Method, "the authentication method to use")
	util.MustBindPFlag("authn.method", flags.Lookup("authn-method"))
	util.MustBindEnv("authn.method", "LINGORELAY_AUTHN_METHOD")

	flags.StringSlice("authn-preshared-keys", defaultConfig.Authn.Keys, "one or more preshared keys to use for authentication, each optionally suffixed with '=principal'")
	util.MustBindPFlag("authn.keys", flags.Lookup("authn-preshared-keys"))
	util.MustBindEnv("authn.keys", "LINGORELAY_AUTHN_PRESHARED_KEYS", "LINGORELAY_AUTHN_KEYS")

	flags.Int("worker-count", defaultConfig.Worker.Count, "the number of concurrent translation workers")
	util.MustBindPFlag("worker.count", flags.Lookup("worker-count"))
	util.MustBindEnv("worker.count", "LINGORELAY_WORKER_COUNT")

	flags.Duration("worker-cache-ttl", defaultConfig.Worker.CacheTTL, "how long completed translations are memoized in the content cache")
	util.MustBindPFlag("worker.cacheTTL", flags.Lookup("worker-cache-ttl"))
	util.MustBindEnv("worker.cacheTTL", "LINGORELAY_WORKER_CACHE_TTL", "LINGORELAY_WORKER_CACHETTL")

	flags.Int64("worker-cache-max-entries", defaultConfig.Worker.CacheMaxEntries, "the maximum number of entries in the content cache before LRU eviction")
	util.MustBindPFlag("worker.cacheMaxEntries", flags.Lookup("worker-cache-max-entries"))
	util.MustBindEnv("worker.cacheMaxEntries", "LINGORELAY_WORKER_CACHE_MAX_ENTRIES", "LINGORELAY_WORKER_CACHEMAXENTRIES")

	flags.Int("feedback-buffer-capacity", defaultConfig.Feedback.BufferCapacity, "the per-submitter poll buffer bound; the oldest entries are evicted past it")
	util.MustBindPFlag("feedback.bufferCapacity", flags.Lookup("feedback-buffer-capacity"))
	util.MustBindEnv("feedback.bufferCapacity", "LINGORELAY_FEEDBACK_BUFFER_CAPACITY", "LINGORELAY_FEEDBACK_BUFFERCAPACITY")

	flags.Duration("feedback-stream-poll-interval", defaultConfig.Feedback.StreamPollInterval, "how often a stream re-checks for a result")
	util.MustBindPFlag("feedback.streamPollInterval", flags.Lookup("feedback-stream-poll-interval"))
	util.MustBindEnv("feedback.streamPollInterval", "LINGORELAY_FEEDBACK_STREAM_POLL_INTERVAL", "LINGORELAY_FEEDBACK_STREAMPOLLINTERVAL")

	flags.Duration("feedback-stream-heartbeat-interval", defaultConfig.Feedback.StreamHeartbeatInterval, "how often an idle stream emits a keep-alive frame")
	util.MustBindPFlag("feedback.streamHeartbeatInterval", flags.Lookup("feedback-stream-heartbeat-interval"))
	util.MustBindEnv("feedback.streamHeartbeatInterval", "LINGORELAY_FEEDBACK_STREAM_HEARTBEAT_INTERVAL", "LINGORELAY_FEEDBACK_STREAMHEARTBEATINTERVAL")

	flags.Duration("feedback-stream-timeout", defaultConfig.Feedback.StreamTimeout, "how long a stream waits for a terminal status before giving up")
	util.MustBindPFlag("feedback.streamTimeout", flags.Lookup("feedback-stream-timeout"))
	util.MustBindEnv("feedback.streamTimeout", "LINGORELAY_FEEDBACK_STREAM_TIMEOUT", "LINGORELAY_FEEDBACK_STREAMTIMEOUT")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "LINGORELAY_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use in the log output")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "LINGORELAY_LOG_LEVEL")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for the log output")
	util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
	util.MustBindEnv("log.timestampFormat", "LINGORELAY_LOG_TIMESTAMP_FORMAT", "LINGORELAY_LOG_TIMESTAMPFORMAT")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
	util.MustBindEnv("trace.enabled", "LINGORELAY_TRACE_ENABLED")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
	util.MustBindEnv("trace.otlp.endpoint", "LINGORELAY_TRACE_OTLP_ENDPOINT")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
	util.MustBindEnv("trace.sampleRatio", "LINGORELAY_TRACE_SAMPLE_RATIO", "LINGORELAY_TRACE_SAMPLERATIO")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces")
	util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
	util.MustBindEnv("trace.serviceName", "LINGORELAY_TRACE_SERVICE_NAME", "LINGORELAY_TRACE_SERVICENAME")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "LINGORELAY_METRICS_ENABLED")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")
	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "LINGORELAY_METRICS_ADDR")
}
