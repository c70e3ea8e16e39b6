// Package run contains the command to run a LingoRelay server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lingorelay/lingorelay/internal/authn"
	"github.com/lingorelay/lingorelay/internal/authn/presharedkey"
	"github.com/lingorelay/lingorelay/internal/bus"
	buskafka "github.com/lingorelay/lingorelay/internal/bus/kafka"
	busmemory "github.com/lingorelay/lingorelay/internal/bus/memory"
	"github.com/lingorelay/lingorelay/internal/cache"
	"github.com/lingorelay/lingorelay/internal/feedback"
	"github.com/lingorelay/lingorelay/internal/notify"
	"github.com/lingorelay/lingorelay/internal/server"
	serverconfig "github.com/lingorelay/lingorelay/internal/server/config"
	"github.com/lingorelay/lingorelay/internal/worker"
	"github.com/lingorelay/lingorelay/pkg/ambassador"
	"github.com/lingorelay/lingorelay/pkg/breaker"
	"github.com/lingorelay/lingorelay/pkg/logger"
	"github.com/lingorelay/lingorelay/pkg/processor"
	"github.com/lingorelay/lingorelay/pkg/processor/remote"
	"github.com/lingorelay/lingorelay/pkg/processor/static"
	"github.com/lingorelay/lingorelay/pkg/storage"
	storagememory "github.com/lingorelay/lingorelay/pkg/storage/memory"
	"github.com/lingorelay/lingorelay/pkg/storage/sqlite"
	"github.com/lingorelay/lingorelay/pkg/telemetry"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the LingoRelay server",
		Long:  "Run the LingoRelay server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// ReadConfig returns the LingoRelay server configuration based on the values
// provided in the server's 'config.yaml' file. The 'config.yaml' file is
// loaded from '/etc/lingorelay', '$HOME/.lingorelay', or the current working
// directory. If no configuration file is present, the default values are
// returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

// ServerContext holds the dependencies with a lifetime spanning the whole
// server process.
type ServerContext struct {
	Logger logger.Logger
}

func (s *ServerContext) telemetryConfig(config *serverconfig.Config) func() error {
	if config.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s'", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint))

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(config.Trace.OTLP.Endpoint),
			telemetry.WithServiceName(config.Trace.ServiceName),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		)
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error { return nil }
}

func (s *ServerContext) datastoreConfig(config *serverconfig.Config) (storage.StatusStore, error) {
	switch config.Datastore.Engine {
	case "memory":
		s.Logger.Info("using 'memory' storage engine")
		return storagememory.New(), nil
	case "sqlite":
		s.Logger.Info("using 'sqlite' storage engine")
		dsCfg := sqlite.NewConfig()
		dsCfg.Logger = s.Logger
		dsCfg.ExportMetrics = config.Datastore.Metrics.Enabled
		dsCfg.MaxOpenConns = config.Datastore.MaxOpenConns
		dsCfg.MaxIdleConns = config.Datastore.MaxIdleConns
		dsCfg.ConnMaxIdleTime = config.Datastore.ConnMaxIdleTime
		dsCfg.ConnMaxLifetime = config.Datastore.ConnMaxLifetime
		return sqlite.New(config.Datastore.URI, dsCfg)
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}
}

func (s *ServerContext) busConfig(config *serverconfig.Config) (bus.Bus, error) {
	var inner bus.Bus
	switch config.Bus.Engine {
	case "memory":
		s.Logger.Info("using 'memory' bus engine")
		inner = busmemory.New(busmemory.WithLogger(s.Logger))
	case "kafka":
		s.Logger.Info("using 'kafka' bus engine", zap.Strings("brokers", config.Bus.Brokers))
		var err error
		inner, err = buskafka.New(&buskafka.Config{
			Brokers: config.Bus.Brokers,
			GroupID: config.Bus.ConsumerGroup,
			Logger:  s.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize kafka bus: %w", err)
		}
	default:
		return nil, fmt.Errorf("bus engine '%s' is unsupported", config.Bus.Engine)
	}

	return bus.NewResilientBus(inner,
		bus.WithBreaker(breaker.New("message_bus",
			breaker.WithFailureThreshold(config.Bus.Breaker.FailureThreshold),
			breaker.WithCoolDown(config.Bus.Breaker.CoolDown),
		)),
		bus.WithLogger(s.Logger),
	), nil
}

func (s *ServerContext) authenticatorConfig(config *serverconfig.Config) (authn.Authenticator, error) {
	switch config.Authn.Method {
	case "none":
		s.Logger.Warn("authentication is disabled")
		return authn.NoopAuthenticator{}, nil
	case "preshared":
		s.Logger.Info("using 'preshared' authentication")
		return presharedkey.NewPresharedKeyAuthenticator(config.Authn.Keys)
	default:
		return nil, fmt.Errorf("unsupported authentication method '%v'", config.Authn.Method)
	}
}

func (s *ServerContext) fallbackConfig(config *serverconfig.Config) processor.Processor {
	if config.Processor.Fallback.URL == "" {
		return nil
	}

	s.Logger.Info("remote translation fallback enabled", zap.String("url", config.Processor.Fallback.URL))

	opts := []ambassador.Opt{
		ambassador.WithTimeout(config.Processor.Fallback.Timeout),
		ambassador.WithMaxAttempts(config.Processor.Fallback.MaxAttempts),
		ambassador.WithLogger(s.Logger),
	}
	if config.Processor.Fallback.APIKey != "" {
		opts = append(opts, ambassador.WithAPIKey(config.Processor.Fallback.APIKey))
	}
	return remote.New(ambassador.NewClient(config.Processor.Fallback.URL, opts...))
}

// Run starts the pipeline and blocks until the context is canceled or a
// fatal error occurs.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, os.Kill, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(config)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			s.Logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	datastore, err := s.datastoreConfig(config)
	if err != nil {
		return err
	}
	defer datastore.Close()

	messageBus, err := s.busConfig(config)
	if err != nil {
		return err
	}
	defer func() {
		if err := messageBus.Close(); err != nil {
			s.Logger.Error("failed to close message bus", zap.Error(err))
		}
	}()

	authenticator, err := s.authenticatorConfig(config)
	if err != nil {
		return err
	}
	defer authenticator.Close()

	contentCache := cache.NewInMemoryCache(cache.WithMaxEntries(config.Worker.CacheMaxEntries))
	defer contentCache.Stop()

	subject := notify.NewSubject(notify.WithLogger(s.Logger))
	pollBuffer := feedback.NewBuffer(config.Feedback.BufferCapacity)
	subject.Attach(pollBuffer)

	streamer := feedback.NewStreamer(pollBuffer, datastore,
		feedback.WithPollInterval(config.Feedback.StreamPollInterval),
		feedback.WithHeartbeatInterval(config.Feedback.StreamHeartbeatInterval),
		feedback.WithStreamTimeout(config.Feedback.StreamTimeout),
		feedback.WithStreamerLogger(s.Logger),
	)

	workerOpts := []worker.Opt{
		worker.WithCount(config.Worker.Count),
		worker.WithCacheTTL(config.Worker.CacheTTL),
		worker.WithLogger(s.Logger),
		worker.WithBreaker(breaker.New("local_processor",
			breaker.WithFailureThreshold(config.Processor.Breaker.FailureThreshold),
			breaker.WithCoolDown(config.Processor.Breaker.CoolDown),
		)),
	}
	if fallback := s.fallbackConfig(config); fallback != nil {
		workerOpts = append(workerOpts, worker.WithFallback(fallback))
	}
	pipelineWorker := worker.New(messageBus, datastore, contentCache, static.New(), subject, workerOpts...)

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: mux}

		go func() {
			s.Logger.Info(fmt.Sprintf("📈 starting prometheus metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					s.Logger.Fatal("failed to start prometheus metrics server", zap.Error(err))
				}
			}
			s.Logger.Info("metrics server shut down.")
		}()
	}

	var httpServer *http.Server
	if config.HTTP.Enabled {
		apiServer := server.New(datastore, messageBus, contentCache, pollBuffer, streamer,
			server.WithLogger(s.Logger),
			server.WithAuthenticator(authenticator),
			server.WithMaxTextLength(config.MaxTextLengthInBytes),
			server.WithCacheTTL(config.Worker.CacheTTL),
			server.WithCORS(config.HTTP.CORSAllowedOrigins, config.HTTP.CORSAllowedHeaders),
		)
		httpServer = &http.Server{Addr: config.HTTP.Addr, Handler: apiServer.Handler()}
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Logger.Info(fmt.Sprintf("starting %d translation worker(s)", config.Worker.Count))
		return pipelineWorker.Start(groupCtx)
	})

	if httpServer != nil {
		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("🚀 starting LingoRelay HTTP server on '%s'...", config.HTTP.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-groupCtx.Done()
		s.Logger.Info("attempting to shutdown gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.Logger.Error("failed to shutdown the http server", zap.Error(err))
			}
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				s.Logger.Error("failed to shutdown the metrics server", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s.Logger.Info("server exited. goodbye 👋")
	return nil
}
