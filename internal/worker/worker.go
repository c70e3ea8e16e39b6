// Package worker runs the consumption side of the translation pipeline:
// subscription loops that pull requests off the bus, drive each record
// through its status transitions, and fan results out to the bus and the
// registered observers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/internal/build"
	"github.com/lingorelay/lingorelay/internal/bus"
	"github.com/lingorelay/lingorelay/internal/cache"
	"github.com/lingorelay/lingorelay/internal/concurrency"
	"github.com/lingorelay/lingorelay/internal/notify"
	"github.com/lingorelay/lingorelay/pkg/breaker"
	"github.com/lingorelay/lingorelay/pkg/logger"
	"github.com/lingorelay/lingorelay/pkg/processor"
	"github.com/lingorelay/lingorelay/pkg/storage"
)

var tracer = otel.Tracer("lingorelay/internal/worker")

const (
	DefaultCount    = 4
	DefaultCacheTTL = time.Hour
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "worker_messages_total",
		Help:      "Translation request messages handled, by outcome.",
	}, []string{"outcome"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "worker_cache_lookups_total",
		Help:      "Content cache lookups performed by workers, by result.",
	}, []string{"result"})

	fallbackInvocations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "worker_fallback_invocations_total",
		Help:      "Translations routed to the fallback processor.",
	})

	processingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "worker_processing_duration_seconds",
		Help:      "Wall-clock time spent handling a single translation request.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// Worker consumes translation requests and resolves them to a terminal
// status. Consumption is idempotent: a request whose record is no longer
// pending is discarded without reprocessing.
type Worker struct {
	bus      bus.Bus
	store    storage.StatusStore
	cache    cache.ContentCache
	local    processor.Processor
	fallback processor.Processor
	breaker  *breaker.Breaker
	subject  *notify.Subject
	logger   logger.Logger
	count    int
	cacheTTL time.Duration
}

type Opt func(*Worker)

// WithCount sets the number of concurrent subscription loops.
func WithCount(n int) Opt {
	return func(w *Worker) {
		if n > 0 {
			w.count = n
		}
	}
}

// WithFallback installs a secondary processor consulted when the primary
// one fails or its circuit is open.
func WithFallback(p processor.Processor) Opt {
	return func(w *Worker) {
		w.fallback = p
	}
}

func WithCacheTTL(ttl time.Duration) Opt {
	return func(w *Worker) {
		if ttl > 0 {
			w.cacheTTL = ttl
		}
	}
}

func WithLogger(l logger.Logger) Opt {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithBreaker replaces the breaker guarding the primary processor.
func WithBreaker(b *breaker.Breaker) Opt {
	return func(w *Worker) {
		w.breaker = b
	}
}

func New(b bus.Bus, store storage.StatusStore, contentCache cache.ContentCache, local processor.Processor, subject *notify.Subject, opts ...Opt) *Worker {
	w := &Worker{
		bus:      b,
		store:    store,
		cache:    contentCache,
		local:    local,
		subject:  subject,
		logger:   logger.NewNoopLogger(),
		count:    DefaultCount,
		cacheTTL: DefaultCacheTTL,
		breaker:  breaker.New("local_processor"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the subscription loops until ctx is canceled. It blocks and
// returns the first non-cancellation error from any loop.
func (w *Worker) Start(ctx context.Context) error {
	pool := concurrency.NewPool(ctx, w.count)
	for i := 0; i < w.count; i++ {
		pool.Go(func(ctx context.Context) error {
			err := w.bus.Subscribe(ctx, bus.ChannelRequests, w.handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("request subscription: %w", err)
			}
			return nil
		})
	}
	return pool.Wait()
}

func (w *Worker) handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		processingSeconds.Observe(time.Since(start).Seconds())
	}()

	msg, err := bus.UnmarshalRequest(payload)
	if err != nil || msg.TranslationID == "" {
		messagesProcessed.WithLabelValues("invalid").Inc()
		w.logger.Warn("discarding malformed request message", zap.Error(err))
		return nil
	}

	ctx, span := tracer.Start(ctx, "worker.handle")
	defer span.End()

	// Claim the record. Losing the race means another worker (or a
	// redelivery of the same message) already owns it.
	err = w.store.UpdateStatus(ctx, msg.TranslationID, storage.StatusPending, storage.StatusProcessing, "", "")
	switch {
	case errors.Is(err, storage.ErrStaleTransition):
		messagesProcessed.WithLabelValues("duplicate").Inc()
		w.logger.Info("skipping already claimed request",
			zap.String("translation_id", msg.TranslationID))
		return nil
	case errors.Is(err, storage.ErrNotFound):
		messagesProcessed.WithLabelValues("orphan").Inc()
		w.logger.Warn("request message without status record",
			zap.String("translation_id", msg.TranslationID))
		return nil
	case err != nil:
		messagesProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("claiming translation %s: %w", msg.TranslationID, err)
	}

	key := cache.Key(msg.Text, msg.SourceLang, msg.TargetLang)
	if translated, ok := w.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return w.complete(ctx, msg, translated)
	}
	cacheLookups.WithLabelValues("miss").Inc()

	translated, err := w.translate(ctx, msg)
	if err != nil {
		return w.fail(ctx, msg, err)
	}

	w.cache.Put(key, translated, w.cacheTTL)
	return w.complete(ctx, msg, translated)
}

// translate runs the primary processor behind its breaker and falls back to
// the secondary processor when the primary fails or is short-circuited.
func (w *Worker) translate(ctx context.Context, msg *bus.RequestMessage) (string, error) {
	var translated string
	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		var terr error
		translated, terr = w.local.Translate(ctx, msg.Text, msg.SourceLang, msg.TargetLang)
		return terr
	})
	if err == nil {
		return translated, nil
	}

	w.logger.Warn("primary processor failed",
		zap.String("translation_id", msg.TranslationID),
		zap.Bool("circuit_open", errors.Is(err, breaker.ErrCircuitOpen)),
		zap.Error(err),
	)

	if w.fallback == nil {
		return "", err
	}

	fallbackInvocations.Inc()
	translated, ferr := w.fallback.Translate(ctx, msg.Text, msg.SourceLang, msg.TargetLang)
	if ferr != nil {
		return "", fmt.Errorf("fallback after %v: %w", err, ferr)
	}
	return translated, nil
}

func (w *Worker) complete(ctx context.Context, msg *bus.RequestMessage, translated string) error {
	err := w.store.UpdateStatus(ctx, msg.TranslationID, storage.StatusProcessing, storage.StatusCompleted, translated, "")
	if err != nil {
		messagesProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("completing translation %s: %w", msg.TranslationID, err)
	}
	messagesProcessed.WithLabelValues("completed").Inc()

	result := &bus.ResultMessage{
		TranslationID:  msg.TranslationID,
		Text:           msg.Text,
		TranslatedText: translated,
		SourceLang:     msg.SourceLang,
		TargetLang:     msg.TargetLang,
		SubmitterID:    msg.SubmitterID,
		Status:         string(storage.StatusCompleted),
		Metadata:       msg.Metadata,
	}
	if payload, merr := result.Marshal(); merr == nil {
		if perr := w.bus.Publish(ctx, bus.ChannelResults, payload); perr != nil {
			w.logger.Warn("publishing result failed",
				zap.String("translation_id", msg.TranslationID),
				zap.Error(perr))
		}
	}

	w.subject.Notify(notify.Event{
		TranslationID:  msg.TranslationID,
		Text:           msg.Text,
		TranslatedText: translated,
		SourceLang:     msg.SourceLang,
		TargetLang:     msg.TargetLang,
		SubmitterID:    msg.SubmitterID,
		Metadata:       msg.Metadata,
	})
	return nil
}

func (w *Worker) fail(ctx context.Context, msg *bus.RequestMessage, cause error) error {
	w.logger.Error("translation failed",
		zap.String("translation_id", msg.TranslationID),
		zap.String("source_language", msg.SourceLang),
		zap.String("target_language", msg.TargetLang),
		zap.Error(cause),
	)

	err := w.store.UpdateStatus(ctx, msg.TranslationID, storage.StatusProcessing, storage.StatusFailed, "", cause.Error())
	if err != nil {
		messagesProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("failing translation %s: %w", msg.TranslationID, err)
	}
	messagesProcessed.WithLabelValues("failed").Inc()
	return nil
}
