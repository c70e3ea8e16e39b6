package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/pkg/logger"
	"github.com/lingorelay/lingorelay/pkg/storage"
)

const (
	DefaultPollInterval      = 1 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStreamTimeout     = 60 * time.Second
)

// StreamEvent is the wire frame written to a stream consumer.
type StreamEvent struct {
	Type           string `json:"type"`
	TranslationID  string `json:"translation_id,omitempty"`
	Status         string `json:"status,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Streamer blocks on a single translation id until it reaches a terminal
// status, writing server-sent event frames as it waits. It checks the poll
// buffer first on each tick so events consumed by the stream do not linger
// for a later poll, then falls back to the status store.
type Streamer struct {
	buffer    *Buffer
	store     storage.StatusStore
	logger    logger.Logger
	poll      time.Duration
	heartbeat time.Duration
	timeout   time.Duration
}

type StreamerOpt func(*Streamer)

func WithPollInterval(d time.Duration) StreamerOpt {
	return func(s *Streamer) {
		s.poll = d
	}
}

func WithHeartbeatInterval(d time.Duration) StreamerOpt {
	return func(s *Streamer) {
		s.heartbeat = d
	}
}

func WithStreamTimeout(d time.Duration) StreamerOpt {
	return func(s *Streamer) {
		s.timeout = d
	}
}

func WithStreamerLogger(l logger.Logger) StreamerOpt {
	return func(s *Streamer) {
		s.logger = l
	}
}

func NewStreamer(buffer *Buffer, store storage.StatusStore, opts ...StreamerOpt) *Streamer {
	s := &Streamer{
		buffer:    buffer,
		store:     store,
		logger:    logger.NewNoopLogger(),
		poll:      DefaultPollInterval,
		heartbeat: DefaultHeartbeatInterval,
		timeout:   DefaultStreamTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream writes frames for one translation until it completes, the timeout
// elapses, or ctx is cancelled. The writer is flushed after every frame when
// it supports flushing.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, submitterID, translationID string) error {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}

	// A terminal record may already exist; answer without waiting a tick.
	done, err := s.check(ctx, w, submitterID, translationID)
	if err != nil || done {
		flush()
		return err
	}
	flush()

	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			if err := writeFrame(w, StreamEvent{Type: "timeout", TranslationID: translationID}); err != nil {
				return err
			}
			flush()
			return nil

		case <-heartbeat.C:
			if err := writeFrame(w, StreamEvent{Type: "heartbeat"}); err != nil {
				return err
			}
			flush()

		case <-poll.C:
			done, err := s.check(ctx, w, submitterID, translationID)
			if err != nil {
				return err
			}
			flush()
			if done {
				return nil
			}
		}
	}
}

// check emits a result frame and reports done when the translation has
// reached a terminal status.
func (s *Streamer) check(ctx context.Context, w io.Writer, submitterID, translationID string) (bool, error) {
	if event, ok := s.buffer.Take(submitterID, translationID); ok {
		return true, writeFrame(w, StreamEvent{
			Type:           "completed",
			TranslationID:  event.TranslationID,
			Status:         string(storage.StatusCompleted),
			TranslatedText: event.TranslatedText,
		})
	}

	record, err := s.store.Get(ctx, translationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("stream status lookup failed",
			zap.String("translation_id", translationID),
			zap.Error(err),
		)
		return false, nil
	}

	if !record.Status.Terminal() {
		return false, nil
	}

	frame := StreamEvent{
		Type:          string(record.Status),
		TranslationID: record.ID,
		Status:        string(record.Status),
	}
	if record.Status == storage.StatusCompleted {
		frame.TranslatedText = record.TranslatedText
	} else {
		frame.ErrorMessage = record.ErrorMessage
	}
	return true, writeFrame(w, frame)
}

func writeFrame(w io.Writer, event StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	return nil
}
