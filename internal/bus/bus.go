// Package bus abstracts the publish/subscribe channel that connects the
// submission boundary to the translation workers and the workers to the
// delivery surfaces. Delivery is best effort and at most once: publishing
// with zero subscribers drops the message, and duplicates from the
// underlying transport are possible, which is why consumers must be
// idempotent.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// ChannelRequests carries translation requests to the workers.
	ChannelRequests = "translation_requests"

	// ChannelResults carries completed translations to result listeners.
	ChannelResults = "translation_results"
)

// ErrBusUnavailable is surfaced when the underlying transport cannot be
// reached (or its circuit breaker is open).
var ErrBusUnavailable = errors.New("message bus unavailable")

// Handler consumes one message. Returned errors are logged by the
// subscription loop and never terminate it.
type Handler func(ctx context.Context, payload []byte) error

// Bus is an asynchronous channel transport.
type Bus interface {
	// Publish sends payload on channel, fire and forget. It succeeds even
	// when nobody is subscribed.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe blocks, invoking handler for every message received on
	// channel in arrival order, until ctx is canceled or the transport
	// fails. Handler errors must not end the subscription.
	Subscribe(ctx context.Context, channel string, handler Handler) error

	// Close releases the transport.
	Close() error
}

// RequestMessage is the wire form of a translation request.
type RequestMessage struct {
	TranslationID string            `json:"translation_id"`
	Text          string            `json:"text"`
	SourceLang    string            `json:"source_language"`
	TargetLang    string            `json:"target_language"`
	SubmitterID   string            `json:"submitter_id"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ResultMessage is the wire form of a completed translation.
type ResultMessage struct {
	TranslationID  string            `json:"translation_id"`
	Text           string            `json:"text"`
	TranslatedText string            `json:"translated_text"`
	SourceLang     string            `json:"source_language"`
	TargetLang     string            `json:"target_language"`
	SubmitterID    string            `json:"submitter_id"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (m *RequestMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalRequest(payload []byte) (*RequestMessage, error) {
	var m RequestMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *ResultMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalResult(payload []byte) (*ResultMessage, error) {
	var m ResultMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
