// Package notify implements the subject/observer fan-out that decouples
// the pipeline from its delivery surfaces. The worker notifies one Subject;
// poll buffers, stream sinks, and any future delivery mechanism register as
// observers rather than being wired into the worker.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/pkg/logger"
)

// Event is the payload delivered to observers when a translation completes.
type Event struct {
	TranslationID  string
	Text           string
	TranslatedText string
	SourceLang     string
	TargetLang     string
	SubmitterID    string
	Metadata       map[string]string
}

// Observer receives completion events. Update must not be assumed to run on
// any particular goroutine; it is called synchronously from the notifying
// context.
type Observer interface {
	Name() string
	Update(event Event)
}

// Subject maintains an ordered observer registry. Attach and Detach are the
// only mutations; Notify delivers to every observer in registration order,
// isolating individual failures.
type Subject struct {
	mu        sync.RWMutex
	observers []Observer
	logger    logger.Logger
}

type Opt func(*Subject)

func WithLogger(l logger.Logger) Opt {
	return func(s *Subject) {
		s.logger = l
	}
}

func NewSubject(opts ...Opt) *Subject {
	s := &Subject{
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach registers observer. Attaching the same observer twice is a no-op.
func (s *Subject) Attach(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.observers {
		if o == observer {
			return
		}
	}
	s.observers = append(s.observers, observer)
	s.logger.Info("observer attached", zap.String("observer", observer.Name()))
}

// Detach removes observer if present; detaching an unknown observer is a
// no-op, not an error.
func (s *Subject) Detach(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if o == observer {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			s.logger.Info("observer detached", zap.String("observer", observer.Name()))
			return
		}
	}
}

// Notify delivers event to every registered observer in registration
// order. A panicking observer is logged and skipped; it never blocks
// delivery to the observers after it.
func (s *Subject) Notify(event Event) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, o := range observers {
		s.update(o, event)
	}
}

func (s *Subject) update(o Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer update panicked",
				zap.String("observer", o.Name()),
				zap.String("translation_id", event.TranslationID),
				zap.Any("panic", r),
			)
		}
	}()

	o.Update(event)
}

// Len returns the number of registered observers.
func (s *Subject) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}

// Names returns the registered observer names in registration order.
func (s *Subject) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.observers))
	for _, o := range s.observers {
		names = append(names, o.Name())
	}
	return names
}
