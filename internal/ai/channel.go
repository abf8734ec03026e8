package ai

import (
	"strings"
	"sync"
)

// UpdateFunc receives the full accumulated text on every growth and exactly
// once more with finished=true carrying the final text.
type UpdateFunc func(text string, finished bool)

// StreamChannel is one open generation request. Implementations buffer
// incremental text and push it to a single subscriber; the buffer only ever
// appends until the terminal callback.
type StreamChannel interface {
	// Subscribe registers the one callback. Subscribing after data has
	// already arrived replays the current buffer immediately; subscribing
	// after the terminal event replays it as the terminal callback.
	Subscribe(fn UpdateFunc)

	// Success reports whether the stream ended cleanly. Only meaningful
	// after the terminal callback has fired.
	Success() bool

	Role() Role
	Provider() ProviderID

	// Cancel tears down the transport. Idempotent, safe from any
	// goroutine; no onUpdate call is delivered after it returns.
	Cancel()
}

// streamState is the buffering core shared by both transports. The deliver
// mutex serializes callback invocations so Cancel can wait out an in-flight
// callback before suppressing the rest.
type streamState struct {
	role     Role
	provider ProviderID

	deliver sync.Mutex

	mu        sync.Mutex
	buf       strings.Builder
	fn        UpdateFunc
	closed    bool
	failed    bool
	cancelled bool
	sentFinal bool
}

func newStreamState(role Role, provider ProviderID) *streamState {
	return &streamState{role: role, provider: provider}
}

func (s *streamState) Role() Role           { return s.role }
func (s *streamState) Provider() ProviderID { return s.provider }

func (s *streamState) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && !s.failed
}

func (s *streamState) Subscribe(fn UpdateFunc) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	s.fn = fn
	text := s.buf.String()
	replayFinal := s.closed && !s.sentFinal && !s.cancelled
	replayPartial := !replayFinal && !s.cancelled && !s.closed && text != ""
	if replayFinal {
		s.sentFinal = true
	}
	s.mu.Unlock()

	if replayFinal {
		fn(text, true)
	} else if replayPartial {
		fn(text, false)
	}
}

// append grows the buffer. Dropped silently once the stream is terminal or
// cancelled so a stray late transport event cannot mutate committed text.
func (s *streamState) append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cancelled {
		return
	}
	s.buf.WriteString(delta)
}

// emit pushes the current buffer to the subscriber. final=true marks the
// terminal callback; at most one is ever delivered.
func (s *streamState) emit(final, failed bool) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.cancelled || (s.closed && !final) || s.sentFinal {
		s.mu.Unlock()
		return
	}
	if final {
		s.closed = true
		if failed {
			s.failed = true
		}
	}
	fn := s.fn
	text := s.buf.String()
	if final && fn != nil {
		s.sentFinal = true
	}
	s.mu.Unlock()

	if fn != nil {
		fn(text, final)
	}
}

// fail appends the raw error body/message to the buffer, then fires the
// terminal callback with failure set.
func (s *streamState) fail(errText string) {
	s.append(errText)
	s.emit(true, true)
}

func (s *streamState) finish() {
	s.emit(true, false)
}

// markCancelled waits for any in-flight callback, then suppresses all
// further deliveries. Safe to call repeatedly.
func (s *streamState) markCancelled() {
	s.deliver.Lock()
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.deliver.Unlock()
}
