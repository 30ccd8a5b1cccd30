package xbroker

import (
	"context"
	"reflect"
	"sync"
)

// HandlerFunc processes one message. A non-nil result is published to the
// envelope's ReplyTo (and to any publisher wrapping the handler).
// Return an error to nack; wrap it with Reject to reject instead.
type HandlerFunc func(ctx context.Context, msg *Envelope) (any, error)

// Handler is the registered form of a HandlerFunc returned by Router.Subscriber.
// It is callable directly and can be instrumented with Spy for tests.
type Handler struct {
	fn HandlerFunc

	mu  sync.Mutex
	spy *Spy
}

func newHandler(fn HandlerFunc) *Handler { return &Handler{fn: fn} }

// Call invokes the wrapped function, recording the call when a spy is attached.
func (h *Handler) Call(ctx context.Context, msg *Envelope) (any, error) {
	h.mu.Lock()
	s := h.spy
	h.mu.Unlock()
	if s != nil {
		s.record(msg)
	}
	return h.fn(ctx, msg)
}

// Func returns the handler as a HandlerFunc.
func (h *Handler) Func() HandlerFunc { return h.Call }

// Spy attaches (once) and returns a call recorder.
func (h *Handler) Spy() *Spy {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spy == nil {
		h.spy = &Spy{}
	}
	return h.spy
}

// ResetSpy detaches the call recorder.
func (h *Handler) ResetSpy() {
	h.mu.Lock()
	h.spy = nil
	h.mu.Unlock()
}

// Spy records invocations of a Handler or Publisher.
type Spy struct {
	mu    sync.Mutex
	calls int
	last  any
}

func (s *Spy) record(arg any) {
	s.mu.Lock()
	s.calls++
	s.last = arg
	s.mu.Unlock()
}

// Calls returns the number of recorded invocations.
func (s *Spy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Last returns the argument of the most recent invocation.
func (s *Spy) Last() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CalledWith reports whether the most recent invocation received v.
// Envelopes are compared by decoded body.
func (s *Spy) CalledWith(v any) bool {
	last := s.Last()
	if env, ok := last.(*Envelope); ok {
		if d, err := env.Decode(); err == nil {
			last = d
		}
	}
	return reflect.DeepEqual(last, v)
}

// Reset clears recorded calls.
func (s *Spy) Reset() {
	s.mu.Lock()
	s.calls = 0
	s.last = nil
	s.mu.Unlock()
}

// Route binds a Handler to a Destination and subscription options.
// A Route is immutable once built.
type Route struct {
	handler *Handler
	dest    Destination
	opts    Options
}

// NewRoute builds a Route for fn. Used to seed routers with WithRoutes.
func NewRoute(fn HandlerFunc, dest Destination, opts ...Options) Route {
	return Route{handler: newHandler(fn), dest: dest, opts: mergeOptions(opts)}
}

func (r Route) Handler() *Handler         { return r.handler }
func (r Route) Destination() Destination { return r.dest }

// Options returns a copy of the route's subscription options.
func (r Route) Options() Options { return Options(nil).Merge(r.opts) }
