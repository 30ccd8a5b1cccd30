package xbroker

import (
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// observerSet is a copy-on-write list: readers take a snapshot without
// locking, writers replace the slice.
type observerSet struct {
	mu   sync.Mutex
	list atomic.Pointer[[]Observer]
}

func (s *observerSet) snapshot() []Observer {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *observerSet) add(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	next := make([]Observer, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, obs)
	s.list.Store(&next)
}

func (s *observerSet) remove(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	for i, o := range cur {
		if o == obs {
			next := make([]Observer, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			s.list.Store(&next)
			return
		}
	}
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits bus events via xlog.
// Failures are logged at warn level, everything else at debug.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	switch e.Type {
	case Error, Nack, RejectEvent:
		o.Logger.Warn().
			Str("type", string(e.Type)).
			Str("dest", e.Dest.String()).
			Str("message_id", e.MessageID).
			Err(e.Err).
			Msg("xbroker event")
	case ConsumeDone, PublishDone:
		if e.Err != nil {
			o.Logger.Warn().
				Str("type", string(e.Type)).
				Str("dest", e.Dest.String()).
				Str("message_id", e.MessageID).
				Dur("duration", e.Duration).
				Err(e.Err).
				Msg("xbroker event")
			return
		}
		o.Logger.Debug().
			Str("type", string(e.Type)).
			Str("dest", e.Dest.String()).
			Str("message_id", e.MessageID).
			Dur("duration", e.Duration).
			Msg("xbroker event")
	default:
		o.Logger.Debug().
			Str("type", string(e.Type)).
			Str("dest", e.Dest.String()).
			Str("message_id", e.MessageID).
			Msg("xbroker event")
	}
}
