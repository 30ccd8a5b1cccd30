package xbroker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TransportFactory builds a transport from its option map. Adapters register
// one from init.
type TransportFactory func(cfg Options) (Transport, error)

// CodecFactory builds a codec.
type CodecFactory func() Codec

// registry is a named set of factories safe for registration from init
// functions of several packages.
type registry[F any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]F
}

func newRegistry[F any](kind string) *registry[F] {
	return &registry[F]{kind: kind, m: make(map[string]F)}
}

// put stores f under name, replacing an earlier registration.
func (r *registry[F]) put(name string, f F, isNil bool) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", r.kind)
	}
	if isNil {
		return fmt.Errorf("%s factory must not be nil", r.kind)
	}
	r.mu.Lock()
	r.m[name] = f
	r.mu.Unlock()
	return nil
}

func (r *registry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.m[name]
	return f, ok
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

var (
	transports = newRegistry[TransportFactory]("transport")
	codecs     = func() *registry[CodecFactory] {
		r := newRegistry[CodecFactory]("codec")
		r.m["json"] = func() Codec { return JSONCodec{} }
		return r
	}()
)

// ErrUnknownCodec is returned by NewCodec for names nothing registered.
var ErrUnknownCodec = errors.New("xbroker: unknown codec")

// RegisterTransport makes a backend adapter available to NewTransport and the
// BusBuilder under name.
func RegisterTransport(name string, factory TransportFactory) error {
	return transports.put(name, factory, factory == nil)
}

// NewTransport builds the transport registered under name.
func NewTransport(name string, cfg Options) (Transport, error) {
	f, ok := transports.get(name)
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}

// Transports lists registered transport names, sorted.
func Transports() []string { return transports.names() }

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	return codecs.put(name, factory, factory == nil)
}

// NewCodec builds the codec registered under name.
func NewCodec(name string) (Codec, error) {
	f, ok := codecs.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return f(), nil
}

// Codecs lists registered codec names, sorted.
func Codecs() []string { return codecs.names() }
