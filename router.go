package xbroker

import (
	"fmt"
	"sync"
)

// Router accumulates subscriber routes and publishers under a name prefix.
//
// Routers compose: including B (prefix "b_") into A (prefix "a_") registers
// B's "q" as "a_b_q" on A. Routes are replayed in order; publishers are
// deduplicated by dialect key and the first registered one wins.
//
// Routers are built before the application runs and are not meant to be
// mutated from several goroutines at once.
type Router struct {
	prefix  string
	dialect Dialect

	mu         sync.RWMutex
	routes     []Route
	publishers map[string]*Publisher
	order      []string
	target     publishTarget
	onRoute    func(Route)

	seed []Route
}

// RouterOption configures a Router at construction.
type RouterOption func(*Router)

// WithDialect sets the backend dialect (default DefaultDialect).
func WithDialect(d Dialect) RouterOption {
	return func(r *Router) {
		if d != nil {
			r.dialect = d
		}
	}
}

// WithRoutes pre-seeds the router. Seeded routes get the prefix like any other subscriber.
func WithRoutes(routes ...Route) RouterOption {
	return func(r *Router) { r.seed = append(r.seed, routes...) }
}

// NewRouter returns an empty router for prefix.
func NewRouter(prefix string, opts ...RouterOption) (*Router, error) {
	r := &Router{
		prefix:     prefix,
		dialect:    DefaultDialect,
		publishers: make(map[string]*Publisher),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	seed := r.seed
	r.seed = nil
	for _, rt := range seed {
		if rt.handler == nil {
			return nil, fmt.Errorf("%w: seeded route %s has no handler", ErrInvalidDestination, rt.dest)
		}
		if _, err := r.subscribe(rt.dest, rt.handler, rt.opts); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) Prefix() string   { return r.prefix }
func (r *Router) Dialect() Dialect { return r.dialect }

// Subscriber registers fn for dest and returns the registered Handler.
func (r *Router) Subscriber(dest Destination, fn HandlerFunc, opts ...Options) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil handler for %s", ErrInvalidDestination, dest)
	}
	return r.subscribe(dest, newHandler(fn), mergeOptions(opts))
}

func (r *Router) subscribe(dest Destination, h *Handler, opts Options) (*Handler, error) {
	if err := r.dialect.ValidateSubscriber(dest); err != nil {
		return nil, err
	}
	rt := Route{handler: h, dest: r.dialect.Prefix(r.prefix, dest), opts: opts}

	r.mu.Lock()
	r.routes = append(r.routes, rt)
	hook := r.onRoute
	r.mu.Unlock()

	if hook != nil {
		hook(rt)
	}
	return h, nil
}

// Publisher registers a publish target for dest. If a publisher with the same
// key already exists it is returned unchanged.
func (r *Router) Publisher(dest Destination, opts ...PublishOption) (*Publisher, error) {
	if err := r.dialect.ValidatePublisher(dest); err != nil {
		return nil, err
	}
	d := r.dialect.Prefix(r.prefix, dest)
	key := r.dialect.Key(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.publishers[key]; ok {
		return p, nil
	}
	p := newPublisher(d, key, opts)
	r.insertLocked(p)
	return p, nil
}

func (r *Router) insertLocked(p *Publisher) {
	if r.target != nil {
		p.bind(r.target)
	}
	r.publishers[p.key] = p
	r.order = append(r.order, p.key)
}

// IncludeRouter absorbs other's routes and publishers under this router's prefix.
// Including the same router twice duplicates its routes; publishers stay unique.
func (r *Router) IncludeRouter(other *Router) error {
	if other == nil {
		return nil
	}
	if other == r {
		return ErrSelfInclude
	}
	if other.dialect.Name() != r.dialect.Name() {
		return fmt.Errorf("%w: %s into %s", ErrDialectMismatch, other.dialect.Name(), r.dialect.Name())
	}

	routes := other.Routes()
	pubs := other.Publishers()

	for _, rt := range routes {
		if _, err := r.subscribe(rt.dest, rt.handler, rt.opts); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pubs {
		d := r.dialect.Prefix(r.prefix, p.dest)
		key := r.dialect.Key(d)
		existing, ok := r.publishers[key]
		if !ok {
			existing = p.derive(d, key)
			r.insertLocked(existing)
		}
		p.forwardTo(existing)
	}
	return nil
}

// IncludeRouters applies IncludeRouter in argument order.
func (r *Router) IncludeRouters(others ...*Router) error {
	for _, o := range others {
		if err := r.IncludeRouter(o); err != nil {
			return err
		}
	}
	return nil
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Publishers returns the registered publishers in registration order.
func (r *Router) Publishers() []*Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Publisher, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.publishers[k])
	}
	return out
}

// LookupPublisher returns the publisher registered under key.
func (r *Router) LookupPublisher(key string) (*Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[key]
	return p, ok
}

// bind attaches every current and future publisher to t.
func (r *Router) bind(t publishTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = t
	for _, p := range r.publishers {
		p.bind(t)
	}
}

func (r *Router) setRouteHook(fn func(Route)) {
	r.mu.Lock()
	r.onRoute = fn
	r.mu.Unlock()
}
