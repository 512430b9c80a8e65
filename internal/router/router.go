// Package router walks the ordered backend chain to answer a single
// question: is this identity/credential pair good, and if so, which reply
// attributes go back to the network access server.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"radius-auth-proxy/internal/adapter"
	"radius-auth-proxy/internal/authcache"
	"radius-auth-proxy/internal/backend/domain"
	"radius-auth-proxy/internal/backend/repository"
	"radius-auth-proxy/internal/mfa"
)

// chain is an immutable snapshot of the live adapters, already in priority
// order. Reload swaps the whole snapshot so in-flight requests never see a
// half-rebuilt list.
//
// Snapshots are reference-counted: the router holds one reference while the
// chain is current, and every in-flight walk holds one. Adapter resources
// are released when the count drains to zero, so a reload never closes a
// pool out from under a request still walking the old snapshot.
type chain struct {
	adapters []adapter.Adapter
	refs     atomic.Int64
}

func newChain(adapters []adapter.Adapter) *chain {
	c := &chain{adapters: adapters}
	c.refs.Store(1)
	return c
}

// acquire takes a reference. It fails only when the snapshot has already
// drained, which can only happen after the router pointer moved on.
func (c *chain) acquire() bool {
	for {
		n := c.refs.Load()
		if n == 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference; the last one out closes the adapters.
func (c *chain) release() {
	if c.refs.Add(-1) > 0 {
		return
	}
	for _, a := range c.adapters {
		if closer, ok := a.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("router: close backend %s: %v", a.Name(), err)
			}
		}
	}
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	Backends int
	Cache    authcache.Stats
}

// Router screens credentials through the MFA gate, consults the cache, and
// walks enabled adapters in priority order until one accepts.
type Router struct {
	repo    repository.Repository
	cache   *authcache.Cache
	gate    *mfa.Gate
	timeout time.Duration
	chain   atomic.Pointer[chain]
}

// New returns a Router with an empty chain. Call Reload to populate it from
// the configuration store.
func New(repo repository.Repository, cache *authcache.Cache, gate *mfa.Gate, adapterTimeout time.Duration) *Router {
	r := &Router{repo: repo, cache: cache, gate: gate, timeout: adapterTimeout}
	r.chain.Store(newChain(nil))
	return r
}

// snapshot returns the current chain with a reference held. The loop covers
// the window where a reload retires a snapshot between the load and the
// acquire; the reload has already published its replacement by then.
func (r *Router) snapshot() *chain {
	for {
		c := r.chain.Load()
		if c.acquire() {
			return c
		}
	}
}

// Authenticate decides the request. The result is deliberately a bare
// boolean plus attributes: backend outages, wrong credentials, and MFA
// failures are indistinguishable to the caller so the response cannot be
// used to enumerate usernames or probe the backend layout.
func (r *Router) Authenticate(ctx context.Context, identity, credential string) (bool, map[string]string) {
	if identity == "" || credential == "" {
		return false, nil
	}

	base, ok := r.gate.Screen(ctx, identity, credential)
	if !ok {
		return false, nil
	}

	if attrs, hit := r.cache.Get(identity, base); hit {
		return true, attrs
	}

	snapshot := r.snapshot()
	defer snapshot.release()
	for _, a := range snapshot.adapters {
		granted, attrs, err := r.callAdapter(ctx, a, identity, base)
		if err != nil {
			log.Printf("router: backend %s (%s): %v", a.Name(), a.Type(), err)
			continue
		}
		if !granted {
			continue
		}
		r.cache.Set(identity, base, attrs)
		return true, attrs
	}
	return false, nil
}

// callAdapter bounds one adapter call so a wedged identity source cannot
// stall the chain.
func (r *Router) callAdapter(ctx context.Context, a adapter.Adapter, identity, secret string) (bool, map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	granted, attrs, err := a.Authenticate(ctx, identity, secret)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && err != nil {
		return false, nil, fmt.Errorf("%w: timed out after %s", adapter.ErrUnavailable, r.timeout)
	}
	return granted, attrs, err
}

// Reload rebuilds the chain from the enabled configurations in the store
// and clears the cache. Adapters from the previous chain that hold
// resources are closed once the swap is done.
func (r *Router) Reload(ctx context.Context) error {
	configs, err := r.repo.List(ctx, true)
	if err != nil {
		return fmt.Errorf("load backend configs: %w", err)
	}

	adapters := make([]adapter.Adapter, 0, len(configs))
	for _, cfg := range configs {
		a, err := adapter.New(cfg)
		if err != nil {
			// One bad config must not take down the rest of the chain.
			log.Printf("router: skipping backend %s: %v", cfg.Name, err)
			continue
		}
		adapters = append(adapters, a)
	}

	old := r.chain.Swap(newChain(adapters))
	r.cache.Clear()
	// Drops the router's reference; the old adapters close once any walks
	// still on that snapshot finish.
	old.release()
	log.Printf("router: chain reloaded with %d backends", len(adapters))
	return nil
}

// TestBackend instantiates a throwaway adapter from type and settings and
// probes it, without touching the live chain or the cache. When test
// credentials are supplied and the connection probe passes, one
// authentication round-trip is attempted as well.
func (r *Router) TestBackend(ctx context.Context, backendType domain.Type, settings map[string]string, testIdentity, testSecret string) (bool, string) {
	a, err := adapter.New(&domain.Config{Type: backendType, Name: "diagnostic", Settings: settings})
	if err != nil {
		return false, fmt.Sprintf("invalid settings: %v", err)
	}
	defer func() {
		if c, ok := a.(io.Closer); ok {
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, detail := a.TestConnection(ctx)
	if !ok {
		return false, detail
	}
	if testIdentity == "" {
		return true, detail
	}

	granted, _, err := a.Authenticate(ctx, testIdentity, testSecret)
	if err != nil {
		return false, fmt.Sprintf("%s; test authentication errored: %v", detail, err)
	}
	if !granted {
		return false, fmt.Sprintf("%s; test credentials rejected", detail)
	}
	return true, fmt.Sprintf("%s; test credentials accepted", detail)
}

// Stats reports the current chain size and cache counters.
func (r *Router) Stats() Stats {
	return Stats{
		Backends: len(r.chain.Load().adapters),
		Cache:    r.cache.Stats(),
	}
}
