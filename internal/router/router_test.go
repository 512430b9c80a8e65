package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"radius-auth-proxy/internal/adapter"
	"radius-auth-proxy/internal/authcache"
	"radius-auth-proxy/internal/backend/domain"
	"radius-auth-proxy/internal/backend/repository"
	"radius-auth-proxy/internal/mfa"
	mfadomain "radius-auth-proxy/internal/mfa/domain"
	mfarepo "radius-auth-proxy/internal/mfa/repository"
)

// fakeAdapter scripts one backend's behavior and records whether it was
// consulted.
type fakeAdapter struct {
	name   string
	grant  bool
	fail   bool
	attrs  map[string]string
	calls  int
	closed bool
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) Type() domain.Type { return domain.TypeFile }

func (f *fakeAdapter) Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error) {
	f.calls++
	if f.fail {
		return false, nil, adapter.ErrUnavailable
	}
	return f.grant, f.attrs, nil
}

func (f *fakeAdapter) TestConnection(ctx context.Context) (bool, string) { return !f.fail, "fake" }
func (f *fakeAdapter) Close() error                                      { f.closed = true; return nil }

func newTestRouter(adapters ...adapter.Adapter) (*Router, *authcache.Cache) {
	cache := authcache.New(5*time.Minute, 100)
	gate := mfa.NewGate(mfarepo.NewMemoryRepository(), 1)
	r := New(repository.NewMemoryRepository(), cache, gate, time.Second)
	r.chain.Store(newChain(adapters))
	return r, cache
}

func TestRouter_PriorityOrderStopsAtFirstAccept(t *testing.T) {
	first := &fakeAdapter{name: "first"}
	second := &fakeAdapter{name: "second", grant: true, attrs: map[string]string{"Reply-Message": "ok"}}
	third := &fakeAdapter{name: "third", grant: true}
	r, _ := newTestRouter(first, second, third)

	granted, attrs := r.Authenticate(context.Background(), "alice", "pw")
	if !granted {
		t.Fatal("expected accept")
	}
	if attrs["Reply-Message"] != "ok" {
		t.Errorf("attrs = %v, want the accepting backend's attributes", attrs)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d, %d; both leading backends should be consulted", first.calls, second.calls)
	}
	if third.calls != 0 {
		t.Error("chain walked past the accepting backend")
	}
}

func TestRouter_AllUnavailableIsCleanReject(t *testing.T) {
	r, _ := newTestRouter(&fakeAdapter{name: "a", fail: true}, &fakeAdapter{name: "b", fail: true})
	granted, attrs := r.Authenticate(context.Background(), "alice", "pw")
	if granted || attrs != nil {
		t.Errorf("got (%v, %v), want clean reject", granted, attrs)
	}
}

func TestRouter_EmptyChainRejects(t *testing.T) {
	r, _ := newTestRouter()
	if granted, _ := r.Authenticate(context.Background(), "alice", "pw"); granted {
		t.Error("empty chain accepted")
	}
}

func TestRouter_EmptyCredentialsReject(t *testing.T) {
	r, _ := newTestRouter(&fakeAdapter{name: "a", grant: true})
	if granted, _ := r.Authenticate(context.Background(), "", "pw"); granted {
		t.Error("empty identity accepted")
	}
	if granted, _ := r.Authenticate(context.Background(), "alice", ""); granted {
		t.Error("empty credential accepted")
	}
}

func TestRouter_CacheRoundTrip(t *testing.T) {
	backend := &fakeAdapter{name: "a", grant: true, attrs: map[string]string{"Filter-Id": "staff"}}
	r, _ := newTestRouter(backend)
	ctx := context.Background()

	granted, _ := r.Authenticate(ctx, "alice", "pw")
	if !granted {
		t.Fatal("first call rejected")
	}
	granted, attrs := r.Authenticate(ctx, "alice", "pw")
	if !granted {
		t.Fatal("second call rejected")
	}
	if attrs["Filter-Id"] != "staff" {
		t.Errorf("cached attrs = %v", attrs)
	}
	if backend.calls != 1 {
		t.Errorf("backend consulted %d times, want 1 (second call should hit the cache)", backend.calls)
	}

	// A different secret must not ride the cached accept.
	if granted, _ := r.Authenticate(ctx, "alice", "other"); granted {
		t.Error("different secret accepted from cache")
	}
}

func TestRouter_ReloadRebuildsChainAndClearsCache(t *testing.T) {
	backend := &fakeAdapter{name: "a", grant: true}
	r, cache := newTestRouter(backend)
	ctx := context.Background()

	if granted, _ := r.Authenticate(ctx, "alice", "pw"); !granted {
		t.Fatal("seed call rejected")
	}
	if cache.Stats().Entries != 1 {
		t.Fatal("accept not cached")
	}

	if err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cache.Stats().Entries != 0 {
		t.Error("reload did not clear the cache")
	}
	if !backend.closed {
		t.Error("reload did not close the replaced adapter")
	}
	// The store is empty, so the new chain is too.
	if granted, _ := r.Authenticate(ctx, "alice", "pw"); granted {
		t.Error("accepted after reload against an empty store")
	}
	if r.Stats().Backends != 0 {
		t.Errorf("Backends = %d, want 0", r.Stats().Backends)
	}
}

// blockingAdapter parks one Authenticate call mid-walk so reload behavior
// around in-flight requests can be exercised deterministically.
type blockingAdapter struct {
	fakeAdapter
	entered chan struct{}
	proceed chan struct{}
}

func (b *blockingAdapter) Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error) {
	close(b.entered)
	<-b.proceed
	return true, map[string]string{"Reply-Message": "slow"}, nil
}

func TestRouter_ReloadWaitsForInFlightWalk(t *testing.T) {
	backend := &blockingAdapter{
		fakeAdapter: fakeAdapter{name: "slow"},
		entered:     make(chan struct{}),
		proceed:     make(chan struct{}),
	}
	r, _ := newTestRouter(backend)
	ctx := context.Background()

	var granted bool
	done := make(chan struct{})
	go func() {
		granted, _ = r.Authenticate(ctx, "alice", "pw")
		close(done)
	}()
	<-backend.entered

	// The walk is parked inside the old snapshot; reload must not close it.
	if err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if backend.closed {
		t.Fatal("reload closed an adapter with a walk still in flight")
	}

	close(backend.proceed)
	<-done
	if !granted {
		t.Fatal("in-flight request rejected because of a concurrent reload")
	}
	if !backend.closed {
		t.Error("retired adapter not closed after the last walk finished")
	}
}

func TestRouter_ReloadInstantiatesEnabledConfigs(t *testing.T) {
	repo := repository.NewMemoryRepository()
	cache := authcache.New(5*time.Minute, 100)
	gate := mfa.NewGate(mfarepo.NewMemoryRepository(), 1)
	r := New(repo, cache, gate, time.Second)
	ctx := context.Background()

	dir := t.TempDir()
	writeUserFile(t, dir, "alice plain-password")

	enabled := &domain.Config{
		Type: domain.TypeFile, Name: "live", Enabled: true, Priority: 10,
		Settings: map[string]string{"path": dir + "/users", "digestScheme": "plain"},
	}
	disabled := &domain.Config{
		Type: domain.TypeFile, Name: "dormant", Enabled: false, Priority: 20,
		Settings: map[string]string{"path": dir + "/users", "digestScheme": "plain"},
	}
	for _, cfg := range []*domain.Config{enabled, disabled} {
		if err := repo.Create(ctx, cfg); err != nil {
			t.Fatalf("Create %s: %v", cfg.Name, err)
		}
	}

	if err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := r.Stats().Backends; got != 1 {
		t.Fatalf("Backends = %d, want only the enabled config", got)
	}
	if granted, _ := r.Authenticate(ctx, "alice", "plain-password"); !granted {
		t.Error("file backend built by reload rejected valid credentials")
	}
}

func TestRouter_MFAShortCircuit(t *testing.T) {
	backend := &fakeAdapter{name: "a", grant: true}
	enrollRepo := mfarepo.NewMemoryRepository()
	key, err := mfa.GenerateKey("test", "alice")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := enrollRepo.Upsert(context.Background(), &mfadomain.Enrollment{
		Identity: "alice", Enabled: true, Secret: key.Secret(),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cache := authcache.New(5*time.Minute, 100)
	r := New(repository.NewMemoryRepository(), cache, mfa.NewGate(enrollRepo, 1), time.Second)
	r.chain.Store(newChain([]adapter.Adapter{backend}))

	if granted, _ := r.Authenticate(context.Background(), "alice", "pw000000"); granted {
		t.Error("wrong code accepted")
	}
	if backend.calls != 0 {
		t.Error("backend consulted despite MFA rejection")
	}
}

func TestRouter_TestBackend(t *testing.T) {
	r, _ := newTestRouter()
	dir := t.TempDir()
	writeUserFile(t, dir, "alice plain-password")
	settings := map[string]string{"path": dir + "/users", "digestScheme": "plain"}
	ctx := context.Background()

	ok, msg := r.TestBackend(ctx, domain.TypeFile, settings, "", "")
	if !ok {
		t.Fatalf("connection-only probe failed: %s", msg)
	}

	ok, msg = r.TestBackend(ctx, domain.TypeFile, settings, "alice", "plain-password")
	if !ok {
		t.Errorf("probe with valid credentials failed: %s", msg)
	}
	if ok, _ := r.TestBackend(ctx, domain.TypeFile, settings, "alice", "wrong"); ok {
		t.Error("probe with wrong credentials reported success")
	}
	if ok, _ := r.TestBackend(ctx, domain.TypeFile, map[string]string{}, "", ""); ok {
		t.Error("probe with invalid settings reported success")
	}
}

func writeUserFile(t *testing.T, dir, line string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "users"), []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write user file: %v", err)
	}
}
