package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

// deadURL returns the URL of a Redis instance that is no longer listening.
func deadURL(t *testing.T) URL {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	return URL("redis://" + addr + "/0")
}

func newPool(t *testing.T, configs []StoreConfig, opts ...Option) *Pool {
	t.Helper()
	p, err := New(context.Background(), configs, opts...)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestQuorum(t *testing.T) {
	want := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 6: 4, 7: 4}
	for n, q := range want {
		if got := Quorum(n); got != q {
			t.Fatalf("quorum(%d) = %d, want %d", n, got, q)
		}
	}
}

func TestNewComputesQuorumFromConfigs(t *testing.T) {
	var configs []StoreConfig
	for i := 0; i < 5; i++ {
		configs = append(configs, URL("redis://"+newMiniredis(t).Addr()))
	}
	p := newPool(t, configs)
	if p.Size() != 5 || p.Connected() != 5 || p.Quorum() != 3 {
		t.Fatalf("size %d connected %d quorum %d", p.Size(), p.Connected(), p.Quorum())
	}
}

func TestNewNoStores(t *testing.T) {
	if _, err := New(context.Background(), nil); !errors.Is(err, rlerrors.ErrNoStores) {
		t.Fatalf("expected ErrNoStores, got %v", err)
	}
}

func TestNewUnresolvableConfig(t *testing.T) {
	_, err := New(context.Background(), []StoreConfig{URL("cat://hog")})
	if !errors.Is(err, rlerrors.ErrCannotObtainLock) {
		t.Fatalf("expected ErrCannotObtainLock, got %v", err)
	}
	if !errors.Is(err, rlerrors.ErrInvalidConfig) {
		t.Fatalf("expected wrapped ErrInvalidConfig, got %v", err)
	}
}

func TestNewInvalidParams(t *testing.T) {
	for _, p := range []Params{{Port: 70000}, {Port: -1}, {DB: -2}} {
		_, err := New(context.Background(), []StoreConfig{p})
		if !errors.Is(err, rlerrors.ErrInvalidConfig) {
			t.Fatalf("params %+v: expected ErrInvalidConfig, got %v", p, err)
		}
	}
}

func TestNewStrictToleratesMinority(t *testing.T) {
	configs := []StoreConfig{
		URL("redis://" + newMiniredis(t).Addr()),
		URL("redis://" + newMiniredis(t).Addr()),
		deadURL(t),
	}
	p := newPool(t, configs)
	if p.Connected() != 2 || p.Quorum() != 2 {
		t.Fatalf("connected %d quorum %d", p.Connected(), p.Quorum())
	}
}

func TestNewStrictKeepsUnreachableStores(t *testing.T) {
	down := newMiniredis(t)
	down.Close()
	p := newPool(t, []StoreConfig{
		URL("redis://" + newMiniredis(t).Addr()),
		URL("redis://" + newMiniredis(t).Addr()),
		URL("redis://" + down.Addr()),
	})
	if p.Size() != 3 || p.Connected() != 2 {
		t.Fatalf("size %d connected %d", p.Size(), p.Connected())
	}
	ctx := context.Background()

	out, err := p.TrySetAll(ctx, "first", "tok", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if out.Succeeded != 2 || len(out.Errors) != 1 {
		t.Fatalf("succeeded %d errors %v", out.Succeeded, out.Errors)
	}

	if err := down.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	out, err = p.TrySetAll(ctx, "second", "tok", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if out.Succeeded != 3 || len(out.Errors) != 0 {
		t.Fatalf("recovered store not used: succeeded %d errors %v", out.Succeeded, out.Errors)
	}
	if v, _ := down.Get("second"); v != "tok" {
		t.Fatalf("expected token on recovered store, got %q", v)
	}
}

func TestNewStrictKeepsMisconfiguredStore(t *testing.T) {
	p := newPool(t, []StoreConfig{
		URL("redis://" + newMiniredis(t).Addr()),
		URL("redis://" + newMiniredis(t).Addr()),
		URL("cat://hog"),
	})
	out, err := p.TrySetAll(context.Background(), "k", "v", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if out.Succeeded != 2 || len(out.Errors) != 1 {
		t.Fatalf("succeeded %d errors %v", out.Succeeded, out.Errors)
	}
	if !errors.Is(out.Errors[0], rlerrors.ErrInvalidConfig) || !errors.Is(out.Errors[0], rlerrors.ErrStoreUnavailable) {
		t.Fatalf("unexpected store error %v", out.Errors[0])
	}
}

func TestNewStrictFailsBelowQuorum(t *testing.T) {
	configs := []StoreConfig{
		URL("redis://" + newMiniredis(t).Addr()),
		deadURL(t),
		deadURL(t),
	}
	_, err := New(context.Background(), configs)
	if !errors.Is(err, rlerrors.ErrCannotObtainLock) {
		t.Fatalf("expected ErrCannotObtainLock, got %v", err)
	}
	if !errors.Is(err, rlerrors.ErrStoreUnavailable) {
		t.Fatalf("expected wrapped ErrStoreUnavailable, got %v", err)
	}
}

func TestNewFailFast(t *testing.T) {
	configs := []StoreConfig{
		URL("redis://" + newMiniredis(t).Addr()),
		URL("redis://" + newMiniredis(t).Addr()),
		deadURL(t),
	}
	_, err := New(context.Background(), configs, WithMode(FailFast))
	if !errors.Is(err, rlerrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, rlerrors.ErrCannotObtainLock) {
		t.Fatalf("fail fast should not report quorum failure: %v", err)
	}
}

func TestNewWithoutPingKeepsDeadStores(t *testing.T) {
	p := newPool(t, []StoreConfig{deadURL(t)}, WithoutPing())
	if p.Connected() != 1 {
		t.Fatalf("expected dead store kept, connected %d", p.Connected())
	}
}

func TestTrySetAllRejectsBadTTL(t *testing.T) {
	mem := NewMemoryStore()
	p := newPool(t, []StoreConfig{Handle{Store: mem}})
	for _, ttl := range []time.Duration{0, -time.Second, 1500 * time.Microsecond} {
		if _, err := p.TrySetAll(context.Background(), "k", "v", ttl); !errors.Is(err, rlerrors.ErrInvalidTTL) {
			t.Fatalf("ttl %v: expected ErrInvalidTTL, got %v", ttl, err)
		}
	}
	if _, ok := mem.Get("k"); ok {
		t.Fatal("store written despite invalid ttl")
	}
}

func TestFanOutCollectsStoreErrors(t *testing.T) {
	live1 := newMiniredis(t)
	live2 := newMiniredis(t)
	p := newPool(t, []StoreConfig{
		URL("redis://" + live1.Addr()),
		URL("redis://" + live2.Addr()),
		deadURL(t),
	}, WithoutPing())
	ctx := context.Background()

	out, err := p.TrySetAll(ctx, "res", "tok", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if out.Succeeded != 2 || len(out.Errors) != 1 {
		t.Fatalf("succeeded %d errors %v", out.Succeeded, out.Errors)
	}
	if v, _ := live1.Get("res"); v != "tok" {
		t.Fatalf("expected token stored, got %q", v)
	}

	out = p.CompareDeleteAll(ctx, "res", "other")
	if out.Succeeded != 0 || len(out.Errors) != 1 {
		t.Fatalf("mismatched delete: succeeded %d errors %v", out.Succeeded, out.Errors)
	}
	out = p.CompareDeleteAll(ctx, "res", "tok")
	if out.Succeeded != 2 {
		t.Fatalf("expected 2 deletions, got %d", out.Succeeded)
	}
	if live1.Exists("res") || live2.Exists("res") {
		t.Fatal("keys not deleted")
	}
}

func TestFanOutIsBoundedByOpTimeout(t *testing.T) {
	slow := &blockingStore{}
	p := newPool(t, []StoreConfig{Handle{Store: NewMemoryStore()}, Handle{Store: slow}},
		WithOpTimeout(20*time.Millisecond))
	start := time.Now()
	out, err := p.TrySetAll(context.Background(), "k", "v", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("fan-out waited on the blocked store")
	}
	if out.Succeeded != 1 || len(out.Errors) != 1 || !errors.Is(out.Errors[0], context.DeadlineExceeded) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !errors.Is(out.Errors[0], rlerrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", out.Errors[0])
	}
}

func TestFanOutCallerCancelIsNotTimeout(t *testing.T) {
	p := newPool(t, []StoreConfig{Handle{Store: blockingStore{}}}, WithOpTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := p.TrySetAll(ctx, "k", "v", time.Second)
	if err != nil {
		t.Fatalf("try set all: %v", err)
	}
	if len(out.Errors) != 1 || !errors.Is(out.Errors[0], context.Canceled) || errors.Is(out.Errors[0], rlerrors.ErrTimeout) {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

// blockingStore never answers before its context ends.
type blockingStore struct{}

func (blockingStore) TrySet(ctx context.Context, _, _ string, _ time.Duration) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingStore) CompareDelete(ctx context.Context, _, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingStore) Close() error { return nil }
