package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/archon-research/token-cache/internal/ports/outbound"
	"github.com/archon-research/token-cache/internal/testutil"
)

func countingFactory(value string, calls *atomic.Int32) Factory[string] {
	return func(context.Context, string) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestNewEngine_RequiresBackends(t *testing.T) {
	if _, err := NewEngine[string](); !errors.Is(err, ErrNoBackends) {
		t.Errorf("err = %v, want ErrNoBackends", err)
	}
	if _, err := NewEngine[string](nil); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestEngine_PrimaryHitSkipsFactory(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	secondary := testutil.NewMockStorage[string]()
	primary.Seed("k", "cached")

	engine, err := NewEngine[string](primary, secondary)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var calls atomic.Int32
	v, err := engine.GetOrAdd(context.Background(), "k", countingFactory("fresh", &calls))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if v != "cached" {
		t.Errorf("value = %q, want cached", v)
	}
	if calls.Load() != 0 {
		t.Errorf("factory calls = %d, want 0", calls.Load())
	}
	if secondary.TryGetCalls != 0 {
		t.Errorf("secondary consulted %d times on a primary hit", secondary.TryGetCalls)
	}
}

func TestEngine_SecondaryHitBackfillsPrimary(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	secondary := testutil.NewMockStorage[string]()
	secondary.Seed("k", "durable")

	engine, _ := NewEngine[string](primary, secondary)

	var calls atomic.Int32
	v, err := engine.GetOrAdd(context.Background(), "k", countingFactory("fresh", &calls))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if v != "durable" {
		t.Errorf("value = %q, want durable", v)
	}
	if calls.Load() != 0 {
		t.Errorf("factory calls = %d, want 0", calls.Load())
	}
	if got, ok := primary.Get("k"); !ok || got != "durable" {
		t.Errorf("primary = (%q, %v), want backfilled durable", got, ok)
	}
	if secondary.StoreCalls != 0 {
		t.Errorf("secondary written %d times, want 0", secondary.StoreCalls)
	}
}

func TestEngine_MissInvokesFactoryOnceAndStoresPrimary(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	secondary := testutil.NewMockStorage[string]()
	engine, _ := NewEngine[string](primary, secondary)

	var calls atomic.Int32
	v, err := engine.GetOrAdd(context.Background(), "k", countingFactory("fresh", &calls))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if v != "fresh" {
		t.Errorf("value = %q, want fresh", v)
	}
	if calls.Load() != 1 {
		t.Errorf("factory calls = %d, want 1", calls.Load())
	}
	if got, ok := primary.Get("k"); !ok || got != "fresh" {
		t.Errorf("primary = (%q, %v), want fresh", got, ok)
	}
	if secondary.Len() != 0 {
		t.Errorf("secondary has %d items, want 0", secondary.Len())
	}

	// The second lookup is served from the primary tier.
	if _, err := engine.GetOrAdd(context.Background(), "k", countingFactory("other", &calls)); err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("factory calls after second lookup = %d, want 1", calls.Load())
	}
}

func TestEngine_FactoryErrorStoresNothing(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	engine, _ := NewEngine[string](primary)

	factoryErr := errors.New("origin down")
	_, err := engine.GetOrAdd(context.Background(), "k", func(context.Context, string) (string, error) {
		return "", factoryErr
	})
	if !errors.Is(err, factoryErr) {
		t.Errorf("err = %v, want factory error", err)
	}
	if primary.StoreCalls != 0 {
		t.Errorf("StoreCalls = %d, want 0", primary.StoreCalls)
	}
}

func TestEngine_TierErrorPropagates(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	secondary := testutil.NewMockStorage[string]()
	secondary.TryGetFn = func(context.Context, string) (string, bool, error) {
		return "", false, outbound.ErrBackendUnavailable
	}
	engine, _ := NewEngine[string](primary, secondary)

	var calls atomic.Int32
	_, err := engine.GetOrAdd(context.Background(), "k", countingFactory("fresh", &calls))
	if !errors.Is(err, outbound.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
	if calls.Load() != 0 {
		t.Errorf("factory calls = %d, want 0", calls.Load())
	}
}

func TestEngine_BackfillErrorPropagates(t *testing.T) {
	storeErr := errors.New("write failed")
	primary := testutil.NewMockStorage[string]()
	primary.StoreFn = func(context.Context, string, string) error { return storeErr }
	secondary := testutil.NewMockStorage[string]()
	secondary.Seed("k", "durable")

	engine, _ := NewEngine[string](primary, secondary)
	if _, err := engine.GetOrAdd(context.Background(), "k", nil); !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want store error", err)
	}
}

func TestEngine_StoreWritesEveryTierLastFirst(t *testing.T) {
	var order []string
	tier := func(name string) *testutil.MockStorage[string] {
		m := testutil.NewMockStorage[string]()
		m.StoreFn = func(context.Context, string, string) error {
			order = append(order, name)
			return nil
		}
		return m
	}
	a, b, c := tier("a"), tier("b"), tier("c")
	engine, _ := NewEngine[string](a, b, c)

	if err := engine.Store(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(order) != 3 || order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Errorf("store order = %v, want [c b a]", order)
	}
	for name, m := range map[string]*testutil.MockStorage[string]{"a": a, "b": b, "c": c} {
		if v, ok := m.Get("k"); !ok || v != "v" {
			t.Errorf("tier %s = (%q, %v)", name, v, ok)
		}
	}
}

func TestEngine_StoreStopsAtFailingTier(t *testing.T) {
	storeErr := errors.New("durable rejected")
	primary := testutil.NewMockStorage[string]()
	durable := testutil.NewMockStorage[string]()
	durable.StoreFn = func(context.Context, string, string) error { return storeErr }

	engine, _ := NewEngine[string](primary, durable)
	if err := engine.Store(context.Background(), "k", "v"); !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want store error", err)
	}
	if primary.Len() != 0 {
		t.Error("primary written although the durable tier rejected the value")
	}
}

func TestEngine_ComposesAsTier(t *testing.T) {
	memory := testutil.NewMockStorage[string]()
	redis := testutil.NewMockStorage[string]()
	dynamo := testutil.NewMockStorage[string]()
	dynamo.Seed("k", "deep")

	durable, _ := NewEngine[string](redis, dynamo)
	outer, _ := NewEngine[string](memory, durable)

	v, err := outer.GetOrAdd(context.Background(), "k", nil)
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if v != "deep" {
		t.Errorf("value = %q, want deep", v)
	}
	if _, ok := redis.Get("k"); !ok {
		t.Error("inner primary tier was not backfilled")
	}
	if _, ok := memory.Get("k"); !ok {
		t.Error("outer primary tier was not backfilled")
	}
	if outer.Tiers() != 2 {
		t.Errorf("Tiers() = %d, want 2", outer.Tiers())
	}
}

func TestEngine_LookupReportsTier(t *testing.T) {
	primary := testutil.NewMockStorage[string]()
	secondary := testutil.NewMockStorage[string]()
	secondary.Seed("deep", "v")
	engine, _ := NewEngine[string](primary, secondary)
	ctx := context.Background()

	if _, tier, err := engine.Lookup(ctx, "missing"); err != nil || tier != -1 {
		t.Errorf("miss: tier = %d, err = %v, want -1 nil", tier, err)
	}
	if _, tier, _ := engine.Lookup(ctx, "deep"); tier != 1 {
		t.Errorf("first lookup tier = %d, want 1", tier)
	}
	if _, tier, _ := engine.Lookup(ctx, "deep"); tier != 0 {
		t.Errorf("second lookup tier = %d, want 0 after backfill", tier)
	}
}
