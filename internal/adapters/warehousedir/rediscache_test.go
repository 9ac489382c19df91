package warehousedir

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/pkg/testutil"
)

// countingDirectory wraps the mock directory and counts hits that reach it.
type countingDirectory struct {
	inner *testutil.MockWarehouseDirectory
	calls int
}

func (d *countingDirectory) Warehouse(ctx context.Context, id string) (warehouse.Warehouse, error) {
	d.calls++
	return d.inner.Warehouse(ctx, id)
}

func (d *countingDirectory) Warehouses(ctx context.Context) ([]warehouse.Warehouse, error) {
	d.calls++
	return d.inner.Warehouses(ctx)
}

func TestCachedDirectory_NilClientPassesThrough(t *testing.T) {
	inner := &countingDirectory{inner: testutil.NewMockWarehouseDirectory(
		testutil.ActiveWarehouse("wh-a"),
	)}
	dir := NewCached(inner, nil, 0, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := dir.Warehouses(ctx); err != nil {
			t.Fatalf("warehouses: %v", err)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("inner calls = %d, want 3 without a cache client", inner.calls)
	}

	wh, err := dir.Warehouse(ctx, "wh-a")
	if err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if wh.ID != "wh-a" {
		t.Fatalf("unexpected warehouse: %+v", wh)
	}
}

func TestCachedDirectory_InnerErrorPropagates(t *testing.T) {
	inner := &countingDirectory{inner: testutil.NewMockWarehouseDirectory()}
	dir := NewCached(inner, nil, 0, nil)

	_, err := dir.Warehouse(context.Background(), "wh-ghost")
	if err == nil {
		t.Fatal("expected error for unknown warehouse")
	}
}

func TestCachedDirectory_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	client.Del(ctx, cacheKeyAll, cacheKeyPrefix+"wh-a")

	inner := &countingDirectory{inner: testutil.NewMockWarehouseDirectory(
		testutil.ActiveWarehouse("wh-a"),
		testutil.ActiveWarehouse("wh-b"),
	)}
	dir := NewCached(inner, client, 30*time.Second, nil)

	first, err := dir.Warehouses(ctx)
	if err != nil {
		t.Fatalf("warehouses: %v", err)
	}
	if len(first) != 2 || inner.calls != 1 {
		t.Fatalf("first read: %d warehouses, %d inner calls", len(first), inner.calls)
	}

	second, err := dir.Warehouses(ctx)
	if err != nil {
		t.Fatalf("warehouses from cache: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("cached read returned %d warehouses", len(second))
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1 after cache hit", inner.calls)
	}

	if _, err := dir.Warehouse(ctx, "wh-a"); err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if _, err := dir.Warehouse(ctx, "wh-a"); err != nil {
		t.Fatalf("warehouse from cache: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2 after single-record cache hit", inner.calls)
	}

	// Misses are not cached.
	if _, err := dir.Warehouse(ctx, "wh-ghost"); err == nil {
		t.Fatal("expected error for unknown warehouse")
	}
	if inner.calls != 3 {
		t.Fatalf("inner calls = %d, want 3 after cache miss", inner.calls)
	}

	client.Del(ctx, cacheKeyAll, cacheKeyPrefix+"wh-a")
}
