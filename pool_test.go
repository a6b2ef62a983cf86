package redis

import (
	"context"
	"testing"
	"time"
)

func TestPoolLeaseRelease(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, 2, time.Second, time.Second, 0)
	defer pool.Destroy()

	ctx := context.Background()
	lease, err := pool.ConnectedClient(ctx)
	if err != nil {
		t.Fatalf("ConnectedClient: %v", err)
	}
	if _, err := lease.Client().Call(Text("PING")); err != nil {
		t.Fatalf("PING: %v", err)
	}
	lease.Release()
	lease.Release() // double release must be a no-op, not a double semaphore release
}

func TestPoolBoundsConcurrentCheckouts(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, 1, time.Second, time.Second, 0)
	defer pool.Destroy()

	ctx := context.Background()
	first, err := pool.ConnectedClient(ctx)
	if err != nil {
		t.Fatalf("first ConnectedClient: %v", err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.ConnectedClient(blockedCtx); err != context.DeadlineExceeded {
		t.Fatalf("got error %v, want context.DeadlineExceeded while the only slot is leased", err)
	}

	first.Release()

	second, err := pool.ConnectedClient(ctx)
	if err != nil {
		t.Fatalf("ConnectedClient after release: %v", err)
	}
	second.Release()
}

func TestPoolPreconnect(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, 4, time.Second, time.Second, 0)
	defer pool.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Preconnect(ctx, 4); err != nil {
		t.Fatalf("Preconnect: %v", err)
	}
}

func TestPoolUnboundedNeverBlocks(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, -1, time.Second, time.Second, 0)
	defer pool.Destroy()

	ctx := context.Background()
	var leases []*Lease
	for i := 0; i < 5; i++ {
		lease, err := pool.ConnectedClient(ctx)
		if err != nil {
			t.Fatalf("ConnectedClient[%d]: %v", i, err)
		}
		leases = append(leases, lease)
	}
	for _, lease := range leases {
		lease.Release()
	}

	if err := pool.Preconnect(ctx, -1); err == nil {
		t.Fatal("Preconnect(-1) on an unbounded Pool should be a ClientError")
	}
}

func TestPoolGetClientNowait(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, 1, time.Second, time.Second, 0)
	defer pool.Destroy()

	ctx := context.Background()
	first, err := pool.ConnectedClient(ctx)
	if err != nil {
		t.Fatalf("first ConnectedClient: %v", err)
	}

	client, err := pool.GetClientNowait(ctx)
	if err != nil {
		t.Fatalf("GetClientNowait: %v", err)
	}
	if client != nil {
		t.Fatal("got a client from GetClientNowait while the only slot is leased")
	}

	first.Release()

	client, err = pool.GetClientNowait(ctx)
	if err != nil {
		t.Fatalf("GetClientNowait after release: %v", err)
	}
	if client == nil {
		t.Fatal("got no client from GetClientNowait after a permit freed up")
	}
	pool.ReleaseClient(client, false)
}

func TestPoolDestroyClosesIdleClients(t *testing.T) {
	addr := testAddr(t)
	pool := NewPool(addr, 1, time.Second, time.Second, 0)

	lease, err := pool.ConnectedClient(context.Background())
	if err != nil {
		t.Fatalf("ConnectedClient: %v", err)
	}
	lease.Release()

	if err := pool.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := pool.ConnectedClient(context.Background()); err != ErrClosed {
		t.Fatalf("got error %v, want ErrClosed after Destroy", err)
	}
}
