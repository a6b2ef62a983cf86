package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// testAddr returns the address of a live Redis node to exercise, or skips
// the calling test when none is configured. Tests insert, modify and
// delete data under randomized keys, same caution as upstream: point
// TEST_REDIS_ADDR at a disposable instance.
func testAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to a test Redis node to run this test")
	}
	return addr
}

func TestClientCallSetGet(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	key := randomKey("test")
	if _, err := c.Call(Text("SET"), Text(key), Bytes([]byte("abc"))); err != nil {
		t.Fatalf("SET: %v", err)
	}

	reply, err := c.Call(Text("GET"), Text(key))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if reply.Type != BulkReply || string(reply.Bulk) != "abc" {
		t.Fatalf("got %+v, want bulk \"abc\"", reply)
	}

	if _, err := c.Call(Text("DEL"), Text(key)); err != nil {
		t.Fatalf("DEL: %v", err)
	}
}

func TestClientCallServerError(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	key := randomKey("test")
	if _, err := c.Call(Text("SET"), Text(key), Bytes([]byte("abc"))); err != nil {
		t.Fatalf("SET: %v", err)
	}
	defer c.Call(Text("DEL"), Text(key))

	_, err := c.Call(Text("LPUSH"), Text(key), Bytes([]byte("x")))
	var serverErr ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("got error %v, want a ServerError", err)
	}
	if got := serverErr.Prefix(); got != "WRONGTYPE" {
		t.Errorf("got prefix %q, want WRONGTYPE", got)
	}
}

func TestClientCallRejectsEmptyArgs(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	if _, err := c.Call(); err == nil {
		t.Fatal("got no error calling with zero arguments")
	}
}

func TestClientConcurrentPipelining(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	const n = 50
	key := randomKey("test")
	defer c.Call(Text("DEL"), Text(key))

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Call(Text("RPUSH"), Text(key), Bytes([]byte("x")))
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("RPUSH: %v", err)
		}
	}

	reply, err := c.Call(Text("LLEN"), Text(key))
	if err != nil {
		t.Fatalf("LLEN: %v", err)
	}
	if reply.Int != n {
		t.Errorf("got length %d, want %d", reply.Int, n)
	}
}

func TestClientAsyncCall(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	key := randomKey("test")
	done := make(chan error, 1)
	c.AsyncCall(func(reply Reply, err error) {
		done <- err
	}, Text("SET"), Text(key), Bytes([]byte("v")))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AsyncCall SET: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AsyncCall did not complete in time")
	}
	c.Call(Text("DEL"), Text(key))
}

func TestClientConnect(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	status, _, _ := c.State().Get()
	if status != Connected {
		t.Fatalf("got status %v, want Connected", status)
	}
}

func TestClientIsConnected(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("got IsConnected() false right after a successful Connect")
	}
}

func TestClientUnavailable(t *testing.T) {
	c := NewClient("doesnotexist.example.invalid:70", 0, 100*time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("got no error connecting to an unreachable address")
	}
}

func TestClientClosed(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	c.Close()

	_, err := c.Call(Text("PING"))
	if err != ErrClosed {
		t.Errorf("got error %v, want ErrClosed", err)
	}
}
