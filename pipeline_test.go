package redis

import (
	"testing"
	"time"
)

func TestPipelineExecute(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	key := randomKey("test")
	defer c.Call(Text("DEL"), Text(key))

	p := NewPipeline(c)
	p.StackCall(Text("RPUSH"), Text(key), Bytes([]byte("a")))
	p.StackCall(Text("RPUSH"), Text(key), Bytes([]byte("b")))
	p.StackCall(Text("LLEN"), Text(key))

	if got := p.StackedCalls(); got != 3 {
		t.Fatalf("got %d stacked calls, want 3", got)
	}

	replies, err := p.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	if replies[0].Int != 1 || replies[1].Int != 2 || replies[2].Int != 2 {
		t.Fatalf("got %+v", replies)
	}

	if got := p.StackedCalls(); got != 0 {
		t.Fatalf("got %d stacked calls after Execute, want 0", got)
	}
}

func TestPipelineExecuteEmpty(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	p := NewPipeline(c)
	replies, err := p.Execute()
	if _, ok := err.(ClientError); !ok || replies != nil {
		t.Fatalf("got (%v, %v), want (nil, ClientError)", replies, err)
	}
}

func TestPipelineDoesNotBlockOtherCallers(t *testing.T) {
	addr := testAddr(t)
	c := NewClient(addr, time.Second, time.Second)
	defer c.Close()

	key := randomKey("test")
	defer c.Call(Text("DEL"), Text(key))

	p := NewPipeline(c)
	for i := 0; i < 20; i++ {
		p.StackCall(Text("RPUSH"), Text(key), Bytes([]byte("x")))
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Execute()
		done <- err
	}()

	if _, err := c.Call(Text("PING")); err != nil {
		t.Errorf("PING while pipeline in flight: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
