package redis

import (
	"bufio"
	"strings"
	"testing"
)

func TestPendingRequestDecodeAll(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("+OK\r\n:1\r\n$3\r\nfoo\r\n"))

	replies, err := aggregatingPending(3).decodeAll(r)
	if err != nil {
		t.Fatalf("decodeAll: %v", err)
	}
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	if replies[0].Str != "OK" || replies[1].Int != 1 || string(replies[2].Bulk) != "foo" {
		t.Fatalf("got %+v", replies)
	}
}

func TestPendingRequestDecodeAllStopsOnError(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("+OK\r\n"))

	replies, err := aggregatingPending(2).decodeAll(r)
	if err == nil {
		t.Fatal("got no error for a short stream")
	}
	if len(replies) != 1 {
		t.Fatalf("got %d replies before the error, want 1", len(replies))
	}
}

func TestSinglePending(t *testing.T) {
	p := singlePending()
	if p.kind != pendingSingle || p.count != 1 {
		t.Fatalf("got %+v, want a single pending of count 1", p)
	}
}
