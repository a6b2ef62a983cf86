package redis

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"testing"
	"time"
)

func TestParseInt(t *testing.T) {
	for _, v := range []int64{0, -1, 1, math.MinInt64, math.MaxInt64} {
		got := ParseInt([]byte(strconv.FormatInt(v, 10)))
		if got != v {
			t.Errorf("got %d, want %d", got, v)
		}
	}
	if got := ParseInt(nil); got != 0 {
		t.Errorf("got %d for the empty string, want 0", got)
	}
}

func TestNormalizeAddr(t *testing.T) {
	golden := []struct{ Addr, Normal string }{
		{"", "localhost:6379"},
		{":", "localhost:6379"},
		{"test.host", "test.host:6379"},
		{"test.host:", "test.host:6379"},
		{":99", "localhost:99"},
		{"/var/redis/run/redis.sock", "/var/redis/run/redis.sock"},
	}
	for _, gold := range golden {
		if got := normalizeAddr(gold.Addr); got != gold.Normal {
			t.Errorf("got %q for %q, want %q", got, gold.Addr, gold.Normal)
		}
	}
}

func TestServerErrorPrefix(t *testing.T) {
	golden := []struct{ err, prefix string }{
		{"WRONGTYPE Operation against a key", "WRONGTYPE"},
		{"ERR unknown command", "ERR"},
		{"NOPREFIX", "NOPREFIX"},
	}
	for _, gold := range golden {
		if got := ServerError(gold.err).Prefix(); got != gold.prefix {
			t.Errorf("got %q for %q, want %q", got, gold.err, gold.prefix)
		}
	}
}

func randomKey(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, rand.Uint64())
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
