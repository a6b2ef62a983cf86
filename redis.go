// Package redis provides a pipelining Redis client with connection pooling
// and publish/subscribe support on top of the RESP wire protocol.
//
// Call is command-agnostic: it sends whatever arguments are given and
// returns whatever Redis replies, without per-command validation or typed
// wrappers. Callers are responsible for matching argument shape to the
// command they invoke, exactly as with a raw redis-cli session.
package redis

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// DefaultHost is used when an address omits the host part.
const DefaultHost = "localhost"

// DefaultPort is used when an address omits the port part.
const DefaultPort = "6379"

// DefaultConnectTimeout bounds connection establishment, including
// reconnects, when a Client or Pool is not given an explicit value.
const DefaultConnectTimeout = 20 * 1000 // milliseconds, matches the original client's 20s default

// DefaultReadBufferSize sizes the buffered reader on a fresh connection.
// DefaultWriteBufferSize is not read anywhere in this package: outgoing
// commands go through a WriteBuffer, which grows as needed.
const (
	DefaultReadBufferSize  = 64 * 1024
	DefaultWriteBufferSize = 64 * 1024
)

// memoryViewThreshold is the write buffer chunk size at or above which a
// segment is referenced instead of copied into the scatter/gather buffer.
const memoryViewThreshold = 4096

// ErrConnLost signals connection loss while a request was in flight. The
// execution state on the server is unknown: the command may or may not
// have taken effect.
var ErrConnLost = errors.New("redis: connection lost while awaiting response")

// ErrClosed is returned by any call made after Close.
var ErrClosed = errors.New("redis: client closed")

// errProtocol signals a RESP byte stream that doesn't parse.
var errProtocol = errors.New("redis: protocol violation")

// errNull represents the RESP null bulk string / null array.
var errNull = errors.New("redis: null")

// ClientError reports local misuse, as opposed to a ServerError which
// originates from the Redis node itself.
type ClientError string

func (e ClientError) Error() string { return "redis: " + string(e) }

// ServerError is a message sent by Redis in response to a command, e.g.
// "WRONGTYPE Operation against a key holding the wrong kind of value".
type ServerError string

// Error honors the error interface.
func (e ServerError) Error() string {
	return fmt.Sprintf("redis: server error %q", string(e))
}

// Prefix returns the first word, which identifies the error kind, such as
// "ERR" or "WRONGTYPE".
func (e ServerError) Prefix() string {
	s := string(e)
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

// ParseInt reads the decimal text representation Redis uses for integer
// replies. Malformed input yields 0, matching the lenient behaviour the
// original client documents for this helper.
func ParseInt(text []byte) int64 {
	if len(text) == 0 {
		return 0
	}
	v, _ := strconv.ParseInt(string(text), 10, 64)
	return v
}

// isUnixAddr reports whether addr names a filesystem path rather than a
// host:port pair, i.e. a Unix domain socket.
func isUnixAddr(addr string) bool {
	return strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "./")
}

// normalizeAddr fills in DefaultHost/DefaultPort for a TCP address, and
// cleans a filesystem path for a Unix domain socket address.
func normalizeAddr(addr string) string {
	if isUnixAddr(addr) {
		return path.Clean(addr)
	}

	host, port, err := splitHostPort(addr)
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if err != nil && addr != "" && !strings.Contains(addr, ":") {
		host = addr
	}
	return host + ":" + port
}

func splitHostPort(addr string) (host, port string, err error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return addr, "", fmt.Errorf("redis: address %q has no port separator", addr)
	}
	return addr[:i], addr[i+1:], nil
}
