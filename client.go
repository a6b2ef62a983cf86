package redis

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"
)

// Client multiplexes command invocations over one Connection. Concurrent
// callers pipeline automatically: each Call's bytes are written while
// holding the connection's write lock, and its replies are read in the
// same order the writes happened, exactly as
// <https://redis.io/topics/pipelining> describes.
//
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	conn           *Connection
	commandTimeout time.Duration

	subscribed atomic.Bool
}

// NewClient starts a managed connection to addr. The host defaults to
// localhost and the port to 6379, so the empty string means
// "localhost:6379"; an absolute path (e.g. "/var/run/redis.sock") dials
// a Unix domain socket instead.
//
// commandTimeout bounds each call's round trip when nonzero; expiry drops
// the connection (to discard a socket that may be stuck) and the call
// returns a net.Error with Timeout() true. dialTimeout bounds connection
// establishment, including reconnects; zero defaults to
// DefaultConnectTimeout (20 seconds).
func NewClient(addr string, commandTimeout, dialTimeout time.Duration) *Client {
	return newClient(ConnConfig{Addr: addr, ConnectTimeout: dialTimeout}, commandTimeout)
}

// newClient is the shared constructor behind NewClient; Pool uses it
// directly so it can set a sticky password at construction time instead
// of racing the dial loop's first attempt via AUTH.
func newClient(cfg ConnConfig, commandTimeout time.Duration) *Client {
	return &Client{
		conn:           NewConnection(cfg),
		commandTimeout: commandTimeout,
	}
}

// Addr is the normalized node address in use.
func (c *Client) Addr() string { return c.conn.cfg.Addr }

// AUTH sets the sticky password used on this connection and any future
// automatic reconnect. It does not itself issue AUTH on an already
// established socket; reconnect does that.
func (c *Client) AUTH(password []byte) { c.conn.SetPassword(password) }

// SELECT sets the sticky database index, with the same reconnect-time
// application as AUTH.
func (c *Client) SELECT(db int64) { c.conn.SetDB(db) }

// Connect blocks until the underlying connection is established, ctx is
// done, or the Client is closed.
func (c *Client) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

// State reports the underlying connection's lifecycle.
func (c *Client) State() *ConnectionState { return c.conn.State() }

// IsConnected reports whether the underlying connection is currently
// usable. It is a snapshot: the answer may be stale by the time a caller
// acts on it, the same caveat the original's is_connected() carries.
func (c *Client) IsConnected() bool {
	status, _, _ := c.conn.state.Get()
	return status == Connected
}

// Close issues QUIT when currently connected (ignoring its reply, since
// the connection closes regardless) and then tears down the connection
// permanently. Calling Close more than once has no effect.
func (c *Client) Close() error {
	if status, _, _ := c.conn.state.Get(); status == Connected {
		c.quit()
	}
	return c.conn.Close()
}

func (c *Client) quit() {
	wb := NewWriteBuffer()
	encodeCommandBuffered(wb, []Argument{Text("QUIT")})
	r, _, err := c.exchange(wb)
	if err != nil {
		return
	}
	decodeReply(r)
	c.conn.passRead(r, true)
}

// Call sends a command built from args and returns Redis's reply. It is
// command-agnostic: Call neither knows nor validates which command is
// being sent, so any command name and any argument shape Redis accepts
// works without a typed wrapper. A Redis error reply is returned as a
// ServerError.
//
// Call rejects invocation once the Client has been put into
// subscribe/publish mode via SubscribedClient.Subscribe; use that
// SubscribedClient for further pub/sub operations instead.
func (c *Client) Call(args ...Argument) (Reply, error) {
	if c.subscribed.Load() {
		return Reply{}, ClientError("Call is unavailable while subscribed; use SubscribedClient")
	}
	if len(args) == 0 {
		return Reply{}, ClientError("Call requires at least a command name argument")
	}

	wb := NewWriteBuffer()
	encodeCommandBuffered(wb, args)
	r, _, err := c.exchange(wb)
	if err != nil {
		return Reply{}, err
	}

	replies, err := singlePending().decodeAll(r)
	c.conn.passRead(r, err == nil)
	if err != nil {
		return Reply{}, err
	}
	if replies[0].Type == ErrorReply {
		return Reply{}, ServerError(replies[0].Str)
	}
	return replies[0], nil
}

// AsyncCall runs Call in a new goroutine and invokes done with its
// result once available. It is the fire-and-forget counterpart to Call
// for callers that do not want to block on the round trip.
func (c *Client) AsyncCall(done func(Reply, error), args ...Argument) {
	go func() {
		reply, err := c.Call(args...)
		done(reply, err)
	}()
}

// exchange writes buf while holding the connection's write lock, then
// claims (or queues for) the read turn that will produce the reply
// bytes. It is shared by Call and Pipeline.Execute, which differ only
// in how many replies they decode once they own that turn — Call
// decodes one, Pipeline.Execute decodes pendingRequest.count via
// decodeAll.
func (c *Client) exchange(buf *WriteBuffer) (*bufio.Reader, net.Conn, error) {
	l := c.conn.acquireWrite()
	if l.offline != nil {
		c.conn.releaseWrite(l)
		return nil, nil, l.offline
	}

	if c.commandTimeout != 0 {
		l.conn.SetWriteDeadline(time.Now().Add(c.commandTimeout))
	}
	if err := buf.WriteTo(l.conn); err != nil {
		c.conn.reconnect(l)
		return nil, nil, err
	}

	reader := l.idle
	var recvCh chan *bufio.Reader
	if reader != nil {
		l.idle = nil
	} else {
		ch := make(chan *bufio.Reader, 1)
		c.conn.queueRead(ch)
		recvCh = ch
	}
	conn := l.conn
	c.conn.releaseWrite(l)

	if reader == nil {
		reader = <-recvCh
		if reader == nil {
			return nil, nil, ErrConnLost
		}
	}
	if c.commandTimeout != 0 {
		conn.SetReadDeadline(time.Now().Add(c.commandTimeout))
	}
	return reader, conn, nil
}
