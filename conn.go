package redis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// dialDelayMax caps the backoff between automatic reconnect attempts.
const dialDelayMax = 500 * time.Millisecond

// connQueueSizeTCP and connQueueSizeUnix bound how many requests may be
// queued for their read turn at once; Unix domain sockets get a larger
// allowance since they typically serve a single trusted process.
const (
	connQueueSizeTCP  = 128
	connQueueSizeUnix = 512
)

// ConnConfig holds the sticky settings a Connection (re)applies to every
// socket it opens, before handing the socket back as usable.
type ConnConfig struct {
	Addr           string
	Password       []byte
	DB             int64
	ConnectTimeout time.Duration
	ReadBufferSize int
}

// link is the live state behind the write-lock token. A nil conn means
// the Connection is offline; offline then names the reason.
type link struct {
	conn    net.Conn
	offline error
	idle    *bufio.Reader // set when no read routine currently owns this link
}

// Connection owns one Redis socket plus its automatic-reconnect loop. It
// exposes the write lock and read-ownership baton that Client uses to
// multiplex pipelined requests; Connection itself knows nothing about
// RESP framing or replies, only about bytes and who currently may read
// them, the same separation the original's event loop keeps between
// socket readiness and command/response matching.
type Connection struct {
	cfg   ConnConfig
	state *ConnectionState

	// sticky AUTH/SELECT, re-applied on every dial attempt including
	// automatic reconnects
	password atomic.Value // []byte
	db       atomic.Int64

	writeLock chan *link
	readQueue chan chan<- *bufio.Reader
	readTerm  chan struct{}

	closed chan struct{}
}

// SetPassword updates the sticky AUTH credential. It takes effect on the
// next connection attempt, including an automatic reconnect; it does not
// re-authenticate an already-established socket.
func (c *Connection) SetPassword(password []byte) { c.password.Store(password) }

// SetDB updates the sticky SELECTed database index, with the same timing
// as SetPassword.
func (c *Connection) SetDB(db int64) { c.db.Store(db) }

// NewConnection starts a managed connection to cfg.Addr. The dial begins
// immediately in the background; callers awaiting readiness use Connect.
func NewConnection(cfg ConnConfig) *Connection {
	cfg.Addr = normalizeAddr(cfg.Addr)
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout * time.Millisecond
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	queueSize := connQueueSizeTCP
	if isUnixAddr(cfg.Addr) {
		queueSize = connQueueSizeUnix
	}

	c := &Connection{
		cfg:       cfg,
		state:     NewConnectionState(),
		writeLock: make(chan *link, 1),
		readQueue: make(chan chan<- *bufio.Reader, queueSize),
		readTerm:  make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go c.dialLoop()
	return c
}

// State exposes the connection's lifecycle for observers (e.g. Pool
// health checks).
func (c *Connection) State() *ConnectionState { return c.state }

// Connect blocks until the Connection reaches Connected, ctx is done, or
// the Connection has permanently Closed.
func (c *Connection) Connect(ctx context.Context) error {
	status, _, err := c.state.Get()
	for status != Connected {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		status, err = c.state.WaitForChange(ctx, status)
		if err != nil {
			return err
		}
	}
	return nil
}

// dialLoop fills writeLock with the current link, retrying with backoff
// on failure, until Close fires. Every iteration after the first
// reclaims the previous placeholder link before installing a new one,
// so a concurrent Close (which replaces the token with an ErrClosed
// placeholder) is noticed and aborts the loop instead of racing it.
func (c *Connection) dialLoop() {
	var retryDelay time.Duration
	for attempt := 0; ; attempt++ {
		c.state.Set(Connecting, nil)

		attemptCfg := c.cfg
		if password, ok := c.password.Load().([]byte); ok {
			attemptCfg.Password = password
		}
		attemptCfg.DB = c.db.Load()

		conn, reader, err := dial(attemptCfg)

		if attempt > 0 {
			current := <-c.writeLock
			if current.offline == ErrClosed {
				c.writeLock <- current
				if conn != nil {
					conn.Close()
				}
				return
			}
		}

		if err != nil {
			c.state.Set(Disconnected, err)
			c.writeLock <- &link{offline: fmt.Errorf("redis: offline due %w", err)}

			timer := time.NewTimer(retryDelay)
			select {
			case <-timer.C:
			case <-c.closed:
				timer.Stop()
				return
			}
			retryDelay = 2*retryDelay + time.Millisecond
			if retryDelay > dialDelayMax {
				retryDelay = dialDelayMax
			}
			continue
		}

		c.state.Set(Connected, nil)
		c.writeLock <- &link{conn: conn, idle: reader}
		return
	}
}

func dial(cfg ConnConfig) (net.Conn, *bufio.Reader, error) {
	network := "tcp"
	if isUnixAddr(cfg.Addr) {
		network = "unix"
	}
	conn, err := net.DialTimeout(network, cfg.Addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetLinger(0)
	}
	reader := bufio.NewReaderSize(conn, cfg.ReadBufferSize)

	if cfg.Password != nil {
		if err := authenticate(conn, reader, cfg); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}
	if cfg.DB != 0 {
		if err := selectDB(conn, reader, cfg); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}
	return conn, reader, nil
}

func authenticate(conn net.Conn, reader *bufio.Reader, cfg ConnConfig) error {
	buf := encodeCommand(nil, []Argument{Text("AUTH"), Bytes(cfg.Password)})
	if cfg.ConnectTimeout != 0 {
		conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
		defer conn.SetDeadline(time.Time{})
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("redis: AUTH on new connection: %w", err)
	}
	reply, err := decodeReply(reader)
	if err != nil {
		return fmt.Errorf("redis: AUTH on new connection: %w", err)
	}
	if reply.Type == ErrorReply {
		return fmt.Errorf("redis: AUTH on new connection: %w", ServerError(reply.Str))
	}
	return nil
}

func selectDB(conn net.Conn, reader *bufio.Reader, cfg ConnConfig) error {
	buf := encodeCommand(nil, []Argument{Text("SELECT"), Integer(cfg.DB)})
	if cfg.ConnectTimeout != 0 {
		conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
		defer conn.SetDeadline(time.Time{})
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("redis: SELECT on new connection: %w", err)
	}
	reply, err := decodeReply(reader)
	if err != nil {
		return fmt.Errorf("redis: SELECT on new connection: %w", err)
	}
	if reply.Type == ErrorReply {
		return fmt.Errorf("redis: SELECT on new connection: %w", ServerError(reply.Str))
	}
	return nil
}

// acquireWrite locks the write side and returns the current link. The
// caller must call releaseWrite exactly once, from a failure path or
// after queuing/claiming its read turn.
func (c *Connection) acquireWrite() *link {
	return <-c.writeLock
}

func (c *Connection) releaseWrite(l *link) {
	c.writeLock <- l
}

// reconnect drops the broken link and restarts dialLoop; it must only be
// called by the goroutine that currently holds the write lock (which it
// releases as part of the handoff to dialLoop).
func (c *Connection) reconnect(l *link) {
	if l.conn != nil {
		l.conn.Close()
	}
	c.cancelReadQueue()
	go c.dialLoop()
}

func (c *Connection) cancelReadQueue() {
	for {
		select {
		case waiter := <-c.readQueue:
			waiter <- nil
		default:
			return
		}
	}
}

// queueRead enqueues ch to receive the bufio.Reader for the next read
// turn, in FIFO order relative to other pending requests.
func (c *Connection) queueRead(ch chan<- *bufio.Reader) {
	c.readQueue <- ch
}

// passRead hands the reader to the next queued request, or parks it as
// idle on the link when the queue is empty. ok false means an I/O error
// occurred while decoding and the connection must be torn down.
func (c *Connection) passRead(r *bufio.Reader, ok bool) {
	if !ok {
		c.dropConnection()
		return
	}

	select {
	case next := <-c.readQueue:
		next <- r
		return
	default:
	}

	select {
	case next := <-c.readQueue:
		next <- r
	case l := <-c.writeLock:
		select {
		case next := <-c.readQueue:
			next <- r
		default:
			l.idle = r
		}
		c.writeLock <- l
	case <-c.readTerm:
	}
}

// dropConnection tears down the current link after a read-side I/O
// error and restarts the dial loop.
func (c *Connection) dropConnection() {
	for {
		select {
		case <-c.readTerm:
			return
		case next := <-c.readQueue:
			next <- nil
		case l := <-c.writeLock:
			if l.offline != nil {
				c.writeLock <- l
				return
			}
			c.reconnect(l)
			return
		}
	}
}

// Close terminates the reconnect loop and the current socket. Pending
// reads are released with a nil reader, surfaced by Client as
// ErrConnLost.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	close(c.closed)

	l := <-c.writeLock
	c.writeLock <- &link{offline: ErrClosed}
	c.state.Set(Disconnected, ErrClosed)

	c.haltRead(l)
	c.cancelReadQueue()

	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

func (c *Connection) haltRead(l *link) {
	if l.offline != nil || l.idle != nil {
		return
	}
	handover := make(chan *bufio.Reader)
	select {
	case c.readTerm <- struct{}{}:
	case c.readQueue <- handover:
		select {
		case c.readTerm <- struct{}{}:
		case <-handover:
		}
	}
}
