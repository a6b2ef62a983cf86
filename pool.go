package redis

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// pooledClient is an idle Client plus the time it went idle, used to
// expire stale connections the way the original's _is_expired_client
// check does.
type pooledClient struct {
	client    *Client
	idleSince time.Time
}

// Pool bounds how many Clients may be checked out of it at once, reusing
// connected Clients across callers instead of dialing fresh ones per
// request. Checkout order is FIFO across waiting callers, enforced by
// golang.org/x/sync/semaphore the same way the original's toro.Semaphore
// enforces it for coroutines.
//
// A Pool is safe for concurrent use by multiple goroutines.
type Pool struct {
	addr                        string
	password                    []byte
	commandTimeout, dialTimeout time.Duration
	clientTimeout               time.Duration
	maxSize                     int

	// sem is nil for an unbounded Pool (maxSize <= 0), matching the
	// original's max_size=-1 meaning "no semaphore at all" rather than a
	// semaphore with an enormous permit count.
	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*pooledClient
	closed bool

	autocloseStop chan struct{}
}

// NewPool returns a Pool of at most maxSize concurrently checked-out
// Clients against addr. maxSize <= 0 means unbounded, matching the
// original's max_size=-1. clientTimeout, when positive, is both the idle
// expiry applied when a Client is checked back out and the period of a
// background sweep that proactively closes idle Clients past that age
// (the original's "autoclose").
func NewPool(addr string, maxSize int, commandTimeout, dialTimeout, clientTimeout time.Duration) *Pool {
	p := &Pool{
		addr:           addr,
		commandTimeout: commandTimeout,
		dialTimeout:    dialTimeout,
		clientTimeout:  clientTimeout,
		maxSize:        maxSize,
		autocloseStop:  make(chan struct{}),
	}
	if maxSize > 0 {
		p.sem = semaphore.NewWeighted(int64(maxSize))
	}
	if clientTimeout > 0 {
		go p.autocloseSweep()
	}
	return p
}

// SetPassword sets the sticky AUTH credential every Client the Pool
// dials from now on will use. It does not affect Clients already idle
// in the pool or checked out.
func (p *Pool) SetPassword(password []byte) {
	p.mu.Lock()
	p.password = password
	p.mu.Unlock()
}

// GetConnectedClient checks out a connected Client, reusing an idle one
// when available and not expired, or dialing a fresh one otherwise. The
// caller must pass it to ReleaseClient exactly once when done; prefer
// ConnectedClient, whose Lease does this via defer.
func (p *Pool) GetConnectedClient(ctx context.Context) (*Client, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	client, err := p.checkoutLocked(ctx)
	if err != nil {
		p.release1()
		return nil, err
	}
	return client, nil
}

// checkoutLocked pops a reusable idle Client (discarding any that is
// disconnected or expired) or dials a fresh one. The caller has already
// claimed a permit (or the Pool is unbounded); checkoutLocked never
// touches the semaphore itself.
func (p *Pool) checkoutLocked(ctx context.Context) (*Client, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if p.clientTimeout > 0 && time.Since(pc.idleSince) > p.clientTimeout {
			pc.client.Close()
			continue
		}
		if !pc.client.IsConnected() {
			pc.client.Close()
			continue
		}
		return pc.client, nil
	}

	p.mu.Lock()
	password := p.password
	p.mu.Unlock()

	client := newClient(ConnConfig{
		Addr:           p.addr,
		Password:       password,
		ConnectTimeout: p.dialTimeout,
	}, p.commandTimeout)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// acquire claims one checkout permit, blocking fairly when the Pool is
// bounded; an unbounded Pool (maxSize <= 0) never blocks here.
func (p *Pool) acquire(ctx context.Context) error {
	if p.sem == nil {
		return nil
	}
	return p.sem.Acquire(ctx, 1)
}

// release1 releases one checkout permit; a no-op on an unbounded Pool.
func (p *Pool) release1() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

// ConnectedClient checks out a Client and wraps it in a Lease, the
// idiomatic Go stand-in for the original's context-manager future: call
// Release (typically via defer) instead of exiting a "with" block.
func (p *Pool) ConnectedClient(ctx context.Context) (*Lease, error) {
	client, err := p.GetConnectedClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{pool: p, client: client}, nil
}

// ReleaseClient returns client to the pool for reuse. Pass expired=true
// to discard it immediately instead (e.g. after observing a protocol
// error on it) rather than risk handing back a broken connection.
func (p *Pool) ReleaseClient(client *Client, expired bool) {
	p.release(client, expired)
}

func (p *Pool) release(client *Client, expired bool) {
	p.mu.Lock()
	defer p.release1()
	defer p.mu.Unlock()

	if p.closed || expired {
		client.Close()
		return
	}
	p.idle = append(p.idle, &pooledClient{client: client, idleSince: time.Now()})
}

// GetClientNowait is the non-blocking variant of GetConnectedClient: on a
// bounded Pool with no permit immediately available it returns nil, nil
// instead of suspending. An unbounded Pool always succeeds, the same as
// GetConnectedClient.
func (p *Pool) GetClientNowait(ctx context.Context) (*Client, error) {
	if p.sem != nil && !p.sem.TryAcquire(1) {
		return nil, nil
	}
	client, err := p.checkoutLocked(ctx)
	if err != nil {
		p.release1()
		return nil, err
	}
	return client, nil
}

// Preconnect warms the pool by checking out and immediately releasing n
// Clients concurrently, so the first n real callers find an already
// connected Client waiting instead of paying dial latency themselves.
// Preconnect(-1) on an unbounded Pool (maxSize <= 0) is a ClientError,
// since there is no bound to warm up to.
func (p *Pool) Preconnect(ctx context.Context, n int) error {
	if n < 0 {
		if p.maxSize <= 0 {
			return ClientError("Preconnect(-1) requires a bounded Pool")
		}
		n = p.maxSize
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			lease, err := p.ConnectedClient(gctx)
			if err != nil {
				return err
			}
			lease.Release()
			return nil
		})
	}
	return g.Wait()
}

// Destroy closes every idle Client and stops the pool from accepting new
// checkouts. Clients already checked out continue to work; releasing
// them after Destroy closes them instead of returning them to the pool.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.autocloseStop)
	for _, pc := range idle {
		pc.client.Close()
	}
	return nil
}

func (p *Pool) autocloseSweep() {
	ticker := time.NewTicker(p.clientTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepExpired()
		case <-p.autocloseStop:
			return
		}
	}
}

func (p *Pool) sweepExpired() {
	p.mu.Lock()
	kept := p.idle[:0]
	var expired []*pooledClient
	now := time.Now()
	for _, pc := range p.idle {
		if now.Sub(pc.idleSince) > p.clientTimeout {
			expired = append(expired, pc)
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, pc := range expired {
		pc.client.Close()
	}
}
