package redis

// Lease is the scoped-checkout handle a Pool hands back from
// ConnectedClient: the Go idiom for what the original exposes as a
// context-manager future (an object whose "with" block guarantees
// release). Callers call Release exactly once, typically via defer,
// instead of opening a "with" block.
type Lease struct {
	pool    *Pool
	client  *Client
	expired bool
}

// Client returns the leased Client. It stays valid until Release.
func (l *Lease) Client() *Client { return l.client }

// MarkExpired flags the leased Client to be closed rather than returned to
// the pool on Release, e.g. after the caller observes a protocol error or
// otherwise distrusts the connection's state.
func (l *Lease) MarkExpired() { l.expired = true }

// Release returns the Client to its Pool. Calling Release more than once
// has no effect.
func (l *Lease) Release() {
	if l.pool == nil {
		return
	}
	pool := l.pool
	l.pool = nil
	pool.release(l.client, l.expired)
}
