package redis

// Pipeline batches several commands so they share one write and one read
// turn on a Client's connection, instead of round-tripping once per
// command. See <https://redis.io/topics/pipelining>.
//
// A Pipeline is not safe for concurrent use; build and Execute it from a
// single goroutine, then discard it.
type Pipeline struct {
	client *Client
	buf    *WriteBuffer
	count  int
}

// NewPipeline returns an empty Pipeline bound to client.
func NewPipeline(client *Client) *Pipeline {
	return &Pipeline{client: client, buf: NewWriteBuffer()}
}

// StackCall appends a command to the pipeline without sending it.
func (p *Pipeline) StackCall(args ...Argument) {
	encodeCommandBuffered(p.buf, args)
	p.count++
}

// StackedCalls reports how many commands are queued.
func (p *Pipeline) StackedCalls() int { return p.count }

// Execute sends every stacked command in one write and returns their
// replies in the order they were stacked. An I/O error aborts the
// remaining decode and is returned alongside whatever replies were
// already decoded. Execute on an empty Pipeline sends nothing and returns
// a ClientError.
func (p *Pipeline) Execute() ([]Reply, error) {
	if p.count == 0 {
		return nil, ClientError("Execute requires at least one stacked call")
	}
	if p.client.subscribed.Load() {
		return nil, ClientError("Execute is unavailable while subscribed; use SubscribedClient")
	}

	pending := aggregatingPending(p.count)
	r, _, err := p.client.exchange(p.buf)
	n := p.count
	p.count = 0
	if err != nil {
		return nil, err
	}

	replies, err := pending.decodeAll(r)
	p.client.conn.passRead(r, err == nil)
	if err != nil {
		return replies, err
	}
	if len(replies) != n {
		return replies, errProtocol
	}
	return replies, nil
}
