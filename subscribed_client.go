package redis

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// pubsubBacklogLimit bounds how many unread pushed messages SubscribedClient
// retains before dropping the oldest, mirroring the original's bounded
// reply list rather than letting a slow consumer grow it without limit.
const pubsubBacklogLimit = 1024

// SubscribedClient puts a Client into Redis's publish/subscribe mode. Once
// a subscription succeeds, the wrapped Client rejects ordinary
// Call/Pipeline use (matching
// <https://redis.io/topics/pubsub>, which forbids most other commands on
// a subscribed connection) and incoming pushes accumulate in a bounded
// backlog that PopMessage drains.
//
// A SubscribedClient is safe for concurrent use by multiple goroutines.
type SubscribedClient struct {
	client *Client

	// sendMu serializes join/leave: each holds it across its entire write
	// plus confirmation round trip, so the confirmations read back off
	// the wire are never ambiguous about which call they answer.
	sendMu sync.Mutex

	mu       sync.Mutex
	cond     *sync.Cond
	backlog  []Reply
	channels map[string]bool
	patterns map[string]bool
	closed   bool

	// turnClaimed is set the first time send claims the connection's
	// read turn forever. It is distinct from client.subscribed, which
	// only becomes true once a join's confirmations fully validate.
	turnClaimed atomic.Bool
	confirmCh   chan Reply
}

// NewSubscribedClient takes over client for pub/sub use. The caller
// should not invoke Call or Pipeline.Execute on client afterward; use the
// returned SubscribedClient instead.
func NewSubscribedClient(client *Client) *SubscribedClient {
	sc := &SubscribedClient{
		client:   client,
		channels: make(map[string]bool),
		patterns: make(map[string]bool),
	}
	sc.cond = sync.NewCond(&sc.mu)
	return sc
}

// Subscribe joins one or more channels. It returns an error unless every
// channel's SUBSCRIBE confirmation checks out; only full success marks
// the client subscribed.
func (sc *SubscribedClient) Subscribe(channels ...string) error {
	return sc.join("SUBSCRIBE", channels, sc.channels)
}

// PSubscribe joins one or more glob patterns, with the same all-or-nothing
// confirmation contract as Subscribe.
func (sc *SubscribedClient) PSubscribe(patterns ...string) error {
	return sc.join("PSUBSCRIBE", patterns, sc.patterns)
}

// Unsubscribe leaves one or more channels; with no arguments it leaves
// every channel currently joined. Once the final confirmation reports no
// channels or patterns remain joined, the client is no longer considered
// subscribed and Call/Pipeline.Execute work again.
func (sc *SubscribedClient) Unsubscribe(channels ...string) error {
	return sc.leave("UNSUBSCRIBE", channels, sc.channels)
}

// PUnsubscribe leaves one or more glob patterns; with no arguments it
// leaves every pattern currently joined.
func (sc *SubscribedClient) PUnsubscribe(patterns ...string) error {
	return sc.leave("PUNSUBSCRIBE", patterns, sc.patterns)
}

func (sc *SubscribedClient) join(cmd string, names []string, tracked map[string]bool) error {
	if len(names) == 0 {
		return ClientError("subscribe requires at least one name")
	}

	buf := sc.encode(cmd, names)

	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()

	ch, err := sc.send(buf)
	if err != nil {
		return err
	}

	for range names {
		confirm, err := sc.awaitConfirmation(ch)
		if err != nil {
			return err
		}
		if confirm.Type == ErrorReply {
			return fmt.Errorf("redis: %s: %w", cmd, ServerError(confirm.Str))
		}
		if !isSubscribeConfirmation(confirm, cmd) {
			return ClientError(fmt.Sprintf("%s: unexpected confirmation %v", cmd, confirm))
		}
	}

	sc.mu.Lock()
	for _, n := range names {
		tracked[n] = true
	}
	sc.mu.Unlock()
	sc.client.subscribed.Store(true)
	return nil
}

func (sc *SubscribedClient) leave(cmd string, names []string, tracked map[string]bool) error {
	sc.mu.Lock()
	if len(names) == 0 {
		for n := range tracked {
			names = append(names, n)
		}
	}
	sc.mu.Unlock()
	if len(names) == 0 {
		return nil
	}

	buf := sc.encode(cmd, names)

	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()

	ch, err := sc.send(buf)
	if err != nil {
		return err
	}

	var last Reply
	for range names {
		confirm, err := sc.awaitConfirmation(ch)
		if err != nil {
			return err
		}
		if confirm.Type == ErrorReply {
			return fmt.Errorf("redis: %s: %w", cmd, ServerError(confirm.Str))
		}
		if !isUnsubscribeConfirmation(confirm, cmd) {
			return ClientError(fmt.Sprintf("%s: unexpected confirmation %v", cmd, confirm))
		}
		last = confirm
	}

	sc.mu.Lock()
	for _, n := range names {
		delete(tracked, n)
	}
	sc.mu.Unlock()

	// Only the final confirmation's count tells us whether any
	// subscription survives; a 0 there means none do.
	if last.Array[2].Int == 0 {
		sc.client.subscribed.Store(false)
	}
	return nil
}

func (sc *SubscribedClient) encode(cmd string, names []string) *WriteBuffer {
	args := make([]Argument, 0, len(names)+1)
	args = append(args, Text(cmd))
	for _, n := range names {
		args = append(args, Text(n))
	}
	buf := NewWriteBuffer()
	encodeCommandBuffered(buf, args)
	return buf
}

// replyText extracts the textual payload of a simple-string or bulk-string
// reply, which is how Redis sends the command-name and channel/pattern
// elements of every pub/sub array (the original's resp.go treats both the
// same way when matching a command name).
func replyText(r Reply) string {
	switch r.Type {
	case SimpleStringReply:
		return r.Str
	case BulkReply:
		return string(r.Bulk)
	default:
		return ""
	}
}

// isSubscribeConfirmation reports whether reply is a well-formed
// [cmd, name, count] confirmation for SUBSCRIBE/PSUBSCRIBE: cmd must
// match case-insensitively and count must be positive, matching the
// original client's pubsub_subscribe validation.
func isSubscribeConfirmation(reply Reply, cmd string) bool {
	return reply.Type == ArrayReply && len(reply.Array) == 3 &&
		strings.EqualFold(replyText(reply.Array[0]), cmd) && reply.Array[2].Int > 0
}

// isUnsubscribeConfirmation is the leave-side counterpart: a count of 0 is
// the expected outcome on the final confirmation, so only shape and
// command name are checked here.
func isUnsubscribeConfirmation(reply Reply, cmd string) bool {
	return reply.Type == ArrayReply && len(reply.Array) == 3 &&
		strings.EqualFold(replyText(reply.Array[0]), cmd)
}

// isPubSubPush reports whether reply is an unsolicited message/pmessage
// push rather than a subscribe/unsubscribe confirmation.
func isPubSubPush(reply Reply) bool {
	if reply.Type != ArrayReply || len(reply.Array) == 0 {
		return false
	}
	switch strings.ToLower(replyText(reply.Array[0])) {
	case "message", "pmessage":
		return true
	default:
		return false
	}
}

// send writes buf on the subscribed connection and returns the channel
// receiveLoop will deliver the command's confirmation replies on. The
// very first call claims the connection's read turn forever: once in
// pub/sub mode every further frame on the wire is a confirmation or an
// unsolicited push rather than a reply bound to one write, so no other
// caller may share the read turn again.
func (sc *SubscribedClient) send(buf *WriteBuffer) (chan Reply, error) {
	if !sc.turnClaimed.Swap(true) {
		r, _, err := sc.client.exchange(buf)
		if err != nil {
			sc.turnClaimed.Store(false)
			return nil, err
		}
		ch := make(chan Reply)
		sc.mu.Lock()
		sc.confirmCh = ch
		sc.mu.Unlock()
		go sc.receiveLoop(r, ch)
		return ch, nil
	}

	l := sc.client.conn.acquireWrite()
	if l.offline != nil {
		sc.client.conn.releaseWrite(l)
		return nil, l.offline
	}
	err := buf.WriteTo(l.conn)
	sc.client.conn.releaseWrite(l)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	ch := sc.confirmCh
	sc.mu.Unlock()
	return ch, nil
}

// awaitConfirmation blocks for the next reply receiveLoop classifies as a
// confirmation rather than a push. ch is closed, instead of sent on, when
// the connection drops mid-wait.
func (sc *SubscribedClient) awaitConfirmation(ch chan Reply) (Reply, error) {
	reply, ok := <-ch
	if !ok {
		return Reply{}, ErrConnLost
	}
	return reply, nil
}

// receiveLoop owns reader for as long as the connection stays up. Every
// decoded frame is classified: a message/pmessage push joins the bounded
// backlog PopMessage drains, while anything else — a subscribe/
// unsubscribe confirmation, or an error reply rejecting one — is routed
// to confirmCh for the join/leave call currently awaiting it, never into
// the backlog.
func (sc *SubscribedClient) receiveLoop(reader *bufio.Reader, confirmCh chan Reply) {
	for {
		reply, err := decodeReply(reader)
		if err != nil {
			sc.client.conn.passRead(nil, false)
			close(confirmCh)
			go sc.resubscribeAfterReconnect()
			return
		}

		if !isPubSubPush(reply) {
			confirmCh <- reply
			continue
		}

		sc.mu.Lock()
		if sc.closed {
			sc.mu.Unlock()
			return
		}
		if len(sc.backlog) >= pubsubBacklogLimit {
			sc.backlog = sc.backlog[1:]
		}
		sc.backlog = append(sc.backlog, reply)
		sc.cond.Broadcast()
		sc.mu.Unlock()
	}
}

// resubscribeAfterReconnect waits for the underlying Connection to come
// back up after an unexpected drop and reissues every tracked channel
// and pattern, since Redis does not remember subscriptions across a
// fresh connection.
func (sc *SubscribedClient) resubscribeAfterReconnect() {
	if err := sc.client.conn.Connect(context.Background()); err != nil {
		return // permanently closed
	}

	sc.mu.Lock()
	closed := sc.closed
	channels := make([]string, 0, len(sc.channels))
	for ch := range sc.channels {
		channels = append(channels, ch)
	}
	patterns := make([]string, 0, len(sc.patterns))
	for p := range sc.patterns {
		patterns = append(patterns, p)
	}
	sc.mu.Unlock()
	if closed {
		return
	}

	sc.client.subscribed.Store(false)
	sc.turnClaimed.Store(false) // let the next join re-claim the turn and start a fresh receiveLoop
	if len(channels) > 0 {
		sc.join("SUBSCRIBE", channels, sc.channels)
	}
	if len(patterns) > 0 {
		sc.join("PSUBSCRIBE", patterns, sc.patterns)
	}
}

// PopMessage removes and returns the oldest pending push. It blocks until
// a message arrives or deadline passes; a zero deadline blocks forever.
// The returned Reply is the raw 3- or 4-element push array Redis sends,
// e.g. ["message", channel, payload] or ["pmessage", pattern, channel,
// payload]. Subscribe/unsubscribe confirmations never appear here; join
// and leave consume those themselves.
func (sc *SubscribedClient) PopMessage(deadline time.Time) (Reply, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for len(sc.backlog) == 0 {
		if sc.closed {
			return Reply{}, ErrClosed
		}
		if !deadline.IsZero() {
			if !sc.waitUntil(deadline) {
				return Reply{}, context.DeadlineExceeded
			}
			continue
		}
		sc.cond.Wait()
	}

	reply := sc.backlog[0]
	sc.backlog = sc.backlog[1:]
	return reply, nil
}

// waitUntil blocks on sc.cond until woken or deadline passes, reporting
// whether it was woken before the deadline (or a message already arrived
// in the meantime). The caller must hold sc.mu.
func (sc *SubscribedClient) waitUntil(deadline time.Time) bool {
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return false
	}

	timer := time.AfterFunc(timeout, func() {
		sc.mu.Lock()
		sc.cond.Broadcast() // wake the waiter so it can observe the deadline
		sc.mu.Unlock()
	})
	defer timer.Stop()

	sc.cond.Wait()
	return time.Now().Before(deadline) || len(sc.backlog) > 0
}

// Close leaves every channel and pattern, then closes the underlying
// Client.
func (sc *SubscribedClient) Close() error {
	sc.mu.Lock()
	sc.closed = true
	sc.cond.Broadcast()
	sc.mu.Unlock()
	return sc.client.Close()
}
