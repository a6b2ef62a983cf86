package redis

import "bufio"

// pendingKind distinguishes a plain request, which awaits exactly one
// reply, from a pipelined batch, which awaits several replies off the
// same read turn before the connection's read baton passes onward.
type pendingKind byte

const (
	pendingSingle pendingKind = iota
	pendingAggregating
)

// pendingRequest is what a caller registers with a Connection's read
// queue: not the request bytes (already written by the time a read turn
// is claimed) but how many replies that turn must consume before
// Connection can hand the baton to whoever queued up behind it.
type pendingRequest struct {
	kind  pendingKind
	count int
}

func singlePending() pendingRequest { return pendingRequest{kind: pendingSingle, count: 1} }

func aggregatingPending(n int) pendingRequest {
	return pendingRequest{kind: pendingAggregating, count: n}
}

// decodeAll reads exactly p.count replies from r in order. On error it
// returns whatever replies decoded cleanly before the failure, which
// matters for a pipeline where a later aggregated reply is merely absent,
// not all of them.
func (p pendingRequest) decodeAll(r *bufio.Reader) ([]Reply, error) {
	replies := make([]Reply, 0, p.count)
	for i := 0; i < p.count; i++ {
		reply, err := decodeReply(r)
		if err != nil {
			return replies, err
		}
		replies = append(replies, reply)
	}
	return replies, nil
}
