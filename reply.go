package redis

import "fmt"

// ReplyType identifies which RESP v2 shape a Reply carries.
type ReplyType byte

const (
	// SimpleStringReply holds a "+..." line, e.g. the OK of most writes.
	SimpleStringReply ReplyType = iota
	// ErrorReply holds a "-..." line. Call never returns a Reply of this
	// type (it returns the message as a ServerError instead), but it is
	// surfaced inside Array replies and Pipeline results where one
	// element of a batch failed while its siblings succeeded.
	ErrorReply
	// IntegerReply holds a ":..." line.
	IntegerReply
	// BulkReply holds a "$..." payload, or no payload at all when Null
	// is true (the RESP "$-1" nil bulk string).
	BulkReply
	// ArrayReply holds a "*..." sequence of nested Replies, or no
	// elements at all when Null is true (the RESP "*-1" nil array).
	ArrayReply
)

// Reply is the command-agnostic result of a call: a tagged union over the
// five shapes RESP v2 can return. Callers switch on Type to interpret a
// Reply the way they would inspect a raw protocol response.
type Reply struct {
	Type ReplyType

	// Str holds the payload for SimpleStringReply and ErrorReply.
	Str string

	// Int holds the payload for IntegerReply.
	Int int64

	// Bulk holds the payload for BulkReply. Null distinguishes an empty
	// string ("$0\r\n\r\n") from a nil bulk string ("$-1\r\n").
	Bulk []byte
	Null bool

	// Array holds the payload for ArrayReply. Null distinguishes an
	// empty array ("*0\r\n") from a nil array ("*-1\r\n"). Elements may
	// themselves be ErrorReply, which is how a batched command reports
	// a partial failure inside an otherwise successful array.
	Array []Reply
}

// String renders a Reply for logging; it is not a wire encoding.
func (r Reply) String() string {
	switch r.Type {
	case SimpleStringReply:
		return r.Str
	case ErrorReply:
		return "error: " + r.Str
	case IntegerReply:
		return fmt.Sprintf("%d", r.Int)
	case BulkReply:
		if r.Null {
			return "<nil>"
		}
		return string(r.Bulk)
	case ArrayReply:
		if r.Null {
			return "<nil array>"
		}
		return fmt.Sprintf("%v", r.Array)
	}
	return "<invalid reply>"
}
