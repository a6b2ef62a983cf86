package redis

import "strconv"

// encodeCommand renders args as a RESP array of bulk strings, e.g.
// Call(Text("SET"), Text("k"), Bytes(v)) becomes
// "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n".
//
// The encoding is command-agnostic on purpose: it neither inspects the
// command name nor validates argument counts, so any RESP command Redis
// understands can be issued through the same Call path.
func encodeCommand(buf []byte, args []Argument) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')

	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(a.size()), 10)
		buf = append(buf, '\r', '\n')
		buf = a.appendTo(buf)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

var crlf = []byte("\r\n")

// encodeCommandBuffered appends the same RESP array encoding as
// encodeCommand does, but into a WriteBuffer instead of a flat []byte: a
// Bytes argument at or above memoryViewThreshold is queued by reference
// into w rather than copied, so a large value handed to Call or StackCall
// reaches the socket without an intermediate full-command copy.
func encodeCommandBuffered(w *WriteBuffer, args []Argument) {
	var scratch [24]byte

	head := appendHeader(scratch[:0], '*', len(args))
	w.Append(head)

	for _, a := range args {
		head = appendHeader(scratch[:0], '$', a.size())
		w.Append(head)

		if a.kind == argBytes {
			w.Append(a.byt)
		} else {
			w.Append(a.appendTo(scratch[:0]))
		}
		w.Append(crlf)
	}
}

func appendHeader(buf []byte, prefix byte, n int) []byte {
	buf = append(buf, prefix)
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}
