package conn

import "strconv"

// DumpJSON appends a small diagnostics snapshot of c (state, ordinal,
// buffer occupancy) to dst, returning the extended slice. dst may be nil.
// Grounded on the teacher's append-into-dst JSON writer style
// (msg.Msg.GetJSON/ToJSON) rather than encoding/json reflection, since
// engine.DumpStatusJSON calls this once per connection to build the demo
// binary's /status response.
func (c *Connection) DumpJSON(dst []byte) []byte {
	dst = append(dst, `{"host":`...)
	dst = strconv.AppendQuote(dst, c.host)
	dst = append(dst, `,"ordinal":`...)
	dst = strconv.AppendQuote(dst, c.ordinal.String())
	dst = append(dst, `,"state":`...)
	dst = strconv.AppendQuote(dst, c.state.String())
	dst = append(dst, `,"open":`...)
	dst = strconv.AppendBool(dst, c.open)
	dst = append(dst, `,"wbuff_pending":`...)
	dst = strconv.AppendInt(dst, int64(c.Pending()), 10)
	dst = append(dst, `,"wbuff_full":`...)
	dst = strconv.AppendBool(dst, c.Full())
	dst = append(dst, `,"pending_queue_len":`...)
	dst = strconv.AppendInt(dst, int64(c.pendingQueue.Len()), 10)
	if c.err != nil {
		dst = append(dst, `,"err":`...)
		dst = strconv.AppendQuote(dst, c.err.Error())
	}
	dst = append(dst, '}')
	return dst
}
