package conn

import (
	"errors"
	"io"

	"github.com/bgpfix/bgpconn/wire"
)

// readAction is the selector callback fired when the socket is readable,
// implementing spec.md §4.3's read_action: a header-then-body reassembly
// loop that dispatches exactly one fully framed message to the FSM per
// completed cycle.
func (c *Connection) readAction() {
	if c.readPending == 0 {
		c.readPending = headLen
		c.ibufLen = 0
		c.readHeader = true
	}

	for {
		if c.readPending > 0 {
			n, err := tryRead(c.sock, c.ibuf[c.ibufLen:c.ibufLen+c.readPending])
			if err != nil {
				if errors.Is(err, errAgain) {
					return
				}
				c.err = err
				c.fsm.IOError(c, err)
				return
			}
			if n == 0 {
				c.err = io.EOF
				c.fsm.IOError(c, io.EOF)
				return
			}
			c.ibufLen += n
			c.readPending -= n
			if c.readPending > 0 {
				return // await more
			}
		}

		if c.readHeader {
			hdr, err := wire.CheckHeader(c.ibuf[:headLen])
			if err != nil {
				c.fsm.HeaderError(c, err)
				return
			}
			c.readHeader = false
			c.readPending = hdr.BodyLen()
			continue
		}
		break // body complete
	}

	c.fsm.Dispatch(c, c.ibuf[:c.ibufLen])
	c.readPending = 0
}
