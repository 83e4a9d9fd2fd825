package conn

import (
	"errors"
	"fmt"

	"github.com/bgpfix/bgpconn/ioselect"
)

// Write stages msg for transmission, implementing spec.md §4.2's
// write(connection). The caller (the FSM) must have composed msg itself
// and must have checked !Full() before calling, per spec.md §9's documented
// (but API-unenforced) tie-break rule — Write still returns WriteFailed
// with ErrBufferFull rather than corrupting the buffer if that contract is
// violated.
func (c *Connection) Write(msg []byte) (WriteResult, error) {
	if len(msg) > maxMsg {
		return WriteFailed, ErrMsgTooLong
	}
	copy(c.obuf, msg)
	c.obufLen = len(msg)

	if c.wbuffEmpty() {
		return c.writeDirect()
	}
	if c.wbuff.full {
		return WriteFailed, ErrBufferFull
	}

	n := transfer(c.wbuff.base, c.wbuff.pIn, c.obuf[:c.obufLen])
	c.wbuff.pIn += n
	c.recomputeFull()
	c.obufLen = 0
	return WriteBuffered, nil
}

// writeDirect attempts one non-blocking write of obuf straight to the
// socket, buffering whatever is left over on a partial write.
func (c *Connection) writeDirect() (WriteResult, error) {
	n, err := tryWrite(c.sock, c.obuf[:c.obufLen])
	if err != nil && !errors.Is(err, errAgain) {
		c.err = err
		c.fsm.IOError(c, err)
		return WriteFailed, err
	}
	if errors.Is(err, errAgain) {
		n = 0
	}
	if n == c.obufLen {
		c.obufLen = 0
		return WriteDone, nil
	}

	c.ensureWbuff()
	buffered := transfer(c.wbuff.base, 0, c.obuf[:c.obufLen])
	c.wbuff.pIn = buffered
	c.wbuff.pOut = n
	c.recomputeFull()
	c.obufLen = 0

	if err := c.sel.EnableMode(&c.qfile, ioselect.Write, func(*ioselect.File, ioselect.Mode) {
		c.writeAction()
	}); err != nil {
		return WriteFailed, fmt.Errorf("conn: write: enable write: %w", err)
	}
	return WriteBuffered, nil
}

// writeAction is the selector callback fired when the socket becomes
// writable, implementing spec.md §4.2's write_action.
func (c *Connection) writeAction() {
	w := c.wbuff
	if w == nil {
		return
	}
	for w.pOut < w.pIn {
		n, err := tryWrite(c.sock, w.base[w.pOut:w.pIn])
		if err != nil {
			if errors.Is(err, errAgain) {
				return
			}
			c.err = err
			c.fsm.IOError(c, err)
			return
		}
		w.pOut += n
		if n == 0 {
			return
		}
	}

	w.pIn, w.pOut = 0, 0
	w.full = false
	_ = c.sel.DisableModes(&c.qfile, ioselect.Write)

	if c.notificationPending {
		c.notificationPending = false
		c.fsm.SentNotification(c)
	} else if c.rq != nil {
		c.rq.Add(c)
	}
}

// SendNotification stages msg as a NOTIFICATION and arms
// notificationPending so writeAction fires Sent_NOTIFICATION_message once
// it finishes draining, instead of re-queuing the connection for ordinary
// pending-queue work.
func (c *Connection) SendNotification(msg []byte) (WriteResult, error) {
	c.notification = append(c.notification[:0], msg...)
	result, err := c.Write(msg)
	if result == WriteDone {
		// Nothing left to drain: writeAction will never fire, so signal
		// completion immediately instead of arming notificationPending.
		c.fsm.SentNotification(c)
		return result, err
	}
	c.notificationPending = true
	return result, err
}
