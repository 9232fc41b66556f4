package conn

import (
	"io"
	"net"
	"time"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/ringbuf"
	"github.com/LatticeX-Foundation/rosetta-io-go/wire"
)

// readerPump streams bytes off the socket into rawRecv, then pulls every
// complete frame currently buffered into its per-id ring. A short read
// deadline doubles as the stop-flag poll so the pump notices c.stopCh
// promptly without a separate condition variable — event-driven rather
// than a timed loop wherever Go's own primitives allow it, though here
// the deadline is unavoidable because net.Conn.Read has no stop-channel
// variant.
func (c *Connection) readerPump() {
	scratch := make([]byte, scratchSize)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		_ = c.netConn.SetReadDeadline(time.Now().Add(pumpPollPeriod))
		n, err := c.netConn.Read(scratch)
		if n > 0 {
			c.rawRecv.Write(scratch[:n])
			if derr := c.drainFrames(); derr != nil {
				c.fail(derr)
				return
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err == io.EOF {
				nlog.Infof("conn: peer %s (session %s) read EOF (tcp_close=%v)", c.peerNodeID, c.sessionID, probePeerClosed(c.netConn))
				c.fail(ErrUnconnected)
				return
			}
			c.fail(err)
			return
		}
	}
}

// drainFrames repeatedly peeks a header, checks whether a full record is
// buffered, and if so decodes and discards it — never partially
// consuming a record.
func (c *Connection) drainFrames() error {
	for {
		header, ok := c.rawRecv.PeekBytes(wire.HeaderLen)
		if !ok {
			return nil
		}
		total, _, err := wire.PeekHeader(header)
		if err != nil {
			return err
		}
		if c.rawRecv.Used() < int(total) {
			return nil
		}
		record, ok := c.rawRecv.PeekBytes(int(total))
		if !ok {
			return nil
		}
		id, payload, err := wire.Decode(record)
		if err != nil {
			return err
		}
		c.rawRecv.Discard(int(total))

		if c.cfg.Compression {
			decompressed, derr := wire.DecompressPayload(payload)
			if derr != nil {
				return derr
			}
			payload = decompressed
		}

		ring := c.perIDRing(string(id), true)
		ring.Write(payload)
	}
}

// writerPump drains rawSend and writes whatever is available to the
// socket in one shot; serialization with the socket is trivial here
// since only this goroutine ever writes to it. It uses ReadSome rather
// than Read so a send well under the scratch buffer's size still goes out
// immediately instead of waiting for the buffer to fill.
func (c *Connection) writerPump() {
	buf := make([]byte, 64<<10)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		n, err := c.rawSend.ReadSome(buf, pumpPollPeriod)
		if err != nil {
			switch err {
			case ringbuf.ErrTimeout:
				continue
			case ringbuf.ErrClosed:
				return
			default:
				c.fail(err)
				return
			}
		}
		if n == 0 {
			continue
		}
		if _, werr := c.netConn.Write(buf[:n]); werr != nil {
			c.fail(werr)
			return
		}
	}
}
