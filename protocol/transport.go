package protocol

import "sync/atomic"

// CommandHandler runs command cmdID, decoding its arguments from the front
// of *args.
type CommandHandler func(cmdID uint16, args *[]byte) error

// Transport is the firmware end of the link. Every received block is
// acknowledged with the sequence number expected next; blocks that arrive
// out of sequence are acknowledged but not run, which the host reads as a
// NAK.
type Transport struct {
	synced   uint32 // atomic bool
	expected uint32 // atomic, next sequence byte from the host

	out     OutputBuffer
	handler CommandHandler

	onReset func()
	onFlush func()
	onError func(cmdID uint16, err error)
}

// NewTransport returns a synchronised transport writing to out.
func NewTransport(out OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synced:   1,
		expected: SeqDest,
		out:      out,
		handler:  handler,
	}
}

// Receive consumes every complete block in input. A partial block is left
// in place for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	for len(data) > 0 {
		if !t.isSynced() {
			var ok bool
			if data, ok = resync(data); ok {
				t.setSynced(true)
				t.sendAck()
			}
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}

		blk, n, err := ParseBlock(data)
		if err == ErrShortBlock {
			break
		}
		if err != nil {
			t.setSynced(false)
			continue
		}
		data = data[n:]

		expect := uint8(atomic.LoadUint32(&t.expected))
		if blk.Seq == SeqDest && expect != SeqDest {
			// The host restarted its sequence.
			expect = SeqDest
			atomic.StoreUint32(&t.expected, SeqDest)
			if t.onReset != nil {
				t.onReset()
			}
		}
		if blk.Seq == expect {
			atomic.StoreUint32(&t.expected, uint32(NextSeq(expect)))
			t.run(blk.Payload)
		}
		t.sendAck()
	}
	input.Pop(input.Available() - len(data))
}

// run executes the commands of one block. A handler error abandons the
// rest of the block.
func (t *Transport) run(payload []byte) {
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.setSynced(false)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			if t.onError != nil {
				t.onError(uint16(id), err)
			}
			return
		}
	}
}

// sendAck writes an empty block carrying the expected sequence and flushes
// it so the host sees it before any later response.
func (t *Transport) sendAck() {
	seq := uint8(atomic.LoadUint32(&t.expected))
	_ = EncodeBlock(t.out, seq, nil)
	if t.onFlush != nil {
		t.onFlush()
	}
}

// SendCommand writes one response block holding cmdID and its arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(OutputBuffer)) error {
	seq := uint8(atomic.LoadUint32(&t.expected))
	return EncodeBlock(t.out, seq, func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
}

// Reset forgets the host sequence, e.g. after the USB link drops.
func (t *Transport) Reset() {
	t.setSynced(true)
	atomic.StoreUint32(&t.expected, SeqDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// SetResetCallback is called when the host restarts its sequence.
func (t *Transport) SetResetCallback(fn func()) { t.onReset = fn }

// SetFlushCallback is called after every acknowledgement.
func (t *Transport) SetFlushCallback(fn func()) { t.onFlush = fn }

// SetErrorCallback is called when a command handler fails.
func (t *Transport) SetErrorCallback(fn func(cmdID uint16, err error)) { t.onError = fn }

func (t *Transport) isSynced() bool { return atomic.LoadUint32(&t.synced) != 0 }

func (t *Transport) setSynced(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&t.synced, n)
}
