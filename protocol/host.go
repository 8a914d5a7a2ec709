//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAckTimeout = errors.New("protocol: no acknowledgement")
	ErrNak        = errors.New("protocol: block rejected")
)

// DefaultAckTimeout bounds the wait for an acknowledgement in Send.
const DefaultAckTimeout = 2 * time.Second

// HostTransport is the host end of the link. Run owns the read side and
// must be running for Send to complete; Send may be called from any
// goroutine.
type HostTransport struct {
	port io.ReadWriter

	mu  sync.Mutex // serialises Send
	seq uint8

	acks    chan uint8
	resp    chan []byte
	in      *FifoBuffer
	synced  bool
	dropped uint32 // atomic

	AckTimeout time.Duration
}

// NewHostTransport returns a transport over port. Port is not closed by
// the transport.
func NewHostTransport(port io.ReadWriter) *HostTransport {
	return &HostTransport{
		port:       port,
		seq:        SeqDest,
		acks:       make(chan uint8, 4),
		resp:       make(chan []byte, 64),
		in:         NewFifoBuffer(4 * BlockMax * 4),
		synced:     true,
		AckTimeout: DefaultAckTimeout,
	}
}

// Responses delivers the payload of every non-empty block received, the
// command id first. It is closed when Run returns.
func (t *HostTransport) Responses() <-chan []byte { return t.resp }

// Dropped returns how many responses were discarded because nobody was
// reading Responses.
func (t *HostTransport) Dropped() uint32 { return atomic.LoadUint32(&t.dropped) }

// Send writes one command block and waits for its acknowledgement.
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(OutputBuffer)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out ScratchOutput
	err := EncodeBlock(&out, t.seq, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(cmdID))
		if args != nil {
			args(o)
		}
	})
	if err != nil {
		return fmt.Errorf("protocol: command %d: %w", cmdID, err)
	}

	t.drainAcks()
	if _, err := t.port.Write(out.Result()); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}

	want := NextSeq(t.seq)
	timer := time.NewTimer(t.AckTimeout)
	defer timer.Stop()
	select {
	case seq := <-t.acks:
		if seq != want {
			// The firmware tells us what it expects; follow it.
			t.seq = seq
			return fmt.Errorf("%w: expected 0x%02x, got 0x%02x", ErrNak, want, seq)
		}
		t.seq = want
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// Run reads and parses blocks until the port reports EOF or an error, or
// ctx is done.
func (t *HostTransport) Run(ctx context.Context) error {
	defer close(t.resp)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.in.Write(buf[:n])
			t.process()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("protocol: read: %w", err)
		}
	}
}

func (t *HostTransport) process() {
	data := t.in.Data()
	for len(data) > 0 {
		if !t.synced {
			data, t.synced = resync(data)
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
			t.synced = false
			continue
		}
		data = data[n:]

		if len(blk.Payload) == 0 {
			select {
			case t.acks <- blk.Seq:
			default:
			}
			continue
		}
		p := make([]byte, len(blk.Payload))
		copy(p, blk.Payload)
		select {
		case t.resp <- p:
		default:
			atomic.AddUint32(&t.dropped, 1)
		}
	}
	t.in.Pop(t.in.Available() - len(data))
}

// Reset restarts the sequence. The firmware treats the next block as a
// new session.
func (t *HostTransport) Reset() {
	t.mu.Lock()
	t.seq = SeqDest
	t.mu.Unlock()
}
