// Package protocol implements the wire format spoken between the ADC
// firmware and its host tools: VLQ encoded integers packed into CRC
// protected blocks.
package protocol

import "errors"

// Version is the wire format revision reported in the command dictionary.
const Version = "0.1.0"

// Block layout: len seq payload... crc_hi crc_lo sync
const (
	BlockHeaderSize  = 2
	BlockTrailerSize = 3
	BlockMin         = BlockHeaderSize + BlockTrailerSize
	BlockMax         = 64
	PayloadMax       = BlockMax - BlockMin

	posLen = 0
	posSeq = 1

	SyncByte = 0x7E

	// Sequence bytes carry SeqDest in the high nibble and a 4 bit counter.
	SeqDest = 0x10
	SeqMask = 0x0F

	ScratchMax = 512 // output scratch, several blocks
)

var (
	// ErrShortBlock means more bytes are needed before a block can be parsed.
	ErrShortBlock = errors.New("protocol: incomplete block")
	// ErrBadBlock means the data at the cursor is not a valid block; the
	// reader has to resynchronise on the next SyncByte.
	ErrBadBlock = errors.New("protocol: invalid block")
	// ErrPayloadTooLong is returned when a payload does not fit one block.
	ErrPayloadTooLong = errors.New("protocol: payload too long")
)

// Block is one validated message block.
type Block struct {
	Seq     uint8
	Payload []byte // aliases the input
}

// NextSeq returns the sequence byte that follows seq.
func NextSeq(seq uint8) uint8 {
	return (seq+1)&SeqMask | SeqDest
}

// ParseBlock validates the block at the start of data and returns it with
// the number of bytes it occupies. Leading sync bytes are not skipped.
func ParseBlock(data []byte) (Block, int, error) {
	if len(data) < BlockMin {
		return Block{}, 0, ErrShortBlock
	}
	n := int(data[posLen])
	if n < BlockMin || n > BlockMax {
		return Block{}, 0, ErrBadBlock
	}
	seq := data[posSeq]
	if seq&^SeqMask != SeqDest {
		return Block{}, 0, ErrBadBlock
	}
	if len(data) < n {
		return Block{}, 0, ErrShortBlock
	}
	if data[n-1] != SyncByte {
		return Block{}, 0, ErrBadBlock
	}
	crc := uint16(data[n-3])<<8 | uint16(data[n-2])
	if crc != CRC16(data[:n-BlockTrailerSize]) {
		return Block{}, 0, ErrBadBlock
	}
	return Block{Seq: seq, Payload: data[BlockHeaderSize : n-BlockTrailerSize]}, n, nil
}

// EncodeBlock writes one block to out. The payload is produced by body and
// must fit PayloadMax bytes.
func EncodeBlock(out OutputBuffer, seq uint8, body func(OutputBuffer)) error {
	start := out.CurPosition()
	out.Output([]byte{0, seq})
	if body != nil {
		body(out)
	}
	n := len(out.DataSince(start)) + BlockTrailerSize
	if n > BlockMax {
		out.Truncate(start)
		return ErrPayloadTooLong
	}
	out.Update(start+posLen, uint8(n))
	crc := CRC16(out.DataSince(start))
	out.Output([]byte{uint8(crc >> 8), uint8(crc), SyncByte})
	return nil
}

// resync drops bytes up to and including the next sync byte. It returns
// the remaining data and whether a sync byte was found.
func resync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == SyncByte {
			return data[i+1:], true
		}
	}
	return nil, false
}
