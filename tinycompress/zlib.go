// Package tinycompress produces zlib streams without a deflate encoder: the
// data is carried in stored blocks, which any zlib reader accepts.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

const (
	zlibHeaderCMF = 0x78 // deflate, 32K window
	zlibHeaderFLG = 0x01 // FCHECK for 0x78, fastest level

	storedMax      = 0xFFFF
	storedOverhead = 5 // BFINAL/BTYPE byte, LEN, NLEN
)

var ErrClosed = errors.New("tinycompress: writer closed")

// EncodedLen returns the size of the zlib stream Encode produces for n
// input bytes.
func EncodedLen(n int) int {
	blocks := (n + storedMax - 1) / storedMax
	if blocks == 0 {
		blocks = 1
	}
	return 2 + blocks*storedOverhead + n + 4
}

// Encode returns input wrapped in a zlib stream.
func Encode(input []byte) []byte {
	return encode(input, adler32.Checksum(input))
}

func encode(data []byte, sum uint32) []byte {
	out := make([]byte, 0, EncodedLen(len(data)))
	out = append(out, zlibHeaderCMF, zlibHeaderFLG)
	for first := true; first || len(data) > 0; first = false {
		n := len(data)
		if n > storedMax {
			n = storedMax
		}
		out = appendStored(out, data[:n], n == len(data))
		data = data[n:]
	}
	return append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

func appendStored(out, chunk []byte, final bool) []byte {
	var bfinal byte
	if final {
		bfinal = 1
	}
	n := uint16(len(chunk))
	out = append(out, bfinal, byte(n), byte(n>>8), byte(^n), byte(^n>>8))
	return append(out, chunk...)
}

// Writer buffers everything written and emits the zlib stream on Close.
type Writer struct {
	w      io.Writer
	buf    []byte
	adler  hash.Hash32
	closed bool
}

// NewWriter returns a Writer that writes the encoded stream to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, adler: adler32.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	w.adler.Write(p)
	return len(p), nil
}

// Close writes the stream. The underlying writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.w.Write(encode(w.buf, w.adler.Sum32()))
	return err
}
