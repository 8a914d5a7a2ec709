package serial

import (
	"errors"
	"io"
	"testing"
)

type fakeConn struct {
	reads   [][]byte
	eof     bool
	flushed int
	closed  bool
	written []byte
}

func (f *fakeConn) Read(b []byte) (int, error) {
	if len(f.reads) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, errors.New("broken")
	}
	n := copy(b, f.reads[0])
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.written = append(f.written, b...)
	return len(b), nil
}

func (f *fakeConn) Close() error { f.closed = true; return nil }
func (f *fakeConn) Flush() error { f.flushed++; return nil }

func TestWrapTimeout(t *testing.T) {
	c := &fakeConn{reads: [][]byte{{1, 2, 3}}, eof: true}
	p := Wrap(c)

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	if n != 3 || err != nil {
		t.Fatalf("Expected 3 bytes, got %d, %v", n, err)
	}
	n, err = p.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("Expected a timeout read to return 0, nil, got %d, %v", n, err)
	}

	c.eof = false
	if _, err := p.Read(buf); err == nil {
		t.Error("Expected other errors to pass through")
	}
}

func TestWrapFlushAndClose(t *testing.T) {
	c := &fakeConn{}
	p := Wrap(c)
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if c.flushed != 1 {
		t.Errorf("Expected Flush to reach the connection, got %d", c.flushed)
	}
	if _, err := p.Write([]byte{0x7E}); err != nil || len(c.written) != 1 {
		t.Errorf("Expected one written byte, got %v, %v", c.written, err)
	}
	p.Close()
	if !c.closed {
		t.Error("Expected Close to reach the connection")
	}
}

func TestOpenWithoutDevice(t *testing.T) {
	if _, err := Open(&Config{}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", err)
	}
	if _, err := Open(nil); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Baud != DefaultBaud || cfg.ReadTimeout != 100 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}
