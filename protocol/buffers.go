package protocol

// InputBuffer is a source of received bytes consumed from the front.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer accumulates outgoing blocks. Positions are absolute offsets
// returned by CurPosition.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
	Truncate(pos int)
}

// SliceInputBuffer is an InputBuffer over a caller owned slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed size OutputBuffer. Writes past the end are
// dropped.
type ScratchOutput struct {
	buf [ScratchMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput { return &ScratchOutput{} }

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

func (s *ScratchOutput) Truncate(pos int) {
	if pos >= 0 && pos < s.pos {
		s.pos = pos
	}
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Reset discards the contents.
func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer is a byte queue for a serial receive path. Data always returns
// a contiguous view: the unread tail is moved to the front when the write
// end reaches the end of storage.
type FifoBuffer struct {
	buf  []byte
	head int // first unread byte
	tail int // one past the last written byte
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count.
func (f *FifoBuffer) Write(data []byte) int {
	if f.tail+len(data) > len(f.buf) && f.head > 0 {
		f.compact()
	}
	n := copy(f.buf[f.tail:], data)
	f.tail += n
	return n
}

// Read copies out and consumes up to len(dst) bytes.
func (f *FifoBuffer) Read(dst []byte) int {
	n := copy(dst, f.buf[f.head:f.tail])
	f.Pop(n)
	return n
}

func (f *FifoBuffer) Data() []byte   { return f.buf[f.head:f.tail] }
func (f *FifoBuffer) Available() int { return f.tail - f.head }
func (f *FifoBuffer) Free() int      { return len(f.buf) - f.Available() }
func (f *FifoBuffer) IsEmpty() bool  { return f.head == f.tail }

func (f *FifoBuffer) Pop(n int) {
	f.head += n
	if f.head >= f.tail {
		f.head, f.tail = 0, 0
	}
}

func (f *FifoBuffer) Reset() { f.head, f.tail = 0, 0 }

func (f *FifoBuffer) compact() {
	n := copy(f.buf, f.buf[f.head:f.tail])
	f.head, f.tail = 0, n
}
