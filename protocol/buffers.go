package protocol

import "io"

// InputBuffer provides an abstraction for reading incoming link bytes
type InputBuffer interface {
	// Data returns the available data slice
	Data() []byte

	// Available returns the number of bytes available
	Available() int

	// Pop removes n bytes from the front of the buffer
	Pop(n int)
}

// OutputBuffer accepts encoded link frames
type OutputBuffer interface {
	// Output appends data; it returns false if the data did not fit
	Output(data []byte) bool
}

// SliceInputBuffer implements InputBuffer over a byte slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer creates a new SliceInputBuffer
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte { return s.data }

func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed-size output buffer. Frames accumulate until the
// owner flushes Result to the wire and calls Reset.
type ScratchOutput struct {
	buf [4 * MaxPacket]byte
	pos int
}

// NewScratchOutput creates a new ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

// Output appends data if it fits entirely
func (s *ScratchOutput) Output(data []byte) bool {
	if len(data) > len(s.buf)-s.pos {
		return false
	}
	s.pos += copy(s.buf[s.pos:], data)
	return true
}

// Free returns the number of bytes that can still be written
func (s *ScratchOutput) Free() int { return len(s.buf) - s.pos }

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Reset clears the buffer
func (s *ScratchOutput) Reset() { s.pos = 0 }

// WriterOutput adapts an io.Writer to OutputBuffer. Write errors are
// latched and reported by Err.
type WriterOutput struct {
	W   io.Writer
	err error
}

func (w *WriterOutput) Output(data []byte) bool {
	if w.err != nil {
		return false
	}
	_, w.err = w.W.Write(data)
	return w.err == nil
}

// Err returns the first write error, if any
func (w *WriterOutput) Err() error { return w.err }

// FifoBuffer is a circular byte buffer filled by a receive interrupt or
// reader loop and drained by the tick loop
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
}

// NewFifoBuffer creates a new FifoBuffer with the specified capacity.
// One byte of capacity is reserved to tell full from empty.
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends data and returns the number of bytes stored
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		next := (f.write + 1) % len(f.buf)
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		written++
	}
	return written
}

// Read moves up to len(data) bytes out of the buffer
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.read != f.write {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % len(f.buf)
		n++
	}
	return n
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return len(f.buf) - f.read + f.write
}

// Free returns the number of bytes available for writing
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available() - 1
}

// IsEmpty returns true if the buffer is empty
func (f *FifoBuffer) IsEmpty() bool { return f.read == f.write }

// Reset clears the buffer
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
