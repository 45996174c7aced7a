// ABOUTME: Byte-counting input stream for decoders
// ABOUTME: Reports how many compressed bytes each frame consumed
package decode

import (
	"fmt"
	"io"
	"os"
)

// Input is the compressed stream a decoder reads from
type Input struct {
	r     io.ReadSeeker
	c     io.Closer
	name  string
	read  uint64
	taken uint64
}

// NewInput wraps r. name is used in log messages.
func NewInput(name string, r io.ReadSeeker) *Input {
	in := &Input{r: r, name: name}
	if c, ok := r.(io.Closer); ok {
		in.c = c
	}
	return in
}

// OpenFile opens path as an Input
func OpenFile(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return NewInput(path, f), nil
}

// Name returns the stream name
func (in *Input) Name() string { return in.name }

func (in *Input) Read(p []byte) (int, error) {
	n, err := in.r.Read(p)
	in.read += uint64(n)
	return n, err
}

func (in *Input) Seek(offset int64, whence int) (int64, error) {
	return in.r.Seek(offset, whence)
}

// Size returns the total length of the stream, leaving the read position
// where it was
func (in *Input) Size() (int64, error) {
	if f, ok := in.r.(*os.File); ok {
		st, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return st.Size(), nil
	}

	cur, err := in.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := in.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := in.r.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

// Take returns the bytes read since the previous call
func (in *Input) Take() uint64 {
	n := in.read - in.taken
	in.taken = in.read
	return n
}

// Close closes the underlying stream when it is closable
func (in *Input) Close() error {
	if in.c == nil {
		return nil
	}
	return in.c.Close()
}
