package fileops

import (
	"errors"
	"io"
)

// ErrOverflow indicates a counter exceeded its maximum value.
var ErrOverflow = errors.New("counter overflow")

// CountingReader wraps a reader and counts bytes read.
// If OnRead is set it is called with the running total after every read
// that returned data.
type CountingReader struct {
	R      io.Reader
	N      int64
	OnRead func(total int64)
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	if n > 0 {
		if cr.N > int64(^uint64(0)>>1)-int64(n) {
			return n, ErrOverflow
		}
		cr.N += int64(n)
		if cr.OnRead != nil {
			cr.OnRead(cr.N)
		}
	}
	return n, err
}
