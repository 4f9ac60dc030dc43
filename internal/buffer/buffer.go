// Package buffer implements an unbounded, seekable append-and-read byte
// buffer built from a list of segments rather than a single contiguous
// allocation, so a long session doesn't pay for one giant copy-on-grow.
package buffer

import (
	"errors"
	"io"
)

// Whence values for Seek, mirroring io.Seeker's constants by name.
const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

// MaxSegmentSize bounds a single segment's allocation.
const MaxSegmentSize = 1 << 30 // 1 GiB

var (
	ErrSeekUnderflow = errors.New("buffer: seek before start")
	ErrReadPastEnd   = errors.New("buffer: read past end")
	ErrNegativeSize  = errors.New("buffer: negative size")
)

type segment struct {
	data []byte
	base int64 // logical offset of segment[0]
}

// Buffer is a growable, seekable byte buffer made of segments.
type Buffer struct {
	segments []segment
	size     int64 // total allocated extent
	cursor   int64 // logical public cursor
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Size returns the total allocated extent.
func (b *Buffer) Size() int64 { return b.size }

// Tell returns the current cursor position.
func (b *Buffer) Tell() int64 { return b.cursor }

// Seek moves the cursor per whence, clamped to [0, Size()].
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case SeekSet:
		target = offset
	case SeekCur:
		target = b.cursor + offset
	case SeekEnd:
		target = b.size + offset
	default:
		return b.cursor, errors.New("buffer: invalid whence")
	}
	if target < 0 {
		return b.cursor, ErrSeekUnderflow
	}
	if target > b.size {
		target = b.size
	}
	b.cursor = target
	return b.cursor, nil
}

// growTo ensures the buffer's allocated size is at least n, appending
// zero-filled segments sized to the overflow amount (capped per segment).
func (b *Buffer) growTo(n int64) {
	for b.size < n {
		need := n - b.size
		if need > MaxSegmentSize {
			need = MaxSegmentSize
		}
		seg := segment{data: make([]byte, need), base: b.size}
		b.segments = append(b.segments, seg)
		b.size += need
	}
}

// Write appends p at the current cursor, growing the buffer as needed,
// and advances the cursor by len(p).
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := b.cursor + int64(len(p))
	if end > b.size {
		b.growTo(end)
	}
	remaining := p
	pos := b.cursor
	for _, idx := range b.segmentsOverlapping(pos, end) {
		seg := &b.segments[idx]
		segEnd := seg.base + int64(len(seg.data))
		start := pos
		if start < seg.base {
			start = seg.base
		}
		stop := end
		if stop > segEnd {
			stop = segEnd
		}
		n := stop - start
		copy(seg.data[start-seg.base:], remaining[:n])
		remaining = remaining[n:]
		pos = stop
	}
	b.cursor = end
	return len(p), nil
}

// Read fills p from the current cursor and advances it. A short buffer at
// the tail returns what is available with no error; reading with the
// cursor already at the end returns ErrReadPastEnd.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.cursor >= b.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrReadPastEnd
	}
	end := b.cursor + int64(len(p))
	if end > b.size {
		end = b.size
	}
	n := int(end - b.cursor)
	pos := b.cursor
	written := 0
	for _, idx := range b.segmentsOverlapping(pos, end) {
		seg := &b.segments[idx]
		segEnd := seg.base + int64(len(seg.data))
		start := pos
		if start < seg.base {
			start = seg.base
		}
		stop := end
		if stop > segEnd {
			stop = segEnd
		}
		copy(p[written:], seg.data[start-seg.base:stop-seg.base])
		written += int(stop - start)
		pos = stop
	}
	b.cursor += int64(n)
	return n, nil
}

// ReadN reads exactly n bytes at the current cursor.
func (b *Buffer) ReadN(n int64) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if b.cursor+n > b.size {
		return nil, ErrReadPastEnd
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if _, err := b.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Buffer) segmentsOverlapping(start, end int64) []int {
	var idxs []int
	for i, seg := range b.segments {
		segEnd := seg.base + int64(len(seg.data))
		if seg.base < end && segEnd > start {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// DumpToFile streams n bytes starting at the current cursor to w, using
// the underlying segment boundaries directly rather than an intermediate
// copy where possible.
func (b *Buffer) DumpToFile(w io.Writer, n int64) error {
	if b.cursor+n > b.size {
		return ErrReadPastEnd
	}
	start := b.cursor
	end := start + n
	for _, idx := range b.segmentsOverlapping(start, end) {
		seg := &b.segments[idx]
		segEnd := seg.base + int64(len(seg.data))
		from := start
		if from < seg.base {
			from = seg.base
		}
		to := end
		if to > segEnd {
			to = segEnd
		}
		if _, err := w.Write(seg.data[from-seg.base : to-seg.base]); err != nil {
			return err
		}
	}
	b.cursor = end
	return nil
}

// WriteFrom appends n bytes read from r into the buffer at the current
// cursor, growing as needed, without requiring the whole payload to be
// materialized by the caller first.
func (b *Buffer) WriteFrom(r io.Reader, n int64) error {
	if n == 0 {
		return nil
	}
	end := b.cursor + n
	b.growTo(end)
	pos := b.cursor
	for _, idx := range b.segmentsOverlapping(pos, end) {
		seg := &b.segments[idx]
		segEnd := seg.base + int64(len(seg.data))
		start := pos
		if start < seg.base {
			start = seg.base
		}
		stop := end
		if stop > segEnd {
			stop = segEnd
		}
		if _, err := io.ReadFull(r, seg.data[start-seg.base:stop-seg.base]); err != nil {
			return err
		}
		pos = stop
	}
	b.cursor = end
	return nil
}

// Bytes returns the full logical content as a single contiguous slice.
// Intended for tests and small buffers; production codepaths should
// prefer DumpToFile/WriteFrom to avoid the copy.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.size)
	for _, seg := range b.segments {
		copy(out[seg.base:], seg.data)
	}
	return out
}
