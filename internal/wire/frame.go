package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the size-prefix-plus-opcode header: 8 bytes
// for the little-endian frame size plus 1 byte for the opcode.
const HeaderSize = 9

// MaxFrameSize bounds a single frame's declared size, guarding against a
// corrupt or hostile length field asking for an enormous allocation.
const MaxFrameSize = 1 << 34 // 16 GiB; file payloads stream separately

var (
	ErrMalformedHeader = errors.New("wire: malformed frame header")
	ErrFrameTooLarge   = errors.New("wire: frame size exceeds configured maximum")
	ErrUnknownOpcode   = errors.New("wire: unknown opcode")
)

// Header is the fixed 9-byte prefix of every frame. Size is the total
// frame length including the header itself, per the wire contract — it
// is NOT XDR-encoded: the format mandates raw little-endian bytes, so
// this codec uses encoding/binary directly rather than the XDR codec
// used elsewhere in this module.
type Header struct {
	Size   uint64
	Opcode Opcode
}

// PayloadLen returns the number of payload bytes implied by Size.
func (h Header) PayloadLen() int64 {
	return int64(h.Size) - HeaderSize
}

// WriteHeader writes a frame header for a payload of length n.
func WriteHeader(w io.Writer, op Opcode, payloadLen int64) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(payloadLen+HeaderSize))
	buf[8] = byte(op)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates a frame header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	size := binary.LittleEndian.Uint64(buf[:8])
	if size < HeaderSize {
		return Header{}, fmt.Errorf("%w: size %d below minimum", ErrMalformedHeader, size)
	}
	if size > MaxFrameSize {
		return Header{}, fmt.Errorf("%w: size %d", ErrFrameTooLarge, size)
	}
	op := Opcode(buf[8])
	if !op.Valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, buf[8])
	}
	return Header{Size: size, Opcode: op}, nil
}

// WriteLenPrefixed writes an 8-byte little-endian length prefix
// followed by p, per the payload schema's `len || bytes` convention.
func WriteLenPrefixed(w io.Writer, p []byte) error {
	var lbuf [8]byte
	binary.LittleEndian.PutUint64(lbuf[:], uint64(len(p)))
	if _, err := w.Write(lbuf[:]); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	_, err := w.Write(p)
	return err
}

// ReadLenPrefixed reads an 8-byte little-endian length prefix and then
// that many bytes.
func ReadLenPrefixed(r io.Reader, max int64) ([]byte, error) {
	var lbuf [8]byte
	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lbuf[:])
	if int64(n) > max {
		return nil, fmt.Errorf("%w: declared length %d exceeds maximum %d", ErrFrameTooLarge, n, max)
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes a length-prefixed string.
func WriteString(w io.Writer, s string) error {
	return WriteLenPrefixed(w, []byte(s))
}

// ReadString reads a length-prefixed string.
func ReadString(r io.Reader, max int64) (string, error) {
	b, err := ReadLenPrefixed(r, max)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteUint64 writes n as 8 little-endian bytes.
func WriteUint64(w io.Writer, n uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads 8 little-endian bytes.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
