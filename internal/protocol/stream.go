package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/symbol"
)

// Writer builds a little-endian message body.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) U8(v uint8)  { w.buf.WriteByte(v) }
func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) I16(v int16)           { w.U16(uint16(v)) }
func (w *Writer) I64(v int64)           { w.U64(uint64(v)) }
func (w *Writer) Symbol(s symbol.Symbol) { w.I64(int64(s)) }
func (w *Writer) Raw(b []byte)          { w.buf.Write(b) }

// GUID writes a UUID in the mixed-endian layout the game uses
// (first three groups little-endian, rest big-endian).
func (w *Writer) GUID(id uuid.UUID) {
	b := id.Bytes()
	w.buf.Write([]byte{b[3], b[2], b[1], b[0], b[5], b[4], b[7], b[6]})
	w.buf.Write(b[8:])
}

// StringNT writes a NUL-terminated UTF-8 string.
func (w *Writer) StringNT(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// StringU16 writes a u16 length-prefixed UTF-8 string.
func (w *Writer) StringU16(s string) {
	w.U16(uint16(len(s)))
	w.buf.WriteString(s)
}

// StringU32 writes a u32 length-prefixed UTF-8 string.
func (w *Writer) StringU32(s string) {
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
}

// JSONU32 writes a u32 length-prefixed JSON blob.
func (w *Writer) JSONU32(raw []byte) {
	w.U32(uint32(len(raw)))
	w.buf.Write(raw)
}

// Reader consumes a little-endian message body.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining returns the unread tail of the body.
func (r *Reader) Remaining() []byte { return r.b[r.off:] }

func (r *Reader) need(n int) error {
	if len(r.b)-r.off < n {
		return fmt.Errorf("body truncated: need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) Symbol() (symbol.Symbol, error) {
	v, err := r.I64()
	return symbol.Symbol(v), err
}

func (r *Reader) GUID() (uuid.UUID, error) {
	if err := r.need(16); err != nil {
		return uuid.Nil, err
	}
	b := r.b[r.off : r.off+16]
	r.off += 16
	raw := []byte{b[3], b[2], b[1], b[0], b[5], b[4], b[7], b[6],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]}
	return uuid.FromBytes(raw)
}

// StringNT reads up to the next NUL byte.
func (r *Reader) StringNT() (string, error) {
	i := bytes.IndexByte(r.b[r.off:], 0)
	if i < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", r.off)
	}
	s := string(r.b[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *Reader) StringU16() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.b[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *Reader) StringU32() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.b[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *Reader) JSONU32() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return b, nil
}
