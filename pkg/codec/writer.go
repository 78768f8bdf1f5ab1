package codec

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
)

// Writer serializes packet bodies into a growing byte buffer. All scalar
// values are little-endian; UUIDs are the 16 network-order bytes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) I8(v int8) {
	w.U8(uint8(v))
}

func (w *Writer) U16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) I16(v int16) {
	w.U16(uint16(v))
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

func (w *Writer) F64(v float64) {
	w.U64(math.Float64bits(v))
}

// Bool writes a bool as a single byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// Str writes a u32 length prefix followed by the UTF-8 bytes. No NUL
// terminator is written.
func (w *Writer) Str(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Blob writes a u32 length prefix followed by the raw bytes.
func (w *Writer) Blob(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// UUID writes the 16 bytes of id in network order.
func (w *Writer) UUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

func (w *Writer) Vec2(v geom.Vec2) {
	w.F32(v.X)
	w.F32(v.Y)
}

func (w *Writer) Vec3(v geom.Vec3) {
	w.F32(v.X)
	w.F32(v.Y)
	w.F32(v.Z)
}

// Count writes a container length as u64. Variable-length containers are
// encoded as a count followed by that many elements.
func (w *Writer) Count(n int) {
	w.U64(uint64(n))
}
