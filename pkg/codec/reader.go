package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
)

// ErrShortBuffer is returned when a read runs past the end of the buffer.
var ErrShortBuffer = errors.New("codec: read past end of buffer")

// MaxCount bounds container lengths read off the wire. A count above this
// is treated as a malformed packet rather than an allocation request.
const MaxCount = 1 << 20

// Reader deserializes packet bodies. Reads past the end of the buffer set a
// sticky error and return zero values; callers check Err once after a
// decode run.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps buf for reading.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d",
			ErrShortBuffer, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) I8() int8 {
	return int8(r.U8())
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) I16() int16 {
	return int16(r.U16())
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I64() int64 {
	return int64(r.U64())
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *Reader) F64() float64 {
	return math.Float64frombits(r.U64())
}

func (r *Reader) Bool() bool {
	return r.U8() != 0
}

func (r *Reader) Str() string {
	n := r.U32()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) Blob() []byte {
	n := r.U32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *Reader) UUID() uuid.UUID {
	b := r.take(16)
	if b == nil {
		return uuid.UUID{}
	}
	var id uuid.UUID
	copy(id[:], b)
	return id
}

func (r *Reader) Vec2() geom.Vec2 {
	return geom.Vec2{X: r.F32(), Y: r.F32()}
}

func (r *Reader) Vec3() geom.Vec3 {
	return geom.Vec3{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

// Count reads a u64 container length and validates it against MaxCount and
// the bytes actually remaining.
func (r *Reader) Count() int {
	n := r.U64()
	if r.err != nil {
		return 0
	}
	if n > MaxCount || n > uint64(r.Remaining()) {
		r.err = fmt.Errorf("%w: implausible container count %d", ErrShortBuffer, n)
		return 0
	}
	return int(n)
}
