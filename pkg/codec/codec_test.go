package codec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
)

func TestScalarRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U8(0xAB)
	w.I8(-5)
	w.U16(0xBEEF)
	w.I16(-300)
	w.U32(0xDEADBEEF)
	w.I32(-70000)
	w.U64(0x0102030405060708)
	w.I64(-1)
	w.F32(3.5)
	w.F64(-2.25)
	w.Bool(true)
	w.Bool(false)

	r := NewReader(w.Bytes())
	assert.Equal(t, uint8(0xAB), r.U8())
	assert.Equal(t, int8(-5), r.I8())
	assert.Equal(t, uint16(0xBEEF), r.U16())
	assert.Equal(t, int16(-300), r.I16())
	assert.Equal(t, uint32(0xDEADBEEF), r.U32())
	assert.Equal(t, int32(-70000), r.I32())
	assert.Equal(t, uint64(0x0102030405060708), r.U64())
	assert.Equal(t, int64(-1), r.I64())
	assert.Equal(t, float32(3.5), r.F32())
	assert.Equal(t, -2.25, r.F64())
	assert.True(t, r.Bool())
	assert.False(t, r.Bool())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter()
	w.U32(0x01020304)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, w.Bytes())
}

func TestStrBlobUUIDVec(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	w := NewWriter()
	w.Str("héllo")
	w.Str("")
	w.Blob([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	w.Blob(nil)
	w.UUID(id)
	w.Vec2(geom.Vec2{X: 1, Y: 2})
	w.Vec3(geom.Vec3{X: -1, Y: 0.5, Z: 9})

	r := NewReader(w.Bytes())
	assert.Equal(t, "héllo", r.Str())
	assert.Equal(t, "", r.Str())
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, r.Blob())
	assert.Empty(t, r.Blob())
	assert.Equal(t, id, r.UUID())
	assert.Equal(t, geom.Vec2{X: 1, Y: 2}, r.Vec2())
	assert.Equal(t, geom.Vec3{X: -1, Y: 0.5, Z: 9}, r.Vec3())
	require.NoError(t, r.Err())
}

func TestUUIDNetworkOrder(t *testing.T) {
	id := uuid.MustParse("00010203-0405-0607-0809-0a0b0c0d0e0f")
	w := NewWriter()
	w.UUID(id)
	// uuid bytes are already big-endian network order; the codec must not
	// byte-swap them.
	assert.Equal(t, id[:], w.Bytes())
}

func TestShortBufferIsSticky(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.U32()
	require.ErrorIs(t, r.Err(), ErrShortBuffer)

	// Subsequent reads keep the first error and return zero values.
	assert.Equal(t, uint64(0), r.U64())
	assert.Equal(t, "", r.Str())
	require.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestTruncatedStr(t *testing.T) {
	w := NewWriter()
	w.Str("hello world")
	data := w.Bytes()[:6]

	r := NewReader(data)
	_ = r.Str()
	require.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestCountRejectsImplausibleLengths(t *testing.T) {
	w := NewWriter()
	w.U64(1 << 40)
	r := NewReader(w.Bytes())
	assert.Equal(t, 0, r.Count())
	require.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestCountRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Count(3)
	for i := 0; i < 3; i++ {
		w.U8(uint8(i))
	}
	r := NewReader(w.Bytes())
	n := r.Count()
	require.Equal(t, 3, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, uint8(i), r.U8())
	}
	require.NoError(t, r.Err())
}
