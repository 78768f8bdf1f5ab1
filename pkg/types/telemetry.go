package types

import "github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"

// ConnectionTelemetry is a point-in-time snapshot of one transport
// connection's link statistics, published into the Network_Telemetry table.
type ConnectionTelemetry struct {
	IdentityID string
	TargetID   string

	PingMs int32

	InBytesPerSec   float32
	OutBytesPerSec  float32
	InPacketsPerSec float32

	PendingReliableBytes     uint32
	PendingUnreliableBytes   uint32
	SentUnackedReliableBytes uint32

	QueueTimeUsec uint64

	QualityLocal  float32
	QualityRemote float32

	State int32
}

func (c ConnectionTelemetry) Serialize(w *codec.Writer) {
	w.Str(c.IdentityID)
	w.Str(c.TargetID)
	w.I32(c.PingMs)
	w.F32(c.InBytesPerSec)
	w.F32(c.OutBytesPerSec)
	w.F32(c.InPacketsPerSec)
	w.U32(c.PendingReliableBytes)
	w.U32(c.PendingUnreliableBytes)
	w.U32(c.SentUnackedReliableBytes)
	w.U64(c.QueueTimeUsec)
	w.F32(c.QualityLocal)
	w.F32(c.QualityRemote)
	w.I32(c.State)
}

func (c *ConnectionTelemetry) Deserialize(r *codec.Reader) error {
	c.IdentityID = r.Str()
	c.TargetID = r.Str()
	c.PingMs = r.I32()
	c.InBytesPerSec = r.F32()
	c.OutBytesPerSec = r.F32()
	c.InPacketsPerSec = r.F32()
	c.PendingReliableBytes = r.U32()
	c.PendingUnreliableBytes = r.U32()
	c.SentUnackedReliableBytes = r.U32()
	c.QueueTimeUsec = r.U64()
	c.QualityLocal = r.F32()
	c.QualityRemote = r.F32()
	c.State = r.I32()
	return r.Err()
}
