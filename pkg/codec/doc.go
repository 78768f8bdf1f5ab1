/*
Package codec implements the length-framed byte serialization used by every
AtlasNet packet and manifest blob.

All scalars are little-endian. Strings and blobs carry a u32 length prefix;
UUIDs are written as their 16 network-order bytes; variable-length containers
are a u64 count followed by the elements. The Reader carries a sticky error
instead of panicking on truncated input, so a decode run reads every field
unconditionally and checks Err once at the end:

	r := codec.NewReader(body)
	e.EntityID = r.UUID()
	e.Transform.Position = r.Vec3()
	if err := r.Err(); err != nil {
		return err
	}

Truncated or oversized input surfaces as an error wrapping ErrShortBuffer;
the dispatcher drops such packets and logs.
*/
package codec
