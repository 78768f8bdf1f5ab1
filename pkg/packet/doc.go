/*
Package packet defines the self-describing message envelope and the packet
types exchanged between AtlasNet processes.

A frame on the wire is the packet's type id (u32 little-endian, the FNV-1a
hash of the packet name) followed by the codec-serialized body. The
transport adds its own length framing; this package does not.

Packet types register a factory in the process-wide Default registry at
init. On receive, the Bus reads the type id, constructs the body,
deserializes, runs Validate, and fans the packet out to subscribers:

	sub := packet.Subscribe(bus, func(p *packet.HandoffPingPacket, m packet.Meta) {
		// handle ping from m.Sender
	})
	defer sub.Cancel()

Malformed frames, unknown type ids, and validation failures are dropped and
logged; they never reach subscribers.
*/
package packet
