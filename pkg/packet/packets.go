package packet

import (
	"fmt"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func init() {
	Default.Register(func() Packet { return &EntityTransferPacket{} })
	Default.Register(func() Packet { return &HandoffPingPacket{} })
	Default.Register(func() Packet { return &LocalEntityListRequestPacket{} })
	Default.Register(func() Packet { return &GenericEntityPacket{} })
	Default.Register(func() Packet { return &CommandPayloadPacket{} })
}

// CommitEntry is one entity snapshot carried by a Commit-stage transfer,
// tagged with the sender's monotonic generation counter.
type CommitEntry struct {
	Snapshot   types.AtlasEntity
	Generation uint64
}

// EntityTransferPacket drives the entity handoff state machine. The payload
// is a per-stage variant: Prepare carries entity ids, Commit carries
// snapshots, Ready and Complete are empty acks.
type EntityTransferPacket struct {
	TransferID types.TransferID
	Stage      types.EntityTransferStage

	PrepareIDs []types.AtlasEntityID
	Commits    []CommitEntry
}

func (*EntityTransferPacket) PacketName() string { return "EntityTransferPacket" }

func (p *EntityTransferPacket) Serialize(w *codec.Writer) {
	w.UUID(p.TransferID)
	w.U32(uint32(p.Stage))
	switch p.Stage {
	case types.TransferStagePrepare:
		w.Count(len(p.PrepareIDs))
		for _, id := range p.PrepareIDs {
			w.UUID(id)
		}
	case types.TransferStageCommit:
		w.Count(len(p.Commits))
		for _, c := range p.Commits {
			c.Snapshot.Serialize(w)
			w.U64(c.Generation)
		}
	case types.TransferStageReady, types.TransferStageComplete, types.TransferStageNone:
	}
}

func (p *EntityTransferPacket) Deserialize(r *codec.Reader) error {
	p.TransferID = r.UUID()
	p.Stage = types.EntityTransferStage(r.U32())
	if err := r.Err(); err != nil {
		return err
	}
	switch p.Stage {
	case types.TransferStagePrepare:
		n := r.Count()
		p.PrepareIDs = make([]types.AtlasEntityID, n)
		for i := 0; i < n; i++ {
			p.PrepareIDs[i] = r.UUID()
		}
	case types.TransferStageCommit:
		n := r.Count()
		p.Commits = make([]CommitEntry, n)
		for i := 0; i < n; i++ {
			if err := p.Commits[i].Snapshot.Deserialize(r); err != nil {
				return err
			}
			p.Commits[i].Generation = r.U64()
		}
	case types.TransferStageReady, types.TransferStageComplete:
	default:
		return fmt.Errorf("entity transfer packet: unknown stage %d", p.Stage)
	}
	return r.Err()
}

func (p *EntityTransferPacket) Validate() bool {
	return p.Stage.IsValid() && p.Stage != types.TransferStageNone
}

// HandoffPingPacket is the liveness probe sent between shard peers. The
// receiver logs RTT and marks connection activity.
type HandoffPingPacket struct {
	Sender   types.NetworkIdentity
	SentAtMs uint64
}

func (*HandoffPingPacket) PacketName() string { return "HandoffPingPacket" }

func (p *HandoffPingPacket) Serialize(w *codec.Writer) {
	p.Sender.Serialize(w)
	w.U64(p.SentAtMs)
}

func (p *HandoffPingPacket) Deserialize(r *codec.Reader) error {
	if err := p.Sender.Deserialize(r); err != nil {
		return err
	}
	p.SentAtMs = r.U64()
	return r.Err()
}

func (p *HandoffPingPacket) Validate() bool {
	return p.Sender.IsValid()
}

// EntityListStatus distinguishes a list request from its reply.
type EntityListStatus uint8

const (
	EntityListQuery EntityListStatus = iota
	EntityListResponse
)

// LocalEntityListRequestPacket asks a shard for a snapshot of its ledger.
// With IncludeMetadata the reply carries full entities, otherwise the
// minimal projection.
type LocalEntityListRequestPacket struct {
	Status          EntityListStatus
	IncludeMetadata bool

	Full    []types.AtlasEntity
	Minimal []types.AtlasEntityMinimal
}

func (*LocalEntityListRequestPacket) PacketName() string { return "LocalEntityListRequestPacket" }

func (p *LocalEntityListRequestPacket) Serialize(w *codec.Writer) {
	w.U8(uint8(p.Status))
	w.Bool(p.IncludeMetadata)
	if p.Status != EntityListResponse {
		return
	}
	if p.IncludeMetadata {
		w.Count(len(p.Full))
		for _, e := range p.Full {
			e.Serialize(w)
		}
	} else {
		w.Count(len(p.Minimal))
		for _, e := range p.Minimal {
			e.Serialize(w)
		}
	}
}

func (p *LocalEntityListRequestPacket) Deserialize(r *codec.Reader) error {
	p.Status = EntityListStatus(r.U8())
	p.IncludeMetadata = r.Bool()
	if err := r.Err(); err != nil {
		return err
	}
	if p.Status != EntityListResponse {
		return nil
	}
	n := r.Count()
	if p.IncludeMetadata {
		p.Full = make([]types.AtlasEntity, n)
		for i := 0; i < n; i++ {
			if err := p.Full[i].Deserialize(r); err != nil {
				return err
			}
		}
	} else {
		p.Minimal = make([]types.AtlasEntityMinimal, n)
		for i := 0; i < n; i++ {
			if err := p.Minimal[i].Deserialize(r); err != nil {
				return err
			}
		}
	}
	return r.Err()
}

func (p *LocalEntityListRequestPacket) Validate() bool {
	return p.Status <= EntityListResponse
}

// GenericEntityPacket carries one entity snapshot, used by debug tooling to
// spawn or overwrite entities on a shard.
type GenericEntityPacket struct {
	Entity types.AtlasEntity
}

func (*GenericEntityPacket) PacketName() string { return "GenericEntityPacket" }

func (p *GenericEntityPacket) Serialize(w *codec.Writer) {
	p.Entity.Serialize(w)
}

func (p *GenericEntityPacket) Deserialize(r *codec.Reader) error {
	return p.Entity.Deserialize(r)
}

func (p *GenericEntityPacket) Validate() bool {
	return p.Entity.EntityID != types.AtlasEntityID{}
}

// CommandPayloadPacket wraps a serialized server command for one client.
// The command bus routes it to the proxy fronting that client.
type CommandPayloadPacket struct {
	Target    types.ClientID
	CmdTypeID uint32
	Payload   []byte
}

func (*CommandPayloadPacket) PacketName() string { return "CommandPayloadPacket" }

func (p *CommandPayloadPacket) Serialize(w *codec.Writer) {
	w.UUID(p.Target)
	w.U32(p.CmdTypeID)
	w.Blob(p.Payload)
}

func (p *CommandPayloadPacket) Deserialize(r *codec.Reader) error {
	p.Target = r.UUID()
	p.CmdTypeID = r.U32()
	p.Payload = r.Blob()
	return r.Err()
}

func (p *CommandPayloadPacket) Validate() bool {
	return p.Target != types.ClientID{}
}
