package transfer

import (
	"time"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// Record is one outstanding outgoing transfer, held by the sender.
type Record struct {
	ID                types.TransferID
	Receiver          types.NetworkIdentity
	EntityIDs         []types.AtlasEntityID
	Stage             types.EntityTransferStage
	WaitingOnResponse bool

	// LocalCommitTick is the sender's authority tick when Commit was sent;
	// zero until then.
	LocalCommitTick uint64

	// SentAt stamps the last Prepare send, CommitAt the Commit send.
	SentAt   time.Time
	CommitAt time.Time
	Retries  int
}

// recordSet indexes transfer records by id, with secondary non-unique
// indexes by stage and by receiver so the tick loop iterates per stage
// without scanning everything.
type recordSet struct {
	byID       map[types.TransferID]*Record
	byStage    map[types.EntityTransferStage]map[types.TransferID]*Record
	byReceiver map[types.NetworkIdentity]map[types.TransferID]*Record
}

func newRecordSet() *recordSet {
	return &recordSet{
		byID:       make(map[types.TransferID]*Record),
		byStage:    make(map[types.EntityTransferStage]map[types.TransferID]*Record),
		byReceiver: make(map[types.NetworkIdentity]map[types.TransferID]*Record),
	}
}

func (s *recordSet) insert(r *Record) {
	s.byID[r.ID] = r
	s.indexStage(r)
	if s.byReceiver[r.Receiver] == nil {
		s.byReceiver[r.Receiver] = make(map[types.TransferID]*Record)
	}
	s.byReceiver[r.Receiver][r.ID] = r
}

func (s *recordSet) indexStage(r *Record) {
	if s.byStage[r.Stage] == nil {
		s.byStage[r.Stage] = make(map[types.TransferID]*Record)
	}
	s.byStage[r.Stage][r.ID] = r
}

func (s *recordSet) setStage(r *Record, stage types.EntityTransferStage) {
	delete(s.byStage[r.Stage], r.ID)
	r.Stage = stage
	s.indexStage(r)
}

func (s *recordSet) remove(id types.TransferID) *Record {
	r, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	delete(s.byStage[r.Stage], r.ID)
	delete(s.byReceiver[r.Receiver], r.ID)
	return r
}

func (s *recordSet) get(id types.TransferID) *Record {
	return s.byID[id]
}

// inStage snapshots the records currently in a stage.
func (s *recordSet) inStage(stage types.EntityTransferStage) []*Record {
	m := s.byStage[stage]
	out := make([]*Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

func (s *recordSet) stageCounts() map[types.EntityTransferStage]int {
	out := make(map[types.EntityTransferStage]int, len(s.byStage))
	for stage, m := range s.byStage {
		out[stage] = len(m)
	}
	return out
}
