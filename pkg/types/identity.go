package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
)

// Role identifies what kind of process an identity belongs to.
type Role uint32

const (
	RoleInvalid Role = iota
	RoleShard
	RoleCoordinator
	RoleProxy
	RoleClient
	RoleObserver
)

var roleNames = map[Role]string{
	RoleShard:       "shard",
	RoleCoordinator: "coordinator",
	RoleProxy:       "proxy",
	RoleClient:      "client",
	RoleObserver:    "observer",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "invalid"
}

// ParseRole maps a role name back to its Role value.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleInvalid, fmt.Errorf("unknown role: %q", s)
}

// NetworkIdentity is the stable identity of a process: its role plus a UUID
// generated at process start. Identities are comparable and usable as map
// keys; equality covers both fields.
type NetworkIdentity struct {
	Role Role
	UUID uuid.UUID
}

// NewShardIdentity mints a fresh shard identity.
func NewShardIdentity() NetworkIdentity {
	return NetworkIdentity{Role: RoleShard, UUID: uuid.New()}
}

// NewCoordinatorIdentity mints a fresh coordinator identity.
func NewCoordinatorIdentity() NetworkIdentity {
	return NetworkIdentity{Role: RoleCoordinator, UUID: uuid.New()}
}

// NewProxyIdentity wraps an existing proxy UUID.
func NewProxyIdentity(id uuid.UUID) NetworkIdentity {
	return NetworkIdentity{Role: RoleProxy, UUID: id}
}

// IsValid reports whether the identity carries a known role.
func (n NetworkIdentity) IsValid() bool {
	return n.Role != RoleInvalid
}

// IsZero reports whether the identity is the zero value.
func (n NetworkIdentity) IsZero() bool {
	return n.Role == RoleInvalid && n.UUID == uuid.UUID{}
}

// String renders the identity in its wire presentation form
// "<role> <uuid>". This string is also the claim key used when recording
// bound ownership in the manifest store.
func (n NetworkIdentity) String() string {
	return n.Role.String() + " " + n.UUID.String()
}

// ParseIdentity parses the "<role> <uuid>" presentation form.
func ParseIdentity(s string) (NetworkIdentity, error) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return NetworkIdentity{}, fmt.Errorf("malformed identity: %q", s)
	}
	role, err := ParseRole(parts[0])
	if err != nil {
		return NetworkIdentity{}, err
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return NetworkIdentity{}, fmt.Errorf("malformed identity uuid: %w", err)
	}
	return NetworkIdentity{Role: role, UUID: id}, nil
}

// Serialize writes the identity through the codec: role as u32, then the
// UUID string form.
func (n NetworkIdentity) Serialize(w *codec.Writer) {
	w.U32(uint32(n.Role))
	w.Str(n.UUID.String())
}

// Deserialize reads the codec form written by Serialize.
func (n *NetworkIdentity) Deserialize(r *codec.Reader) error {
	n.Role = Role(r.U32())
	raw := r.Str()
	if err := r.Err(); err != nil {
		return err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("identity uuid: %w", err)
	}
	n.UUID = id
	return nil
}

// EncodeIdentity returns the codec bytes of an identity, used as a hash
// field key in manifest tables.
func EncodeIdentity(n NetworkIdentity) []byte {
	w := codec.NewWriter()
	n.Serialize(w)
	return w.Bytes()
}

// DecodeIdentity parses identity bytes produced by EncodeIdentity.
func DecodeIdentity(b []byte) (NetworkIdentity, error) {
	var n NetworkIdentity
	r := codec.NewReader(b)
	if err := n.Deserialize(r); err != nil {
		return NetworkIdentity{}, err
	}
	return n, nil
}
