package rules

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/urmzd/zgw/pkg/automation"
)

// TriggerKey is the indexable shape of a trigger match: every field a
// trigger record or an incoming event can supply, plus has-flags marking
// which fields are actually constrained. Two triggers (or a trigger and an
// event's candidate projection) with equal keys hash and compare equal.
// Grounded on rules_engine.c's trigger_key_t.
type TriggerKey struct {
	EvtType     automation.EventType
	Endpoint    uint8
	ClusterID   uint16
	AttrID      uint16
	UIDHash     uint32
	CmdHash     uint32
	HasUID      bool
	HasEndpoint bool
	HasCluster  bool
	HasAttr     bool
	HasCmd      bool
}

// fnv1a32 is rules_engine.c's fnv1a32 exactly (FNV-1a, 32-bit offset basis
// 2166136261, prime 16777619) — the same constants as the standard
// library's hash/fnv.New32a, used directly instead of hand-rolled.
func fnv1a32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// hash mirrors trigger_key_hash: FNV-1a over the key's byte representation.
// The original hashes the C struct's raw memory; since Go gives no such
// guarantee, the fields are written to the hasher in the same declared
// order instead — a portable equivalent, not a byte-identical one (the
// hash never crosses the wire, so only internal self-consistency between
// insert and lookup matters).
func (k TriggerKey) hash() uint32 {
	h := fnv.New32a()
	var buf [19]byte
	buf[0] = uint8(k.EvtType)
	buf[1] = k.Endpoint
	binary.LittleEndian.PutUint16(buf[2:4], k.ClusterID)
	binary.LittleEndian.PutUint16(buf[4:6], k.AttrID)
	binary.LittleEndian.PutUint32(buf[6:10], k.UIDHash)
	binary.LittleEndian.PutUint32(buf[10:14], k.CmdHash)
	buf[14] = boolByte(k.HasUID)
	buf[15] = boolByte(k.HasEndpoint)
	buf[16] = boolByte(k.HasCluster)
	buf[17] = boolByte(k.HasAttr)
	buf[18] = boolByte(k.HasCmd)
	_, _ = h.Write(buf[:])
	return h.Sum32()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
