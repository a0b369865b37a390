package zbmodel

import (
	"sync"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// MaxSensorEntries bounds the Sensor Store (§3 "Sensor value"); insertions
// past capacity are rejected rather than evicted.
const MaxSensorEntries = 64

// SensorValueType tags a SensorValue's raw scalar.
type SensorValueType uint8

const (
	SensorValueI32 SensorValueType = iota
	SensorValueU32
)

type sensorKey struct {
	uid       UID
	shortAddr uint16
	endpoint  uint8
	cluster   uint16
	attr      uint16
}

// SensorValue is a single raw-reading entry (§3 "Sensor value").
type SensorValue struct {
	UID       UID
	ShortAddr uint16
	Endpoint  uint8
	ClusterID uint16
	AttrID    uint16
	Type      SensorValueType
	I32       int32
	U32       uint32
	TsMs      uint64
}

// SensorStore is the bounded 5-tuple-keyed raw-reading table (§3, §4.2).
type SensorStore struct {
	mu      sync.Mutex
	entries map[sensorKey]*SensorValue
}

// NewSensorStore returns an empty SensorStore.
func NewSensorStore() *SensorStore {
	return &SensorStore{entries: make(map[sensorKey]*SensorValue)}
}

// Upsert writes v, keyed by its 5-tuple. A brand-new key is rejected with
// ErrNoMem once the store is at capacity (no eviction, per §4.2).
func (s *SensorStore) Upsert(v SensorValue) error {
	if !v.UID.Valid() {
		return gwerr.ErrInvalidArgs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := sensorKey{v.UID, v.ShortAddr, v.Endpoint, v.ClusterID, v.AttrID}
	if _, ok := s.entries[k]; !ok && len(s.entries) >= MaxSensorEntries {
		return gwerr.ErrNoMem
	}
	cp := v
	s.entries[k] = &cp
	return nil
}

// List returns every sensor value recorded for uid.
func (s *SensorStore) List(uid UID) []SensorValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SensorValue
	for k, v := range s.entries {
		if k.uid == uid {
			out = append(out, *v)
		}
	}
	return out
}
