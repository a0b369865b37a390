package zbmodel

import (
	"sync"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// MaxStateEntries bounds the State Store (§3 "Normalized state key").
const MaxStateEntries = 128

// ValueType tags a StateValue's active field.
type ValueType uint8

const (
	ValueBool ValueType = iota
	ValueF32
	ValueU32
	ValueU64
)

// StateValue is the tagged union carried by a state entry.
type StateValue struct {
	Type ValueType
	Bool bool
	F32  float32
	U32  uint32
	U64  uint64
}

type stateKey struct {
	uid UID
	key string
}

type stateEntry struct {
	value StateValue
	tsMs  uint64
}

// StateStore is the bounded, LRU-by-timestamp-evicting (uid, key) -> value
// table used by automation conditions and UI reconciliation (§3, §4.2).
type StateStore struct {
	mu      sync.Mutex
	entries map[stateKey]*stateEntry
}

// NewStateStore returns an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[stateKey]*stateEntry)}
}

// Set upserts (uid, key) -> value at tsMs. If the store is at capacity and
// this is a new key, the globally oldest entry (by tsMs) is evicted first.
func (s *StateStore) Set(uid UID, key string, value StateValue, tsMs uint64) error {
	if !uid.Valid() || key == "" || len(key) > 23 {
		return gwerr.ErrInvalidArgs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := stateKey{uid, key}
	if e, ok := s.entries[k]; ok {
		e.value = value
		e.tsMs = tsMs
		return nil
	}

	if len(s.entries) >= MaxStateEntries {
		s.evictOldestLocked()
	}
	s.entries[k] = &stateEntry{value: value, tsMs: tsMs}
	return nil
}

func (s *StateStore) evictOldestLocked() {
	var oldestKey stateKey
	var oldestTs uint64
	first := true
	for k, e := range s.entries {
		if first || e.tsMs < oldestTs {
			oldestKey = k
			oldestTs = e.tsMs
			first = false
		}
	}
	if !first {
		delete(s.entries, oldestKey)
	}
}

// Get returns the value stored for (uid, key).
func (s *StateStore) Get(uid UID, key string) (StateValue, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[stateKey{uid, key}]
	if !ok {
		return StateValue{}, 0, gwerr.ErrNotFound
	}
	return e.value, e.tsMs, nil
}

// Len returns the current entry count (used by tests and capacity metrics).
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ToFloat64 coerces a StateValue to a float64 and bool, matching
// rules_engine.c's state_to_number_bool: bool maps to 1.0/0.0 and itself;
// numeric types map to their numeric value and to (value != 0).
func (v StateValue) ToFloat64() (n float64, b bool) {
	switch v.Type {
	case ValueBool:
		if v.Bool {
			return 1.0, true
		}
		return 0.0, false
	case ValueF32:
		return float64(v.F32), v.F32 > 1e-6 || v.F32 < -1e-6
	case ValueU32:
		return float64(v.U32), v.U32 != 0
	case ValueU64:
		return float64(v.U64), v.U64 != 0
	default:
		return 0, false
	}
}
