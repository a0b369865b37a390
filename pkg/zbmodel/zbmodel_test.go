package zbmodel

import (
	"fmt"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/zgw/pkg/gwerr"
)

func TestUIDRoundTrip(t *testing.T) {
	prop := func(v uint64) bool {
		u := UID(v)
		parsed, err := ParseUID(u.String())
		return err == nil && parsed == u
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 500}))
}

func TestParseUIDAcceptsEitherCase(t *testing.T) {
	lower, err := ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	upper, err := ParseUID("0x00124B0012345678")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestParseUIDRejectsMalformed(t *testing.T) {
	_, err := ParseUID("0x1234")
	assert.Error(t, err)
	_, err = ParseUID("00124b0012345678")
	assert.Error(t, err)
}

func TestRegistryMergeOnDuplicateUID(t *testing.T) {
	r := NewRegistry()
	uid, _ := ParseUID("0x00124b0012345678")
	require.NoError(t, r.Upsert(Device{UID: uid, LastSeenMs: 10, HasOnOff: true, Name: "relay1"}))
	require.NoError(t, r.Upsert(Device{UID: uid, LastSeenMs: 20, HasButton: true}))

	d, err := r.Get(uid)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), d.LastSeenMs)
	assert.True(t, d.HasOnOff)
	assert.True(t, d.HasButton)
	assert.Equal(t, "relay1", d.Name)
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxDevices; i++ {
		uid := UID(i + 1)
		require.NoError(t, r.Upsert(Device{UID: uid}))
	}
	err := r.Upsert(Device{UID: UID(MaxDevices + 1)})
	assert.ErrorIs(t, err, gwerr.ErrNoMem)
}

func TestAutoNamePicksNextIndex(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Upsert(Device{UID: UID(1), Name: "relay1"}))
	require.NoError(t, r.Upsert(Device{UID: UID(2), Name: "relay3"}))
	name := r.AutoName(true, false)
	assert.Equal(t, "relay4", name)
}

func TestStateStoreLRUEviction(t *testing.T) {
	s := NewStateStore()
	uid := UID(1)
	for i := 0; i < MaxStateEntries; i++ {
		require.NoError(t, s.Set(uid, fmt.Sprintf("k%d", i), StateValue{Type: ValueU32, U32: uint32(i)}, uint64(i)))
	}
	require.Equal(t, MaxStateEntries, s.Len())

	// k0 has the smallest ts_ms (0); inserting one more entry should evict it.
	require.NoError(t, s.Set(uid, "new", StateValue{Type: ValueU32, U32: 999}, uint64(MaxStateEntries)))
	assert.Equal(t, MaxStateEntries, s.Len())
	_, _, err := s.Get(uid, "k0")
	assert.Error(t, err)
	_, _, err = s.Get(uid, "k1")
	assert.NoError(t, err)
}

func TestSensorStoreRejectsOverCapacity(t *testing.T) {
	s := NewSensorStore()
	for i := 0; i < MaxSensorEntries; i++ {
		require.NoError(t, s.Upsert(SensorValue{UID: UID(1), Endpoint: uint8(i%240 + 1), AttrID: uint16(i)}))
	}
	err := s.Upsert(SensorValue{UID: UID(1), Endpoint: 1, AttrID: uint16(MaxSensorEntries)})
	assert.Error(t, err)
}

func TestModelUpsertAndLookup(t *testing.T) {
	m := NewModel()
	uid := UID(1)
	require.NoError(t, m.UpsertEndpoint(Endpoint{UID: uid, ShortAddr: 0x1234, EndpointID: 1, InClusters: []uint16{0x0006}}))

	ep, err := m.GetEndpoint(uid, 1)
	require.NoError(t, err)
	assert.True(t, ep.HasInCluster(0x0006))

	found, err := m.FindUIDByShort(0x1234)
	require.NoError(t, err)
	assert.Equal(t, uid, found)
}
