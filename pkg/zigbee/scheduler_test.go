package zigbee

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/gwerr"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

type unicastCall struct {
	nodeID               uint16
	profileID, clusterID uint16
	srcEP, dstEP         uint8
	payload              []byte
}

type multicastCall struct {
	groupID   uint16
	profileID uint16
	clusterID uint16
	srcEP     uint8
	payload   []byte
}

type fakeEZSP struct {
	unicasts   []unicastCall
	multicasts []multicastCall
	bound      bool
	unbound    bool
	failNext   error
}

func (f *fakeEZSP) SendUnicast(nodeID uint16, profileID, clusterID uint16, srcEP, dstEP uint8, payload []byte) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.unicasts = append(f.unicasts, unicastCall{nodeID, profileID, clusterID, srcEP, dstEP, append([]byte(nil), payload...)})
	return nil
}

func (f *fakeEZSP) SendMulticast(groupID uint16, profileID, clusterID uint16, srcEP uint8, payload []byte) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.multicasts = append(f.multicasts, multicastCall{groupID, profileID, clusterID, srcEP, append([]byte(nil), payload...)})
	return nil
}

func (f *fakeEZSP) Bind(srcShort uint16, srcEndpoint uint8, clusterID uint16, dstIEEE [8]byte, dstEndpoint uint8) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.bound = true
	return nil
}

func (f *fakeEZSP) Unbind(srcShort uint16, srcEndpoint uint8, clusterID uint16, dstIEEE [8]byte, dstEndpoint uint8) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.unbound = true
	return nil
}

func newFixtureScheduler(t *testing.T) (*Scheduler, *fakeEZSP, zbmodel.UID) {
	t.Helper()
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	uid, err := zbmodel.ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 0x9901}))
	require.NoError(t, model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, ShortAddr: 0x9901, EndpointID: 1, InClusters: []uint16{zclClusterOnOff, zclClusterLevelControl}}))

	fake := &fakeEZSP{}
	return &Scheduler{ezsp: fake, registry: registry, model: model}, fake, uid
}

func TestSchedulerOnOffCmdResolvesShortAddr(t *testing.T) {
	s, fake, uid := newFixtureScheduler(t)
	require.NoError(t, s.OnOffCmd(uid, 1, action.OnOffOn))
	require.Len(t, fake.unicasts, 1)
	assert.Equal(t, uint16(0x9901), fake.unicasts[0].nodeID)
	assert.Equal(t, zclClusterOnOff, fake.unicasts[0].clusterID)
}

func TestSchedulerOnOffCmdUnknownDeviceFails(t *testing.T) {
	s, _, _ := newFixtureScheduler(t)
	unknown, _ := zbmodel.ParseUID("0x00124b00ffffffff")
	err := s.OnOffCmd(unknown, 1, action.OnOffOn)
	assert.ErrorIs(t, err, gwerr.ErrNotFound)
}

func TestSchedulerLevelMoveToLevelEncodesTransitionTicks(t *testing.T) {
	s, fake, uid := newFixtureScheduler(t)
	require.NoError(t, s.LevelMoveToLevel(uid, 1, action.LevelParams{Level: 200, TransitionMs: 500}))
	require.Len(t, fake.unicasts, 1)
	payload := fake.unicasts[0].payload
	assert.Equal(t, byte(200), payload[3]) // cluster-specific header is 3 bytes
	// 500 ms -> 5 tenth-second ticks, little-endian
	assert.Equal(t, []byte{5, 0}, payload[4:6])
}

func TestSchedulerGroupOnOffUsesMulticast(t *testing.T) {
	s, fake, _ := newFixtureScheduler(t)
	require.NoError(t, s.GroupOnOffCmd(0x1234, action.OnOffOff))
	require.Len(t, fake.multicasts, 1)
	assert.Equal(t, uint16(0x1234), fake.multicasts[0].groupID)
	assert.Equal(t, zclClusterOnOff, fake.multicasts[0].clusterID)
}

func TestSchedulerSceneRecallUsesScenesCluster(t *testing.T) {
	s, fake, _ := newFixtureScheduler(t)
	require.NoError(t, s.SceneRecall(0x1234, 7))
	require.Len(t, fake.multicasts, 1)
	assert.Equal(t, zclClusterScenes, fake.multicasts[0].clusterID)
}

func TestSchedulerBindResolvesSourceShortAddr(t *testing.T) {
	s, fake, uid := newFixtureScheduler(t)
	dst, _ := zbmodel.ParseUID("0x00124b00aabbccdd")
	require.NoError(t, s.Bind(uid, 1, zclClusterOnOff, dst, 1))
	assert.True(t, fake.bound)
}

func TestSchedulerScheduleReadsQueuesKnownClusters(t *testing.T) {
	s, fake, _ := newFixtureScheduler(t)
	n := s.ScheduleReads(context.Background())
	assert.Equal(t, 2, n) // onoff + level, per the fixture endpoint's InClusters
	assert.Len(t, fake.unicasts, 2)
}

func TestSchedulerScheduleReadsStopsOnCanceledContext(t *testing.T) {
	s, _, _ := newFixtureScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := s.ScheduleReads(ctx)
	assert.Equal(t, 0, n)
}
