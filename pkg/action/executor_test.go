package action

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

type fakeDispatcher struct {
	onoffUID      zbmodel.UID
	onoffEndpoint uint8
	onoffCmd      OnOffCmd

	levelUID    zbmodel.UID
	levelParams LevelParams

	groupOnoffID  uint16
	groupOnoffCmd OnOffCmd

	boundSrc, boundDst           zbmodel.UID
	boundSrcEp, boundDstEp       uint8
	boundCluster                uint16
	unbindCalled                bool

	sceneGroupID uint16
	sceneID      uint8
	sceneRecall  bool
}

func (f *fakeDispatcher) OnOffCmd(uid zbmodel.UID, endpoint uint8, cmd OnOffCmd) error {
	f.onoffUID, f.onoffEndpoint, f.onoffCmd = uid, endpoint, cmd
	return nil
}
func (f *fakeDispatcher) LevelMoveToLevel(uid zbmodel.UID, endpoint uint8, p LevelParams) error {
	f.levelUID, f.levelParams = uid, p
	return nil
}
func (f *fakeDispatcher) ColorMoveToXY(zbmodel.UID, uint8, ColorXYParams) error            { return nil }
func (f *fakeDispatcher) ColorMoveToTemperature(zbmodel.UID, uint8, ColorTempParams) error { return nil }

func (f *fakeDispatcher) GroupOnOffCmd(groupID uint16, cmd OnOffCmd) error {
	f.groupOnoffID, f.groupOnoffCmd = groupID, cmd
	return nil
}
func (f *fakeDispatcher) GroupLevelMoveToLevel(uint16, LevelParams) error            { return nil }
func (f *fakeDispatcher) GroupColorMoveToXY(uint16, ColorXYParams) error             { return nil }
func (f *fakeDispatcher) GroupColorMoveToTemperature(uint16, ColorTempParams) error { return nil }

func (f *fakeDispatcher) SceneStore(groupID uint16, sceneID uint8) error {
	f.sceneGroupID, f.sceneID, f.sceneRecall = groupID, sceneID, false
	return nil
}
func (f *fakeDispatcher) SceneRecall(groupID uint16, sceneID uint8) error {
	f.sceneGroupID, f.sceneID, f.sceneRecall = groupID, sceneID, true
	return nil
}

func (f *fakeDispatcher) Bind(src zbmodel.UID, srcEp uint8, clusterID uint16, dst zbmodel.UID, dstEp uint8) error {
	f.boundSrc, f.boundSrcEp, f.boundCluster, f.boundDst, f.boundDstEp = src, srcEp, clusterID, dst, dstEp
	return nil
}
func (f *fakeDispatcher) Unbind(src zbmodel.UID, srcEp uint8, clusterID uint16, dst zbmodel.UID, dstEp uint8) error {
	f.unbindCalled = true
	f.boundSrc, f.boundSrcEp, f.boundCluster, f.boundDst, f.boundDstEp = src, srcEp, clusterID, dst, dstEp
	return nil
}

func mustCompile(t *testing.T, doc map[string]interface{}) *automation.Compiled {
	t.Helper()
	b, err := cbor.Marshal(doc)
	require.NoError(t, err)
	c, err := automation.CompileCBOR(b)
	require.NoError(t, err)
	return c
}

func baseDoc(action map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":      "auto-1",
		"name":    "test",
		"enabled": true,
		"triggers": []map[string]interface{}{
			{"type": "event", "event_type": "device.join"},
		},
		"actions": []map[string]interface{}{action},
	}
}

func TestExecutorDispatchesDeviceOnOff(t *testing.T) {
	c := mustCompile(t, baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "onoff.on", "device_uid": "0x00124b00aabbccdd", "endpoint": uint64(1),
	}))
	d := &fakeDispatcher{}
	x := NewExecutor(d)
	require.NoError(t, x.Execute(c, c.Actions[0]))
	assert.Equal(t, OnOffOn, d.onoffCmd)
	assert.Equal(t, uint8(1), d.onoffEndpoint)
}

func TestExecutorDispatchesGroupOnOff(t *testing.T) {
	c := mustCompile(t, baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "onoff.off", "group_id": uint64(9),
	}))
	d := &fakeDispatcher{}
	x := NewExecutor(d)
	require.NoError(t, x.Execute(c, c.Actions[0]))
	assert.Equal(t, OnOffOff, d.groupOnoffCmd)
	assert.Equal(t, uint16(9), d.groupOnoffID)
}

func TestExecutorDispatchesSceneRecall(t *testing.T) {
	c := mustCompile(t, baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "scene.recall", "group_id": uint64(3), "scene_id": uint64(7),
	}))
	d := &fakeDispatcher{}
	x := NewExecutor(d)
	require.NoError(t, x.Execute(c, c.Actions[0]))
	assert.True(t, d.sceneRecall)
	assert.Equal(t, uint16(3), d.sceneGroupID)
	assert.Equal(t, uint8(7), d.sceneID)
}

func TestExecutorDispatchesBindAndUnbind(t *testing.T) {
	c := mustCompile(t, baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "bind",
		"src_device_uid": "0x00124b0012345678", "src_endpoint": uint64(1),
		"dst_device_uid": "0x00124b00aabbccdd", "dst_endpoint": uint64(2),
		"cluster_id": uint64(6),
	}))
	d := &fakeDispatcher{}
	x := NewExecutor(d)
	require.NoError(t, x.Execute(c, c.Actions[0]))
	assert.False(t, d.unbindCalled)
	assert.Equal(t, uint16(6), d.boundCluster)

	c.Actions[0].Flags = automation.ActionFlagUnbind
	require.NoError(t, x.Execute(c, c.Actions[0]))
	assert.True(t, d.unbindCalled)
}

func TestExecutorRejectsBadGroupID(t *testing.T) {
	doc := baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "level.move_to_level", "group_id": uint64(5), "level": uint64(100),
	})
	c := mustCompile(t, doc)
	// force an invalid group id past the compiler by editing the record directly
	c.Actions[0].U16_0 = 0xFFFF
	d := &fakeDispatcher{}
	x := NewExecutor(d)
	assert.Error(t, x.Execute(c, c.Actions[0]))
}

func TestExecutorRejectsMissingCmd(t *testing.T) {
	x := NewExecutor(&fakeDispatcher{})
	c := mustCompile(t, baseDoc(map[string]interface{}{
		"type": "zigbee", "cmd": "onoff.on", "device_uid": "0x00124b00aabbccdd", "endpoint": uint64(1),
	}))
	c.Actions[0].CmdOff = 0
	assert.Error(t, x.Execute(c, c.Actions[0]))
}
