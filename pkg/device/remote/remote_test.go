package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/rpc"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// fakeLink is a linker that records the last request and returns a
// pre-set response, mirroring pkg/action's fakeDispatcher style.
type fakeLink struct {
	lastReq   rpc.Request
	resp      rpc.Response
	err       error
	connected bool
}

func (f *fakeLink) SendRequest(_ context.Context, payload []byte) ([]byte, error) {
	req, err := rpc.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return rpc.EncodeResponse(f.resp)
}

func (f *fakeLink) IsConnected() bool { return f.connected }
func (f *fakeLink) Close() error      { return nil }

const testUID = "0x00124b00aabbccdd"

func mustUID(t *testing.T) zbmodel.UID {
	t.Helper()
	uid, err := zbmodel.ParseUID(testUID)
	require.NoError(t, err)
	return uid
}

func TestRenameDeviceCallsRPCAndUpdatesLocalMirror(t *testing.T) {
	uid := mustUID(t)
	registry := zbmodel.NewRegistry()
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 1, Name: "old"}))

	lk := &fakeLink{resp: rpc.Response{OK: true}, connected: true}
	c := New(lk, registry, zbmodel.NewModel(), zbmodel.NewStateStore())

	require.NoError(t, c.RenameDevice(context.Background(), testUID, "new name"))
	assert.Equal(t, rpc.OpRenameDevice, lk.lastReq.Op)
	assert.Equal(t, "new name", lk.lastReq.NewName)

	d, err := registry.Get(uid)
	require.NoError(t, err)
	assert.Equal(t, "new name", d.Name)
}

func TestRemoveDeviceCallsRPCAndClearsLocalMirror(t *testing.T) {
	uid := mustUID(t)
	registry := zbmodel.NewRegistry()
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 1, Name: "lamp"}))
	model := zbmodel.NewModel()
	require.NoError(t, model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, EndpointID: 1, InClusters: []uint16{0x0006}}))

	lk := &fakeLink{resp: rpc.Response{OK: true}, connected: true}
	c := New(lk, registry, model, zbmodel.NewStateStore())

	require.NoError(t, c.RemoveDevice(context.Background(), testUID, true))
	assert.Equal(t, rpc.OpRemoveDevice, lk.lastReq.Op)
	assert.True(t, lk.lastReq.Force)

	_, err := registry.Get(uid)
	assert.Error(t, err)
	assert.Empty(t, model.ListEndpoints(uid))
}

func TestGetDeviceStateReadsLocalMirrorAfterRefresh(t *testing.T) {
	uid := mustUID(t)
	registry := zbmodel.NewRegistry()
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 1, Name: "lamp"}))
	states := zbmodel.NewStateStore()
	require.NoError(t, states.Set(uid, "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: true}, 1))
	require.NoError(t, states.Set(uid, "level", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: 120}, 1))

	lk := &fakeLink{resp: rpc.Response{OK: true}, connected: true}
	c := New(lk, registry, zbmodel.NewModel(), states)

	got, err := c.GetDeviceState(context.Background(), testUID)
	require.NoError(t, err)
	assert.Equal(t, rpc.OpGetState, lk.lastReq.Op)
	assert.Equal(t, "ON", got["state"])
	assert.Equal(t, 120, got["brightness"])
}

func TestSetDeviceStateDispatchesOnOffViaRPC(t *testing.T) {
	uid := mustUID(t)
	registry := zbmodel.NewRegistry()
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 1, Name: "lamp"}))
	model := zbmodel.NewModel()
	require.NoError(t, model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, EndpointID: 1, InClusters: []uint16{0x0006}}))
	states := zbmodel.NewStateStore()

	lk := &fakeLink{resp: rpc.Response{OK: true}, connected: true}
	c := New(lk, registry, model, states)

	_, err := c.SetDeviceState(context.Background(), testUID, map[string]any{"state": "on"})
	require.NoError(t, err)
	assert.Equal(t, rpc.OpOnOff, lk.lastReq.Op)
	assert.Equal(t, uint8(action.OnOffOn), lk.lastReq.OnOffCmd)
}

func TestPermitJoinPropagatesRPCFailure(t *testing.T) {
	lk := &fakeLink{err: assert.AnError, connected: true}
	c := New(lk, zbmodel.NewRegistry(), zbmodel.NewModel(), zbmodel.NewStateStore())
	assert.Error(t, c.PermitJoin(context.Background(), true, 60))
}

func TestSubscribePublishDiscoveryEventUnsubscribe(t *testing.T) {
	c := New(&fakeLink{connected: true}, zbmodel.NewRegistry(), zbmodel.NewModel(), zbmodel.NewStateStore())
	ch := c.Subscribe()

	c.PublishDiscoveryEvent(device.DiscoveryEvent{Type: "device_joined"})
	evt := <-ch
	assert.Equal(t, "device_joined", evt.Type)

	c.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestDispatcherGroupActionsRouteThroughRPC(t *testing.T) {
	lk := &fakeLink{resp: rpc.Response{OK: true}, connected: true}
	c := New(lk, zbmodel.NewRegistry(), zbmodel.NewModel(), zbmodel.NewStateStore())

	require.NoError(t, c.GroupOnOffCmd(5, action.OnOffOff))
	assert.Equal(t, rpc.OpGroupOnOff, lk.lastReq.Op)
	assert.Equal(t, uint16(5), lk.lastReq.GroupID)

	require.NoError(t, c.SceneRecall(5, 2))
	assert.Equal(t, rpc.OpSceneRecall, lk.lastReq.Op)
	assert.Equal(t, uint8(2), lk.lastReq.SceneID)
}

func TestIsConnectedDelegatesToLink(t *testing.T) {
	lk := &fakeLink{connected: false}
	c := New(lk, zbmodel.NewRegistry(), zbmodel.NewModel(), zbmodel.NewStateStore())
	assert.False(t, c.IsConnected())
	lk.connected = true
	assert.True(t, c.IsConnected())
}
