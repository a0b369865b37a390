package zigbee

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/projection"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

func newFixtureController(t *testing.T) (*Controller, *fakeEZSP) {
	t.Helper()
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()
	sensors := zbmodel.NewSensorStore()
	bus := eventbus.New(8)
	fake := &fakeEZSP{}
	scheduler := &Scheduler{ezsp: fake, registry: registry, model: model}

	c := &Controller{
		scheduler: scheduler,
		registry:  registry,
		model:     model,
		states:    states,
		sensors:   sensors,
		projector: projection.New(model, registry, states, sensors, bus),
		executor:  action.NewExecutor(scheduler),
		bus:       bus,
		stopChan:  make(chan struct{}),
	}
	return c, fake
}

func TestControllerTrustCenterJoinRegistersDevice(t *testing.T) {
	c, _ := newFixtureController(t)

	var ieee [8]byte
	copy(ieee[:], []byte{0x78, 0x56, 0x34, 0x12, 0x00, 0x4b, 0x12, 0x00})
	data := make([]byte, 11)
	data[0], data[1] = 0x01, 0x00 // nodeID = 1
	copy(data[2:10], ieee[:])
	data[10] = 0x01 // joined

	c.handleTrustCenterJoin(data)

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, device.ProtocolZigbee, devices[0].Protocol)
}

func TestControllerTrustCenterLeaveRemovesDevice(t *testing.T) {
	c, _ := newFixtureController(t)
	uid, err := zbmodel.ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	require.NoError(t, c.registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 1}))

	var ieee [8]byte
	copy(ieee[:], []byte{0x78, 0x56, 0x34, 0x12, 0x00, 0x4b, 0x12, 0x00})
	data := make([]byte, 11)
	data[0], data[1] = 0x01, 0x00
	copy(data[2:10], ieee[:])
	data[10] = 0x03 // device left

	c.handleTrustCenterJoin(data)

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 0)
}

func TestControllerSetDeviceStateDispatchesOnOff(t *testing.T) {
	c, fake := newFixtureController(t)
	uid, err := zbmodel.ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	require.NoError(t, c.registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 0x5001}))
	require.NoError(t, c.model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, ShortAddr: 0x5001, EndpointID: 1, InClusters: []uint16{zclClusterOnOff}}))

	_, err = c.SetDeviceState(context.Background(), uid.String(), map[string]any{"state": "ON"})
	require.NoError(t, err)
	require.Len(t, fake.unicasts, 1)
	assert.Equal(t, zclClusterOnOff, fake.unicasts[0].clusterID)
}

func TestControllerSetDeviceStateUnknownDeviceReturnsNotFound(t *testing.T) {
	c, _ := newFixtureController(t)
	_, err := c.SetDeviceState(context.Background(), "0x00124b00ffffffff", map[string]any{"state": "ON"})
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestAttrValueToInt64DecodesLittleEndian(t *testing.T) {
	assert.Equal(t, int64(1), attrValueToInt64([]byte{0x01}))
	assert.Equal(t, int64(0x0201), attrValueToInt64([]byte{0x01, 0x02}))
}
