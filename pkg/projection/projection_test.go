package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

func newFixture(t *testing.T) (*Projector, zbmodel.UID, *zbmodel.StateStore, *eventbus.Bus) {
	t.Helper()
	model := zbmodel.NewModel()
	registry := zbmodel.NewRegistry()
	states := zbmodel.NewStateStore()
	sensors := zbmodel.NewSensorStore()
	bus := eventbus.New(8)

	uid, err := zbmodel.ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 0x1234}))
	require.NoError(t, model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, ShortAddr: 0x1234, EndpointID: 1, InClusters: []uint16{clusterOnOff}}))

	return New(model, registry, states, sensors, bus), uid, states, bus
}

func TestProjectOnOffWritesBoolState(t *testing.T) {
	p, uid, states, _ := newFixture(t)

	err := p.Project(Report{ShortAddr: 0x1234, Endpoint: 1, ClusterID: clusterOnOff, AttrID: attrOnOff, Raw: 1, TsMs: 10})
	require.NoError(t, err)

	v, _, err := states.Get(uid, "onoff")
	require.NoError(t, err)
	assert.Equal(t, zbmodel.ValueBool, v.Type)
	assert.True(t, v.Bool)
}

func TestProjectTemperatureScalesByHundred(t *testing.T) {
	p, uid, states, _ := newFixture(t)

	err := p.Project(Report{ShortAddr: 0x1234, Endpoint: 1, ClusterID: clusterTemperature, AttrID: attrMeasuredValue, Raw: 2150, TsMs: 10})
	require.NoError(t, err)

	v, _, err := states.Get(uid, "temperature_c")
	require.NoError(t, err)
	assert.InDelta(t, 21.5, float64(v.F32), 1e-6)
}

func TestProjectBatteryPercentageHalvesRaw(t *testing.T) {
	p, uid, states, _ := newFixture(t)

	err := p.Project(Report{ShortAddr: 0x1234, Endpoint: 1, ClusterID: clusterPowerConfig, AttrID: attrBatteryPercentage, Raw: 200, TsMs: 10})
	require.NoError(t, err)

	v, _, err := states.Get(uid, "battery_pct")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), v.U32)
}

func TestProjectUnrecognizedAttrSkipsStateButPublishesEvent(t *testing.T) {
	p, _, states, bus := newFixture(t)

	var captured eventbus.Event
	bus.AddListener(func(e eventbus.Event) { captured = e })

	err := p.Project(Report{ShortAddr: 0x1234, Endpoint: 1, ClusterID: 0x9999, AttrID: 0x0001, Raw: 42, TsMs: 10})
	require.NoError(t, err)

	assert.Equal(t, 0, states.Len())
	assert.Equal(t, "zigbee.attr_report", captured.Type)
	assert.Equal(t, "cluster_9999_attr_0001", captured.Msg)
}

func TestProjectUnknownShortAddrReturnsError(t *testing.T) {
	p, _, _, _ := newFixture(t)
	err := p.Project(Report{ShortAddr: 0xBEEF, Endpoint: 1, ClusterID: clusterOnOff, AttrID: attrOnOff, Raw: 1})
	assert.Error(t, err)
}
