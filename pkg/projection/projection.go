// Package projection implements the State Projection layer (§4.7):
// turning a raw ZCL attribute report into Sensor Store writes, recognized
// State Store writes, device last-seen tracking, and an event-bus
// publication. Grounded on pkg/zigbee/controller.go's
// updateDeviceStateFromZCL, generalized to the full cluster/attr table.
package projection

import (
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// Cluster and attribute ids this layer recognizes (§4.7 table).
const (
	clusterOnOff          uint16 = 0x0006
	attrOnOff             uint16 = 0x0000
	clusterLevelControl   uint16 = 0x0008
	attrCurrentLevel      uint16 = 0x0000
	clusterPowerConfig    uint16 = 0x0001
	attrBatteryVoltage    uint16 = 0x0020
	attrBatteryPercentage uint16 = 0x0021
	clusterTemperature    uint16 = 0x0402
	clusterPressure       uint16 = 0x0403
	clusterIlluminance    uint16 = 0x0400
	clusterHumidity       uint16 = 0x0405
	clusterOccupancy      uint16 = 0x0406
	attrMeasuredValue     uint16 = 0x0000
	clusterColorControl   uint16 = 0x0300
	attrColorX            uint16 = 0x0003
	attrColorY            uint16 = 0x0004
	attrColorTemp         uint16 = 0x0007
)

// Report is one decoded ZCL attribute reading awaiting projection. Raw is
// the attribute's numeric value sign-extended to int64 (the ZCL data-type
// decode already happened upstream, in the scheduler's ZCL layer).
type Report struct {
	ShortAddr uint16
	Endpoint  uint8
	ClusterID uint16
	AttrID    uint16
	Raw       int64
	TsMs      uint64
}

// Projector wires ZCL attribute reports into the device/state/sensor
// stores and the event bus.
type Projector struct {
	model    *zbmodel.Model
	registry *zbmodel.Registry
	states   *zbmodel.StateStore
	sensors  *zbmodel.SensorStore
	bus      *eventbus.Bus
}

// New returns a Projector writing through the given stores and bus (bus
// may be nil to disable the zigbee.attr_report publication).
func New(model *zbmodel.Model, registry *zbmodel.Registry, states *zbmodel.StateStore, sensors *zbmodel.SensorStore, bus *eventbus.Bus) *Projector {
	return &Projector{model: model, registry: registry, states: states, sensors: sensors, bus: bus}
}

// Project resolves r's device by short address, records the raw reading in
// the Sensor Store, writes a normalized State Store entry if the
// (cluster, attr) pair is recognized, touches last_seen_ms, and publishes
// zigbee.attr_report. Returns gwerr.ErrNotFound if the short address isn't
// in the Zigbee Model (the caller is responsible for triggering discovery;
// §4.7 step 1's "if unknown and not throttled" policy lives in the
// Zigbee Scheduler, which owns the join/discovery handshake).
func (p *Projector) Project(r Report) error {
	uid, err := p.model.FindUIDByShort(r.ShortAddr)
	if err != nil {
		return err
	}

	_ = p.registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: r.ShortAddr, LastSeenMs: r.TsMs})

	_ = p.sensors.Upsert(zbmodel.SensorValue{
		UID:       uid,
		ShortAddr: r.ShortAddr,
		Endpoint:  r.Endpoint,
		ClusterID: r.ClusterID,
		AttrID:    r.AttrID,
		Type:      zbmodel.SensorValueI32,
		I32:       int32(r.Raw),
		TsMs:      r.TsMs,
	})

	key, value, recognized := normalize(r.ClusterID, r.AttrID, r.Raw)
	if recognized {
		_ = p.states.Set(uid, key, value, r.TsMs)
	} else {
		key = genericKey(r.ClusterID, r.AttrID)
	}

	if p.bus != nil {
		p.bus.Publish(p.reportEvent(uid, r, key, value, recognized))
	}
	return nil
}

func (p *Projector) reportEvent(uid zbmodel.UID, r Report, key string, value zbmodel.StateValue, recognized bool) eventbus.Event {
	evt := eventbus.Event{
		Type:        "zigbee.attr_report",
		Source:      "projection",
		DeviceUID:   uid.String(),
		ShortAddr:   r.ShortAddr,
		TsMs:        r.TsMs,
		Msg:         key,
		HasEndpoint: true,
		Endpoint:    r.Endpoint,
		HasCluster:  true,
		ClusterID:   r.ClusterID,
		HasAttr:     true,
		AttrID:      r.AttrID,
	}
	if !recognized {
		evt.ValueType = eventbus.ValueI64
		evt.ValueI64 = r.Raw
		return evt
	}
	switch value.Type {
	case zbmodel.ValueBool:
		evt.ValueType = eventbus.ValueBool
		evt.ValueBool = value.Bool
	case zbmodel.ValueF32:
		evt.ValueType = eventbus.ValueF64
		evt.ValueF64 = float64(value.F32)
	case zbmodel.ValueU32:
		evt.ValueType = eventbus.ValueI64
		evt.ValueI64 = int64(value.U32)
	case zbmodel.ValueU64:
		evt.ValueType = eventbus.ValueI64
		evt.ValueI64 = int64(value.U64)
	}
	return evt
}

// normalize maps (cluster, attr, raw) to a State Store key and value per
// the §4.7 table. ok is false for unrecognized pairs.
func normalize(clusterID, attrID uint16, raw int64) (key string, value zbmodel.StateValue, ok bool) {
	switch {
	case clusterID == clusterOnOff && attrID == attrOnOff:
		return "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: raw != 0}, true
	case clusterID == clusterLevelControl && attrID == attrCurrentLevel:
		return "level", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw)}, true
	case clusterID == clusterTemperature && attrID == attrMeasuredValue:
		return "temperature_c", zbmodel.StateValue{Type: zbmodel.ValueF32, F32: float32(raw) / 100}, true
	case clusterID == clusterHumidity && attrID == attrMeasuredValue:
		return "humidity_pct", zbmodel.StateValue{Type: zbmodel.ValueF32, F32: float32(raw) / 100}, true
	case clusterID == clusterPowerConfig && attrID == attrBatteryPercentage:
		return "battery_pct", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw) / 2}, true
	case clusterID == clusterPowerConfig && attrID == attrBatteryVoltage:
		return "battery_mv", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw) * 100}, true
	case clusterID == clusterOccupancy && attrID == attrMeasuredValue:
		return "occupancy", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: raw&0x01 != 0}, true
	case clusterID == clusterIlluminance && attrID == attrMeasuredValue:
		return "illuminance_raw", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw)}, true
	case clusterID == clusterPressure && attrID == attrMeasuredValue:
		return "pressure_raw", zbmodel.StateValue{Type: zbmodel.ValueF32, F32: float32(raw)}, true
	case clusterID == clusterColorControl && attrID == attrColorX:
		return "color_x", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw)}, true
	case clusterID == clusterColorControl && attrID == attrColorY:
		return "color_y", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw)}, true
	case clusterID == clusterColorControl && attrID == attrColorTemp:
		return "color_temp_mireds", zbmodel.StateValue{Type: zbmodel.ValueU32, U32: uint32(raw)}, true
	default:
		return "", zbmodel.StateValue{}, false
	}
}

// genericKey is the §6 fallback state key vocabulary entry for an
// unrecognized (cluster, attr) pair.
func genericKey(clusterID, attrID uint16) string {
	return "cluster_" + hex4(clusterID) + "_attr_" + hex4(attrID)
}

const hexDigits = "0123456789ABCDEF"

func hex4(v uint16) string {
	b := [4]byte{}
	for i := 3; i >= 0; i-- {
		b[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(b[:])
}
