// Package classify derives a human-facing endpoint kind and its accepted /
// emitted / reported verb lists from a Simple Descriptor's cluster lists.
// Grounded on original_source's zb_classify.c; the precedence order and verb
// lists are reproduced exactly, cluster-membership checks generalized from
// linear array scans to zbmodel.Endpoint's HasInCluster/HasOutCluster.
package classify

import "github.com/urmzd/zgw/pkg/zbmodel"

// ZCL cluster IDs relevant to classification.
const (
	clusterBasic        uint16 = 0x0000
	clusterPowerConfig  uint16 = 0x0001
	clusterGroups       uint16 = 0x0004
	clusterScenes       uint16 = 0x0005
	clusterOnOff        uint16 = 0x0006
	clusterLevel        uint16 = 0x0008
	clusterColorControl uint16 = 0x0300
	clusterIlluminance  uint16 = 0x0400
	clusterTemperature  uint16 = 0x0402
	clusterPressure     uint16 = 0x0403
	clusterFlow         uint16 = 0x0404
	clusterHumidity     uint16 = 0x0405
	clusterOccupancy    uint16 = 0x0406
)

// Kind is the classifier's closed set of endpoint kinds.
const (
	KindColorLight         = "color_light"
	KindDimmableLight       = "dimmable_light"
	KindRelay               = "relay"
	KindDimmerSwitch        = "dimmer_switch"
	KindSwitch              = "switch"
	KindTempHumiditySensor  = "temp_humidity_sensor"
	KindTemperatureSensor   = "temperature_sensor"
	KindHumiditySensor      = "humidity_sensor"
	KindOccupancySensor     = "occupancy_sensor"
	KindIlluminanceSensor   = "illuminance_sensor"
	KindPressureSensor      = "pressure_sensor"
	KindFlowSensor          = "flow_sensor"
	KindSensor              = "sensor"
	KindUnknown             = "unknown"
)

// EndpointKind classifies ep into one of the Kind constants, in the exact
// precedence order of zb_classify.c: actuators before controllers before
// sensors, and within sensors, temp+humidity combined before any single
// sensor type.
func EndpointKind(ep zbmodel.Endpoint) string {
	onoffSrv := ep.HasInCluster(clusterOnOff)
	onoffCli := ep.HasOutCluster(clusterOnOff)
	levelSrv := ep.HasInCluster(clusterLevel)
	colorSrv := ep.HasInCluster(clusterColorControl)

	tempSrv := ep.HasInCluster(clusterTemperature)
	humSrv := ep.HasInCluster(clusterHumidity)
	occSrv := ep.HasInCluster(clusterOccupancy)
	illumSrv := ep.HasInCluster(clusterIlluminance)
	pressSrv := ep.HasInCluster(clusterPressure)
	flowSrv := ep.HasInCluster(clusterFlow)

	switch {
	case colorSrv:
		return KindColorLight
	case levelSrv && onoffSrv:
		return KindDimmableLight
	case onoffSrv:
		return KindRelay
	}

	if onoffCli {
		if ep.HasOutCluster(clusterLevel) {
			return KindDimmerSwitch
		}
		return KindSwitch
	}

	if tempSrv || humSrv || occSrv || illumSrv || pressSrv || flowSrv {
		switch {
		case tempSrv && humSrv:
			return KindTempHumiditySensor
		case tempSrv:
			return KindTemperatureSensor
		case humSrv:
			return KindHumiditySensor
		case occSrv:
			return KindOccupancySensor
		case illumSrv:
			return KindIlluminanceSensor
		case pressSrv:
			return KindPressureSensor
		case flowSrv:
			return KindFlowSensor
		default:
			return KindSensor
		}
	}

	return KindUnknown
}

// Accepts lists the action verbs ep can be commanded with, derived from its
// server ("in") cluster list.
func Accepts(ep zbmodel.Endpoint) []string {
	var out []string
	if ep.HasInCluster(clusterOnOff) {
		out = append(out,
			"onoff.off", "onoff.on", "onoff.toggle",
			"onoff.off_with_effect", "onoff.on_with_recall_global_scene", "onoff.on_with_timed_off")
	}
	if ep.HasInCluster(clusterLevel) {
		out = append(out,
			"level.move_to_level", "level.move", "level.step", "level.stop",
			"level.move_to_level_with_onoff", "level.move_with_onoff",
			"level.step_with_onoff", "level.stop_with_onoff")
	}
	if ep.HasInCluster(clusterColorControl) {
		out = append(out,
			"color.move_to_hue", "color.move_hue", "color.step_hue",
			"color.move_to_saturation", "color.move_saturation", "color.step_saturation",
			"color.move_to_hue_saturation", "color.move_to_color_xy",
			"color.move_to_color_temperature", "color.stop_move_step")
	}
	if ep.HasInCluster(clusterGroups) {
		out = append(out, "groups.add", "groups.remove")
	}
	if ep.HasInCluster(clusterScenes) {
		out = append(out, "scenes.recall")
	}
	return out
}

// Emits lists the verbs ep itself sends, derived from its client ("out")
// cluster list (e.g. a switch or dimmer-switch controller endpoint).
func Emits(ep zbmodel.Endpoint) []string {
	var out []string
	if ep.HasOutCluster(clusterOnOff) {
		out = append(out, "onoff.off", "onoff.on", "onoff.toggle")
	}
	if ep.HasOutCluster(clusterLevel) {
		out = append(out,
			"level.move_to_level", "level.move", "level.step", "level.stop",
			"level.move_to_level_with_onoff", "level.move_with_onoff",
			"level.step_with_onoff", "level.stop_with_onoff")
	}
	if ep.HasOutCluster(clusterColorControl) {
		out = append(out, "color.*")
	}
	return out
}

// Reports lists the normalized state keys ep is expected to report, derived
// from its server cluster list.
func Reports(ep zbmodel.Endpoint) []string {
	var out []string
	if ep.HasInCluster(clusterOnOff) {
		out = append(out, "onoff")
	}
	if ep.HasInCluster(clusterLevel) {
		out = append(out, "level")
	}
	if ep.HasInCluster(clusterTemperature) {
		out = append(out, "temperature_c")
	}
	if ep.HasInCluster(clusterHumidity) {
		out = append(out, "humidity_pct")
	}
	if ep.HasInCluster(clusterOccupancy) {
		out = append(out, "occupancy")
	}
	if ep.HasInCluster(clusterIlluminance) {
		out = append(out, "illuminance_raw")
	}
	if ep.HasInCluster(clusterPowerConfig) {
		out = append(out, "battery_pct")
	}
	return out
}
