// Package action implements the Action Executor (§4.6): translating a
// compiled automation action record into a concrete Zigbee command against
// a device, group, or scene, or a ZDO bind/unbind request. Grounded on
// original_source's action_exec.c (gw_action_exec_compiled and its
// per-kind dispatch).
package action

import "github.com/urmzd/zgw/pkg/zbmodel"

// OnOffCmd is the on/off command a device or group action carries.
type OnOffCmd uint8

const (
	OnOffToggle OnOffCmd = iota
	OnOffOn
	OnOffOff
)

// LevelParams is the level-cluster move-to-level command's arguments.
type LevelParams struct {
	Level        uint8
	TransitionMs uint16
}

// ColorXYParams is the color-cluster move-to-color-xy command's arguments.
type ColorXYParams struct {
	X, Y         uint16
	TransitionMs uint16
}

// ColorTempParams is the color-cluster move-to-color-temperature command's
// arguments (mireds, not Kelvin, matching the ZCL attribute's native unit).
type ColorTempParams struct {
	Mireds       uint16
	TransitionMs uint16
}

// Dispatcher is the set of Zigbee/ZDO operations an action can invoke.
// Implemented by the Zigbee Scheduler (pkg/zigbee); declared here so
// pkg/action depends on an interface rather than the scheduler package,
// the same separation pkg/rules uses for ActionExecutor.
type Dispatcher interface {
	OnOffCmd(uid zbmodel.UID, endpoint uint8, cmd OnOffCmd) error
	LevelMoveToLevel(uid zbmodel.UID, endpoint uint8, p LevelParams) error
	ColorMoveToXY(uid zbmodel.UID, endpoint uint8, p ColorXYParams) error
	ColorMoveToTemperature(uid zbmodel.UID, endpoint uint8, p ColorTempParams) error

	GroupOnOffCmd(groupID uint16, cmd OnOffCmd) error
	GroupLevelMoveToLevel(groupID uint16, p LevelParams) error
	GroupColorMoveToXY(groupID uint16, p ColorXYParams) error
	GroupColorMoveToTemperature(groupID uint16, p ColorTempParams) error

	SceneStore(groupID uint16, sceneID uint8) error
	SceneRecall(groupID uint16, sceneID uint8) error

	Bind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error
	Unbind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error
}
