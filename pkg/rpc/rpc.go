// Package rpc defines the CMD_REQ/CMD_RSP payload contract Node H and Node
// R exchange over pkg/link (§4.6 "Action Executor ... RPC-over-link on H",
// §6 external interfaces). Node H's action.Dispatcher and device.Controller
// implementations encode a Request and send it through Link.SendRequest;
// Node R's link.RequestHandler decodes it, calls straight through to its
// local Zigbee Scheduler / device.Controller, and encodes the Response.
// CBOR is used for the same reason pkg/automation and pkg/snapshot use it:
// neither spec.md nor SPEC_FULL.md pins this envelope to a byte-exact wire
// layout, so a real self-describing codec beats inventing one.
package rpc

import "github.com/fxamacker/cbor/v2"

// Op names one RPC operation. The first group mirrors device.Controller;
// the second mirrors action.Dispatcher one-for-one so a Request can be
// built directly from a Dispatcher method's arguments.
type Op string

const (
	OpListDevices  Op = "list_devices"
	OpGetDevice    Op = "get_device"
	OpRenameDevice Op = "rename_device"
	OpRemoveDevice Op = "remove_device"
	OpGetState     Op = "get_state"
	OpPermitJoin   Op = "permit_join"
	OpSyncSnapshot Op = "sync_snapshot"

	OpOnOff          Op = "onoff"
	OpLevel          Op = "level"
	OpColorXY        Op = "color_xy"
	OpColorTemp      Op = "color_temp"
	OpGroupOnOff     Op = "group_onoff"
	OpGroupLevel     Op = "group_level"
	OpGroupColorXY   Op = "group_color_xy"
	OpGroupColorTemp Op = "group_color_temp"
	OpSceneStore     Op = "scene_store"
	OpSceneRecall    Op = "scene_recall"
	OpBind           Op = "bind"
	OpUnbind         Op = "unbind"
)

// Request is the CMD_REQ payload body. Fields are a union across every Op;
// each handler reads only the fields its Op defines.
type Request struct {
	Op Op `cbor:"op"`

	UID       string `cbor:"uid,omitempty"`
	UID2      string `cbor:"uid2,omitempty"`
	Endpoint  uint8  `cbor:"endpoint,omitempty"`
	Endpoint2 uint8  `cbor:"endpoint2,omitempty"`
	NewName   string `cbor:"new_name,omitempty"`
	Force     bool   `cbor:"force,omitempty"`

	GroupID   uint16 `cbor:"group_id,omitempty"`
	SceneID   uint8  `cbor:"scene_id,omitempty"`
	ClusterID uint16 `cbor:"cluster_id,omitempty"`

	OnOffCmd     uint8  `cbor:"onoff_cmd,omitempty"`
	Level        uint8  `cbor:"level,omitempty"`
	TransitionMs uint16 `cbor:"transition_ms,omitempty"`
	X            uint16 `cbor:"x,omitempty"`
	Y            uint16 `cbor:"y,omitempty"`
	Mireds       uint16 `cbor:"mireds,omitempty"`

	Enable   bool `cbor:"enable,omitempty"`
	Duration int  `cbor:"duration,omitempty"`
}

// DeviceDTO is the wire form of device.Device, avoiding an import of
// pkg/device from this low-level transport-adjacent package.
type DeviceDTO struct {
	ID           string `cbor:"id"`
	Name         string `cbor:"name"`
	Type         string `cbor:"type"`
	Protocol     string `cbor:"protocol"`
	Manufacturer string `cbor:"manufacturer"`
	Model        string `cbor:"model"`
	StateSchema  []byte `cbor:"state_schema,omitempty"`
}

// Response is the CMD_RSP payload body.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	Devices []DeviceDTO    `cbor:"devices,omitempty"`
	Device  *DeviceDTO     `cbor:"device,omitempty"`
	State   map[string]any `cbor:"state,omitempty"`
}

// EncodeRequest/DecodeRequest and EncodeResponse/DecodeResponse wrap
// cbor.Marshal/Unmarshal for the two payload types.
func EncodeRequest(r Request) ([]byte, error) { return cbor.Marshal(r) }

func DecodeRequest(buf []byte) (Request, error) {
	var r Request
	err := cbor.Unmarshal(buf, &r)
	return r, err
}

func EncodeResponse(r Response) ([]byte, error) { return cbor.Marshal(r) }

func DecodeResponse(buf []byte) (Response, error) {
	var r Response
	err := cbor.Unmarshal(buf, &r)
	return r, err
}
