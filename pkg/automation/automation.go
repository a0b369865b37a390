// Package automation implements the GWAR compiled-automation container:
// compiling an author-facing CBOR document into a flat binary layout, and
// serializing/deserializing that layout losslessly. Grounded on
// original_source's automation_compiled.c/.h (compiler and container
// format) and action_exec.c (action dispatch schema the compiler targets).
package automation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/urmzd/zgw/pkg/gwerr"
)

// decMode decodes every nested CBOR map as map[string]interface{} rather
// than the library default of map[interface{}]interface{}, since the
// authoring schema's "match"/"ref" sub-maps are walked by string key.
var decMode = func() cbor.DecMode {
	opts := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}
	m, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Compiled is the in-memory, heap-owned compiled representation — the Go
// analogue of gw_auto_compiled_t, minus manual free() bookkeeping.
type Compiled struct {
	Header     Header
	Automation AutomationRecord
	Triggers   []TriggerRecord
	Conditions []ConditionRecord
	Actions    []ActionRecord
	Strings    *stringTable
}

type authoringDoc struct {
	ID         string                   `cbor:"id"`
	Name       string                   `cbor:"name"`
	Enabled    *bool                    `cbor:"enabled,omitempty"`
	Triggers   []map[string]interface{} `cbor:"triggers"`
	Conditions []map[string]interface{} `cbor:"conditions,omitempty"`
	Actions    []map[string]interface{} `cbor:"actions"`
}

// CompileCBOR compiles an author-facing automation document (CBOR-encoded,
// schema identical to the JSON the REST API accepts) into a Compiled
// container. Only single-run mode is supported, matching the current
// runtime (automation_compiled.c hardcodes mode=1).
func CompileCBOR(buf []byte) (*Compiled, error) {
	if len(buf) == 0 {
		return nil, errf("bad args")
	}

	var doc authoringDoc
	if err := decMode.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", gwerr.ErrInvalidArgs, err)
	}
	if doc.ID == "" {
		return nil, errf("missing id")
	}
	if doc.Triggers == nil {
		return nil, errf("missing triggers")
	}
	if doc.Actions == nil {
		return nil, errf("missing actions")
	}

	st := newStringTable()

	triggers, err := compileTriggers(doc.Triggers, st)
	if err != nil {
		return nil, err
	}
	conditions, err := compileConditions(doc.Conditions, st)
	if err != nil {
		return nil, err
	}
	actions, err := compileActions(doc.Actions, st)
	if err != nil {
		return nil, err
	}

	enabled := uint8(1)
	if doc.Enabled != nil && !*doc.Enabled {
		enabled = 0
	}

	autoRec := AutomationRecord{
		IDOff:           st.add(doc.ID),
		NameOff:         st.add(doc.Name),
		Enabled:         enabled,
		Mode:            1,
		TriggersCount:   uint32(len(triggers)),
		ConditionsCount: uint32(len(conditions)),
		ActionsCount:    uint32(len(actions)),
	}

	return &Compiled{
		Header: Header{
			Magic:               Magic,
			Version:             Version,
			AutomationCount:     1,
			TriggerCountTotal:   uint32(len(triggers)),
			ConditionCountTotal: uint32(len(conditions)),
			ActionCountTotal:    uint32(len(actions)),
		},
		Automation: autoRec,
		Triggers:   triggers,
		Conditions: conditions,
		Actions:    actions,
		Strings:    st,
	}, nil
}

func compileTriggers(items []map[string]interface{}, st *stringTable) ([]TriggerRecord, error) {
	out := make([]TriggerRecord, 0, len(items))
	for _, t := range items {
		typ, _ := asString(t["type"])
		if typ != "event" {
			return nil, errf("unsupported trigger.type")
		}
		evStr, ok := asString(t["event_type"])
		if !ok {
			return nil, errf("missing trigger.event_type")
		}
		et := eventTypeFromString(evStr)
		if et == EventInvalid {
			return nil, errf("unsupported event_type")
		}

		rec := TriggerRecord{EventType: et}

		if match, ok := getMap(t, "match"); ok {
			if uidv, ok := match["device_uid"]; ok {
				uid, ok := asString(uidv)
				if !ok || !isUIDString(uid) {
					return nil, errf("bad trigger.device_uid")
				}
				rec.DeviceUIDOff = st.add(uid)
			}
			if epv, ok := match["payload.endpoint"]; ok {
				if v, ok := asUint16(epv); ok && v <= 240 {
					rec.Endpoint = uint8(v)
				}
			}
			switch et {
			case EventZigbeeCommand:
				if cmdv, ok := match["payload.cmd"]; ok {
					if cmd, ok := asString(cmdv); ok {
						rec.CmdOff = st.add(cmd)
					}
				}
				if clv, ok := match["payload.cluster"]; ok {
					if v, ok := asUint16(clv); ok {
						rec.ClusterID = v
					}
				}
			case EventZigbeeAttrReport:
				if clv, ok := match["payload.cluster"]; ok {
					if v, ok := asUint16(clv); ok {
						rec.ClusterID = v
					}
				}
				if av, ok := match["payload.attr"]; ok {
					if v, ok := asUint16(av); ok {
						rec.AttrID = v
					}
				}
			}
		}

		out = append(out, rec)
	}
	return out, nil
}

func compileConditions(items []map[string]interface{}, st *stringTable) ([]ConditionRecord, error) {
	out := make([]ConditionRecord, 0, len(items))
	for _, c := range items {
		typ, _ := asString(c["type"])
		if typ != "state" {
			return nil, errf("unsupported condition.type")
		}
		opStr, ok := asString(c["op"])
		if !ok {
			return nil, errf("missing condition.op")
		}
		op := opFromString(opStr)
		if op == OpInvalid {
			return nil, errf("bad condition.op")
		}
		ref, ok := getMap(c, "ref")
		if !ok {
			return nil, errf("missing condition.ref")
		}
		uid, ok := asString(ref["device_uid"])
		if !ok {
			return nil, errf("missing condition.ref.device_uid")
		}
		if !isUIDString(uid) {
			return nil, errf("bad condition.ref.device_uid")
		}
		key, ok := asString(ref["key"])
		if !ok {
			return nil, errf("missing condition.ref.key")
		}

		rec := ConditionRecord{
			Op:           op,
			DeviceUIDOff: st.add(uid),
			KeyOff:       st.add(key),
		}

		if val, ok := c["value"]; ok {
			if b, ok := asBool(val); ok {
				rec.ValType = ValBool
				if b {
					rec.ValueBits = 1
				}
			} else if f, ok := asFloat64(val); ok {
				rec.ValType = ValF64
				rec.ValueBits = math.Float64bits(f)
			} else {
				return nil, errf("bad condition.value")
			}
		} else {
			rec.ValType = ValBool
			rec.ValueBits = 1
		}

		out = append(out, rec)
	}
	return out, nil
}

func compileActions(items []map[string]interface{}, st *stringTable) ([]ActionRecord, error) {
	out := make([]ActionRecord, 0, len(items))
	for _, a := range items {
		typ, _ := asString(a["type"])
		if typ != "zigbee" {
			return nil, errf("unsupported action.type")
		}
		cmd, ok := asString(a["cmd"])
		if !ok || cmd == "" {
			return nil, errf("missing action.cmd")
		}

		rec := ActionRecord{CmdOff: st.add(cmd)}

		switch {
		case cmd == "bind" || cmd == "unbind" || cmd == "bindings.bind" || cmd == "bindings.unbind":
			if err := compileBindAction(a, &rec, cmd, st); err != nil {
				return nil, err
			}
		case cmd == "scene.store" || cmd == "scene.recall":
			if err := compileSceneAction(a, &rec); err != nil {
				return nil, err
			}
		default:
			if groupID, ok := groupIDOf(a); ok {
				rec.Kind = ActGroup
				rec.U16_0 = groupID
				if err := compileZigbeeArgs(a, cmd, &rec); err != nil {
					return nil, err
				}
			} else {
				if err := compileDeviceAction(a, cmd, &rec, st); err != nil {
					return nil, err
				}
			}
		}

		out = append(out, rec)
	}
	return out, nil
}

func groupIDOf(a map[string]interface{}) (uint16, bool) {
	v, ok := a["group_id"]
	if !ok {
		return 0, false
	}
	gid, ok := asUint16(v)
	if !ok || gid == 0 || gid == 0xFFFF {
		return 0, false
	}
	return gid, true
}

func compileBindAction(a map[string]interface{}, rec *ActionRecord, cmd string, st *stringTable) error {
	srcUID, ok := asString(a["src_device_uid"])
	if !ok {
		return errf("missing action.src_device_uid")
	}
	dstUID, ok := asString(a["dst_device_uid"])
	if !ok {
		return errf("missing action.dst_device_uid")
	}
	if !isUIDString(srcUID) {
		return errf("bad action.src_device_uid")
	}
	if !isUIDString(dstUID) {
		return errf("bad action.dst_device_uid")
	}

	srcEp, ok := asUint16(a["src_endpoint"])
	if !ok || srcEp == 0 || srcEp > 240 {
		return errf("bad action.src_endpoint")
	}
	dstEp, ok := asUint16(a["dst_endpoint"])
	if !ok || dstEp == 0 || dstEp > 240 {
		return errf("bad action.dst_endpoint")
	}
	clusterID, ok := asUint16(a["cluster_id"])
	if !ok || clusterID == 0 {
		return errf("bad action.cluster_id")
	}

	rec.Kind = ActBind
	rec.UIDOff = st.add(srcUID)
	rec.UID2Off = st.add(dstUID)
	rec.Endpoint = uint8(srcEp)
	rec.AuxEp = uint8(dstEp)
	rec.U16_0 = clusterID
	if cmd == "unbind" || cmd == "bindings.unbind" {
		rec.Flags = ActionFlagUnbind
	}
	return nil
}

func compileSceneAction(a map[string]interface{}, rec *ActionRecord) error {
	groupID, ok := asUint16(a["group_id"])
	if !ok || groupID == 0 || groupID == 0xFFFF {
		return errf("bad action.group_id")
	}
	sceneID, ok := asUint32(a["scene_id"])
	if !ok || sceneID == 0 || sceneID > 255 {
		return errf("bad action.scene_id")
	}
	rec.Kind = ActScene
	rec.U16_0 = groupID
	rec.U16_1 = uint16(sceneID)
	return nil
}

func compileDeviceAction(a map[string]interface{}, cmd string, rec *ActionRecord, st *stringTable) error {
	uid, ok := asString(a["device_uid"])
	if !ok {
		return errf("missing action.device_uid")
	}
	if !isUIDString(uid) {
		return errf("bad action.device_uid")
	}
	ep, ok := asUint16(a["endpoint"])
	if !ok || ep == 0 || ep > 240 {
		return errf("bad action.endpoint")
	}

	rec.Kind = ActDevice
	rec.UIDOff = st.add(uid)
	rec.Endpoint = uint8(ep)
	return compileZigbeeArgs(a, cmd, rec)
}

// compileZigbeeArgs fills the generic arg0/arg1/arg2 slots shared by both
// device and group dispatch, per action_exec.c's per-cmd argument ranges.
func compileZigbeeArgs(a map[string]interface{}, cmd string, rec *ActionRecord) error {
	switch cmd {
	case "level.move_to_level":
		lvl, ok := asUint32(a["level"])
		if !ok || lvl > 254 {
			return errf("bad action.level")
		}
		tr, _ := asUint32(a["transition_ms"])
		rec.Arg0U32 = lvl
		rec.Arg1U32 = tr
	case "color.move_to_color_xy":
		x, okX := asUint32(a["x"])
		y, okY := asUint32(a["y"])
		if !okX || x > 65535 {
			return errf("bad action.x")
		}
		if !okY || y > 65535 {
			return errf("bad action.y")
		}
		tr, _ := asUint32(a["transition_ms"])
		rec.Arg0U32 = x
		rec.Arg1U32 = y
		rec.Arg2U32 = tr
	case "color.move_to_color_temperature":
		mireds, ok := asUint32(a["mireds"])
		if !ok || mireds < 1 || mireds > 1000 {
			return errf("bad action.mireds")
		}
		tr, _ := asUint32(a["transition_ms"])
		rec.Arg0U32 = mireds
		rec.Arg1U32 = tr
	}
	return nil
}

// Serialize lays out the compiled container as a contiguous binary buffer:
// header, automations, triggers, conditions, actions, strings — in that
// exact section order, per automation_compiled.c's gw_auto_compiled_serialize.
func (c *Compiled) Serialize() ([]byte, error) {
	if c.Header.Magic != Magic || c.Header.Version != Version {
		return nil, errf("bad header")
	}

	stringsBuf := c.Strings.buf
	hdr := c.Header
	hdr.AutomationsOff = headerSize
	hdr.TriggersOff = hdr.AutomationsOff + hdr.AutomationCount*automationSize
	hdr.ConditionsOff = hdr.TriggersOff + hdr.TriggerCountTotal*triggerSize
	hdr.ActionsOff = hdr.ConditionsOff + hdr.ConditionCountTotal*conditionSize
	hdr.StringsOff = hdr.ActionsOff + hdr.ActionCountTotal*actionSize
	hdr.StringsSize = uint32(len(stringsBuf))

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, c.Automation); err != nil {
		return nil, err
	}
	for _, t := range c.Triggers {
		if err := binary.Write(buf, binary.LittleEndian, t); err != nil {
			return nil, err
		}
	}
	for _, cd := range c.Conditions {
		if err := binary.Write(buf, binary.LittleEndian, cd); err != nil {
			return nil, err
		}
	}
	for _, ac := range c.Actions {
		if err := binary.Write(buf, binary.LittleEndian, ac); err != nil {
			return nil, err
		}
	}
	buf.Write(stringsBuf)

	return buf.Bytes(), nil
}

// Deserialize parses a binary buffer produced by Serialize back into a
// Compiled container, validating magic/version and every section's bounds
// before trusting its contents (§7 "malformed frame" discipline applied to
// file-backed data).
func Deserialize(buf []byte) (*Compiled, error) {
	if len(buf) < headerSize {
		return nil, errf("short buffer")
	}

	var hdr Header
	r := bytes.NewReader(buf[:headerSize])
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != Magic || hdr.Version != Version {
		return nil, errf("bad magic/version")
	}

	total := uint64(len(buf))
	if uint64(hdr.StringsOff)+uint64(hdr.StringsSize) > total {
		return nil, errf("strings out of bounds")
	}
	autosSz := uint64(hdr.AutomationCount) * automationSize
	trigSz := uint64(hdr.TriggerCountTotal) * triggerSize
	condSz := uint64(hdr.ConditionCountTotal) * conditionSize
	actSz := uint64(hdr.ActionCountTotal) * actionSize
	if uint64(hdr.AutomationsOff)+autosSz > total ||
		uint64(hdr.TriggersOff)+trigSz > total ||
		uint64(hdr.ConditionsOff)+condSz > total ||
		uint64(hdr.ActionsOff)+actSz > total {
		return nil, errf("section out of bounds")
	}
	if hdr.AutomationCount != 1 {
		return nil, errf("unsupported automation_count")
	}

	var autoRec AutomationRecord
	if err := binary.Read(bytes.NewReader(buf[hdr.AutomationsOff:hdr.AutomationsOff+automationSize]), binary.LittleEndian, &autoRec); err != nil {
		return nil, err
	}

	triggers := make([]TriggerRecord, hdr.TriggerCountTotal)
	if err := readRecords(buf, hdr.TriggersOff, triggers); err != nil {
		return nil, err
	}
	conditions := make([]ConditionRecord, hdr.ConditionCountTotal)
	if err := readRecords(buf, hdr.ConditionsOff, conditions); err != nil {
		return nil, err
	}
	actions := make([]ActionRecord, hdr.ActionCountTotal)
	if err := readRecords(buf, hdr.ActionsOff, actions); err != nil {
		return nil, err
	}

	st := &stringTable{buf: append([]byte(nil), buf[hdr.StringsOff:hdr.StringsOff+hdr.StringsSize]...)}

	return &Compiled{
		Header:     hdr,
		Automation: autoRec,
		Triggers:   triggers,
		Conditions: conditions,
		Actions:    actions,
		Strings:    st,
	}, nil
}

func readRecords(buf []byte, off uint32, out interface{}) error {
	r := bytes.NewReader(buf[off:])
	return binary.Read(r, binary.LittleEndian, out)
}

// WriteFile serializes c and writes it to path.
func WriteFile(path string, c *Compiled) error {
	buf, err := c.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// ReadFile reads and deserializes a compiled automation from path.
func ReadFile(path string) (*Compiled, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Deserialize(buf)
}

// String looks up a string-table offset recorded on any record field.
func (c *Compiled) String(off uint32) string {
	return c.Strings.at(off)
}
