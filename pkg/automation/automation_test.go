package automation

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}

func sampleDoc() map[string]interface{} {
	return map[string]interface{}{
		"id":      "auto-1",
		"name":    "turn on relay on button press",
		"enabled": true,
		"triggers": []map[string]interface{}{
			{
				"type":       "event",
				"event_type": "zigbee.command",
				"match": map[string]interface{}{
					"device_uid":      "0x00124b0012345678",
					"payload.endpoint": uint64(1),
					"payload.cmd":     "onoff.on",
				},
			},
		},
		"conditions": []map[string]interface{}{
			{
				"type": "state",
				"op":   "==",
				"ref": map[string]interface{}{
					"device_uid": "0x00124b00aabbccdd",
					"key":        "onoff",
				},
				"value": false,
			},
		},
		"actions": []map[string]interface{}{
			{
				"type":       "zigbee",
				"cmd":        "onoff.on",
				"device_uid": "0x00124b00aabbccdd",
				"endpoint":   uint64(1),
			},
		},
	}
}

func TestCompileCBORBuildsExpectedRecords(t *testing.T) {
	c, err := CompileCBOR(encode(t, sampleDoc()))
	require.NoError(t, err)

	assert.Equal(t, Magic, c.Header.Magic)
	assert.Equal(t, Version, c.Header.Version)
	assert.Equal(t, uint32(1), c.Header.AutomationCount)
	assert.Equal(t, uint8(1), c.Automation.Enabled)
	assert.Equal(t, uint8(1), c.Automation.Mode)

	require.Len(t, c.Triggers, 1)
	assert.Equal(t, EventZigbeeCommand, c.Triggers[0].EventType)
	assert.Equal(t, uint8(1), c.Triggers[0].Endpoint)
	assert.Equal(t, "0x00124b0012345678", c.String(c.Triggers[0].DeviceUIDOff))
	assert.Equal(t, "onoff.on", c.String(c.Triggers[0].CmdOff))

	require.Len(t, c.Conditions, 1)
	assert.Equal(t, OpEQ, c.Conditions[0].Op)
	assert.Equal(t, ValBool, c.Conditions[0].ValType)
	assert.Equal(t, uint64(0), c.Conditions[0].ValueBits)

	require.Len(t, c.Actions, 1)
	assert.Equal(t, ActDevice, c.Actions[0].Kind)
	assert.Equal(t, uint8(1), c.Actions[0].Endpoint)
	assert.Equal(t, "onoff.on", c.String(c.Actions[0].CmdOff))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	c, err := CompileCBOR(encode(t, sampleDoc()))
	require.NoError(t, err)

	buf, err := c.Serialize()
	require.NoError(t, err)

	back, err := Deserialize(buf)
	require.NoError(t, err)

	assert.Equal(t, c.Header.TriggerCountTotal, back.Header.TriggerCountTotal)
	assert.Equal(t, c.Automation, back.Automation)
	assert.Equal(t, c.Triggers, back.Triggers)
	assert.Equal(t, c.Conditions, back.Conditions)
	assert.Equal(t, c.Actions, back.Actions)
	assert.Equal(t, c.String(c.Triggers[0].DeviceUIDOff), back.String(back.Triggers[0].DeviceUIDOff))
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	c, err := CompileCBOR(encode(t, sampleDoc()))
	require.NoError(t, err)
	buf, err := c.Serialize()
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, err = Deserialize(buf)
	assert.Error(t, err)
}

func TestCompileLevelActionValidatesRange(t *testing.T) {
	doc := sampleDoc()
	doc["actions"] = []map[string]interface{}{
		{
			"type":       "zigbee",
			"cmd":        "level.move_to_level",
			"device_uid": "0x00124b00aabbccdd",
			"endpoint":   uint64(1),
			"level":      uint64(300), // out of range (>254)
		},
	}
	_, err := CompileCBOR(encode(t, doc))
	assert.Error(t, err)
}

func TestCompileGroupActionDetectedByGroupID(t *testing.T) {
	doc := sampleDoc()
	doc["actions"] = []map[string]interface{}{
		{
			"type":          "zigbee",
			"cmd":           "level.move_to_level",
			"group_id":      uint64(5),
			"level":         uint64(128),
			"transition_ms": uint64(500),
		},
	}
	c, err := CompileCBOR(encode(t, doc))
	require.NoError(t, err)
	require.Len(t, c.Actions, 1)
	assert.Equal(t, ActGroup, c.Actions[0].Kind)
	assert.Equal(t, uint16(5), c.Actions[0].U16_0)
	assert.Equal(t, uint32(128), c.Actions[0].Arg0U32)
	assert.Equal(t, uint32(500), c.Actions[0].Arg1U32)
}

func TestCompileBindAction(t *testing.T) {
	doc := sampleDoc()
	doc["actions"] = []map[string]interface{}{
		{
			"type":           "zigbee",
			"cmd":            "bind",
			"src_device_uid": "0x00124b0012345678",
			"src_endpoint":   uint64(1),
			"dst_device_uid": "0x00124b00aabbccdd",
			"dst_endpoint":   uint64(2),
			"cluster_id":     uint64(6),
		},
	}
	c, err := CompileCBOR(encode(t, doc))
	require.NoError(t, err)
	require.Len(t, c.Actions, 1)
	assert.Equal(t, ActBind, c.Actions[0].Kind)
	assert.Equal(t, uint8(0), c.Actions[0].Flags)
	assert.Equal(t, uint8(1), c.Actions[0].Endpoint)
	assert.Equal(t, uint8(2), c.Actions[0].AuxEp)
	assert.Equal(t, uint16(6), c.Actions[0].U16_0)
}

func TestCompileSceneAction(t *testing.T) {
	doc := sampleDoc()
	doc["actions"] = []map[string]interface{}{
		{"type": "zigbee", "cmd": "scene.recall", "group_id": uint64(3), "scene_id": uint64(7)},
	}
	c, err := CompileCBOR(encode(t, doc))
	require.NoError(t, err)
	assert.Equal(t, ActScene, c.Actions[0].Kind)
	assert.Equal(t, uint16(3), c.Actions[0].U16_0)
	assert.Equal(t, uint16(7), c.Actions[0].U16_1)
}

func TestCompileRejectsBadUID(t *testing.T) {
	doc := sampleDoc()
	doc["actions"] = []map[string]interface{}{
		{"type": "zigbee", "cmd": "onoff.on", "device_uid": "not-a-uid", "endpoint": uint64(1)},
	}
	_, err := CompileCBOR(encode(t, doc))
	assert.Error(t, err)
}

func TestCompileMissingTriggersRejected(t *testing.T) {
	doc := sampleDoc()
	delete(doc, "triggers")
	_, err := CompileCBOR(encode(t, doc))
	assert.Error(t, err)
}

func TestStringTableDeduplicates(t *testing.T) {
	st := newStringTable()
	a := st.add("onoff.on")
	b := st.add("onoff.on")
	assert.Equal(t, a, b)
	c := st.add("onoff.off")
	assert.NotEqual(t, a, c)
	assert.Equal(t, "onoff.on", st.at(a))
	assert.Equal(t, "", st.at(0))
}
