package rules

import (
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/zbmodel"
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
					"device_uid":       "0x00124b0012345678",
					"payload.endpoint": uint64(1),
					"payload.cmd":      "onoff.on",
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

func compileEntry(t *testing.T, id string, doc map[string]interface{}) Entry {
	t.Helper()
	c, err := automation.CompileCBOR(encode(t, doc))
	require.NoError(t, err)
	return Entry{ID: id, Enabled: true, Compiled: c}
}

type recordingExecutor struct {
	mu      sync.Mutex
	actions []automation.ActionRecord
	err     error
}

func (r *recordingExecutor) Execute(c *automation.Compiled, action automation.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return r.err
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func matchingEvent() eventbus.Event {
	return eventbus.Event{
		Type:       "zigbee.command",
		DeviceUID:  "0x00124b0012345678",
		HasEndpoint: true,
		Endpoint:   1,
		HasCmd:     true,
		Cmd:        "onoff.on",
	}
}

func TestEngineFiresOnMatchingEventWhenConditionPasses(t *testing.T) {
	entry := compileEntry(t, "auto-1", sampleDoc())

	states := zbmodel.NewStateStore()
	refUID, err := zbmodel.ParseUID("0x00124b00aabbccdd")
	require.NoError(t, err)
	require.NoError(t, states.Set(refUID, "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: false}, 1))

	bus := eventbus.New(16)
	var fired, actioned int
	bus.AddListener(func(e eventbus.Event) {
		switch e.Type {
		case "rules.fired":
			fired++
		case "rules.action":
			actioned++
		}
	})

	exec := &recordingExecutor{}
	engine := NewEngine(states, bus, exec)
	engine.Reload([]Entry{entry})

	engine.ProcessEvent(matchingEvent())

	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, actioned)
	assert.Equal(t, 1, exec.count())
}

func TestEngineSkipsWhenConditionFails(t *testing.T) {
	entry := compileEntry(t, "auto-1", sampleDoc())

	states := zbmodel.NewStateStore()
	refUID, err := zbmodel.ParseUID("0x00124b00aabbccdd")
	require.NoError(t, err)
	// onoff is true, but condition requires ==false, so the automation
	// must not fire.
	require.NoError(t, states.Set(refUID, "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: true}, 1))

	exec := &recordingExecutor{}
	engine := NewEngine(states, nil, exec)
	engine.Reload([]Entry{entry})

	engine.ProcessEvent(matchingEvent())

	assert.Equal(t, 0, exec.count())
}

func TestEngineIgnoresNonMatchingEvent(t *testing.T) {
	entry := compileEntry(t, "auto-1", sampleDoc())

	states := zbmodel.NewStateStore()
	refUID, err := zbmodel.ParseUID("0x00124b00aabbccdd")
	require.NoError(t, err)
	require.NoError(t, states.Set(refUID, "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: false}, 1))

	exec := &recordingExecutor{}
	engine := NewEngine(states, nil, exec)
	engine.Reload([]Entry{entry})

	evt := matchingEvent()
	evt.DeviceUID = "0x00124b0099999999"
	engine.ProcessEvent(evt)

	assert.Equal(t, 0, exec.count())
}

func TestEngineIgnoresUnknownEventType(t *testing.T) {
	entry := compileEntry(t, "auto-1", sampleDoc())
	states := zbmodel.NewStateStore()
	exec := &recordingExecutor{}
	engine := NewEngine(states, nil, exec)
	engine.Reload([]Entry{entry})

	engine.ProcessEvent(eventbus.Event{Type: "unrelated.thing"})

	assert.Equal(t, 0, exec.count())
}

func TestBuildCacheTruncatesAtMaxAutomations(t *testing.T) {
	entries := make([]Entry, MaxAutomations+5)
	for i := range entries {
		entries[i] = compileEntry(t, "auto", sampleDoc())
	}
	c := buildCache(entries)
	assert.Len(t, c.autos, MaxAutomations)
}
