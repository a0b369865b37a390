package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	b := New(0)
	e1 := b.Publish(Event{Type: "device.join"})
	e2 := b.Publish(Event{Type: "device.join"})
	assert.Less(t, e1.ID, e2.ID)
}

func TestListenersCalledSynchronously(t *testing.T) {
	b := New(0)
	var seen []string
	b.AddListener(func(e Event) { seen = append(seen, e.Type) })
	b.Publish(Event{Type: "zigbee.command"})
	require.Len(t, seen, 1)
	assert.Equal(t, "zigbee.command", seen[0])
}

func TestOutboundEligibleTypesQueued(t *testing.T) {
	b := New(4)
	b.Publish(Event{Type: "rules.fired"})
	b.Publish(Event{Type: "not.eligible"})
	b.Publish(Event{Type: "zigbee.attr_report"})

	var got []Event
	close(b.out)
	for e := range b.Outbound() {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "rules.fired", got[0].Type)
	assert.Equal(t, "zigbee.attr_report", got[1].Type)
}

func TestOutboundFullDropsNewest(t *testing.T) {
	b := New(1)
	b.Publish(Event{Type: "rules.fired", Msg: "first"})
	b.Publish(Event{Type: "rules.fired", Msg: "second"})

	e := <-b.Outbound()
	assert.Equal(t, "first", e.Msg)
}
