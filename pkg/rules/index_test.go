package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/urmzd/zgw/pkg/automation"
)

func TestTriggerIndexInsertAndLookup(t *testing.T) {
	var idx triggerIndex
	k1 := TriggerKey{EvtType: automation.EventZigbeeCommand, HasUID: true, UIDHash: fnv1a32("a")}
	k2 := TriggerKey{EvtType: automation.EventZigbeeCommand, HasUID: true, UIDHash: fnv1a32("b")}

	idx.insert(k1, 0)
	idx.insert(k2, 1)

	assert.Equal(t, uint32(1<<0), idx.lookup(k1))
	assert.Equal(t, uint32(1<<1), idx.lookup(k2))
}

func TestTriggerIndexOrsMultipleAutomationsOnSameKey(t *testing.T) {
	var idx triggerIndex
	k := TriggerKey{EvtType: automation.EventDeviceJoin}

	idx.insert(k, 0)
	idx.insert(k, 3)

	assert.Equal(t, uint32(1<<0|1<<3), idx.lookup(k))
}

func TestTriggerIndexLookupMissReturnsZero(t *testing.T) {
	var idx triggerIndex
	idx.insert(TriggerKey{EvtType: automation.EventDeviceJoin}, 0)

	assert.Equal(t, uint32(0), idx.lookup(TriggerKey{EvtType: automation.EventDeviceLeave}))
}

func TestTriggerIndexDropsOutOfRangeAutomationIndex(t *testing.T) {
	var idx triggerIndex
	k := TriggerKey{EvtType: automation.EventDeviceJoin}
	idx.insert(k, MaxAutomations)

	assert.Equal(t, uint32(0), idx.lookup(k))
}

func TestTriggerKeyHashIsDeterministic(t *testing.T) {
	k := TriggerKey{EvtType: automation.EventZigbeeAttrReport, ClusterID: 6, AttrID: 0, HasCluster: true}
	assert.Equal(t, k.hash(), k.hash())
}

func TestTriggerKeyHashDiffersOnFieldChange(t *testing.T) {
	k1 := TriggerKey{EvtType: automation.EventZigbeeCommand, HasCmd: true, CmdHash: fnv1a32("onoff.on")}
	k2 := TriggerKey{EvtType: automation.EventZigbeeCommand, HasCmd: true, CmdHash: fnv1a32("onoff.off")}
	assert.NotEqual(t, k1.hash(), k2.hash())
}
