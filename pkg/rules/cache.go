package rules

import "github.com/urmzd/zgw/pkg/automation"

// MaxAutomations bounds how many automations the rules engine can hold
// live at once — each gets one bit in a trigger index slot's bitmask, so
// this can never exceed 32. Grounded on rules_engine.c's GW_AUTOMATION_CAP.
const MaxAutomations = 32

// Entry is one automation as tracked by the rules engine: its store
// metadata plus its compiled trigger/condition/action arrays.
type Entry struct {
	ID       string
	Enabled  bool
	Compiled *automation.Compiled
}

// cache is one generation of the rules engine's working set: the
// automation list at load time plus a trigger index built from it. A new
// cache is built and swapped in whole on every reload rather than mutated
// in place (§4.5, §5 double-buffer discipline).
type cache struct {
	autos []Entry
	index triggerIndex
}

// buildCache constructs a cache from automations, truncating at
// MaxAutomations (a slice position is an automation's index bit in the
// trigger index, so positions beyond 31 would alias).
func buildCache(automations []Entry) *cache {
	if len(automations) > MaxAutomations {
		automations = automations[:MaxAutomations]
	}
	c := &cache{autos: automations}
	for i, entry := range automations {
		if !entry.Enabled || entry.Compiled == nil {
			continue
		}
		for _, t := range entry.Compiled.Triggers {
			c.index.insert(indexKeyForTrigger(entry.Compiled, t), uint8(i))
		}
	}
	return c
}

// indexKeyForTrigger projects a compiled TriggerRecord into the TriggerKey
// it should be indexed under, resolving string-table offsets to hashes.
// Grounded on rules_engine.c's index_trigger.
func indexKeyForTrigger(c *automation.Compiled, t automation.TriggerRecord) TriggerKey {
	k := TriggerKey{EvtType: t.EventType}

	if t.DeviceUIDOff != 0 {
		if uid := c.String(t.DeviceUIDOff); uid != "" {
			k.HasUID = true
			k.UIDHash = fnv1a32(uid)
		}
	}
	if t.Endpoint != 0 {
		k.HasEndpoint = true
		k.Endpoint = t.Endpoint
	}

	switch t.EventType {
	case automation.EventZigbeeCommand:
		if t.CmdOff != 0 {
			if cmd := c.String(t.CmdOff); cmd != "" {
				k.HasCmd = true
				k.CmdHash = fnv1a32(cmd)
			}
		}
		if t.ClusterID != 0 {
			k.HasCluster = true
			k.ClusterID = t.ClusterID
		}
	case automation.EventZigbeeAttrReport:
		if t.ClusterID != 0 {
			k.HasCluster = true
			k.ClusterID = t.ClusterID
		}
		if t.AttrID != 0 {
			k.HasAttr = true
			k.AttrID = t.AttrID
		}
	}

	return k
}
