// Package rules implements the Rules Engine (§4.5): a double-buffered
// cache of compiled automations, an FNV-hashed trigger index for
// sub-linear candidate lookup, and per-event trigger/condition evaluation.
// Grounded on original_source's rules_engine.c.
package rules

import (
	"sync/atomic"

	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// ActionExecutor dispatches one compiled action. Implemented by pkg/action;
// declared here so the rules engine depends on an interface rather than on
// the executor package directly.
type ActionExecutor interface {
	Execute(c *automation.Compiled, action automation.ActionRecord) error
}

// Engine matches incoming events against the loaded automation set and
// executes the actions of every automation whose trigger and conditions
// pass. The live automation set is swapped atomically on Reload so
// ProcessEvent never observes a half-updated cache (§5 double-buffer
// discipline, mirroring rules_engine.c's rules_cache_t generation swap).
type Engine struct {
	cache    atomic.Pointer[cache]
	states   *zbmodel.StateStore
	bus      *eventbus.Bus
	executor ActionExecutor
}

// NewEngine returns an Engine with an empty automation set.
func NewEngine(states *zbmodel.StateStore, bus *eventbus.Bus, executor ActionExecutor) *Engine {
	e := &Engine{states: states, bus: bus, executor: executor}
	e.cache.Store(buildCache(nil))
	return e
}

// Reload replaces the live automation set. Safe to call concurrently with
// ProcessEvent from another goroutine.
func (e *Engine) Reload(automations []Entry) {
	e.cache.Store(buildCache(automations))
}

// eventProjection is the subset of an eventbus.Event the trigger matcher
// needs, with string fields pre-hashed so lookups never allocate.
type eventProjection struct {
	evtType  automation.EventType
	uid      zbmodel.UID
	hasUID   bool
	uidHash  uint32
	endpoint uint8
	hasEP    bool
	cluster  uint16
	hasCl    bool
	attr     uint16
	hasAttr  bool
	cmdHash  uint32
	hasCmd   bool
}

func projectEvent(evt eventbus.Event) (eventProjection, bool) {
	var p eventProjection
	switch evt.Type {
	case "zigbee.command":
		p.evtType = automation.EventZigbeeCommand
	case "zigbee.attr_report":
		p.evtType = automation.EventZigbeeAttrReport
	case "device.join":
		p.evtType = automation.EventDeviceJoin
	case "device.leave":
		p.evtType = automation.EventDeviceLeave
	default:
		return p, false
	}

	if evt.DeviceUID != "" {
		if uid, err := zbmodel.ParseUID(evt.DeviceUID); err == nil {
			p.uid = uid
			p.hasUID = true
			p.uidHash = fnv1a32(evt.DeviceUID)
		}
	}
	if evt.HasEndpoint {
		p.endpoint = evt.Endpoint
		p.hasEP = true
	}
	if evt.HasCluster {
		p.cluster = evt.ClusterID
		p.hasCl = true
	}
	if evt.HasAttr {
		p.attr = evt.AttrID
		p.hasAttr = true
	}
	if evt.HasCmd {
		p.cmdHash = fnv1a32(evt.Cmd)
		p.hasCmd = true
	}
	return p, true
}

// candidateMask enumerates every subset of the event's present optional
// fields (uid/endpoint/cluster/attr/cmd), looking each one up in the index,
// and ORs the results together. This is necessary because a trigger may be
// registered as a wildcard on any of those fields: an event carrying a uid
// still needs to match a trigger with no uid constraint, so both "with uid"
// and "without uid" projections of the event must be probed. Grounded on
// rules_engine.c's lookup_candidate_mask nested-loop enumeration.
func candidateMask(idx *triggerIndex, p eventProjection) uint32 {
	optUID := []bool{false}
	if p.hasUID {
		optUID = append(optUID, true)
	}
	optEP := []bool{false}
	if p.hasEP {
		optEP = append(optEP, true)
	}
	optCl := []bool{false}
	if p.hasCl {
		optCl = append(optCl, true)
	}
	optAttr := []bool{false}
	if p.hasAttr {
		optAttr = append(optAttr, true)
	}
	optCmd := []bool{false}
	if p.hasCmd {
		optCmd = append(optCmd, true)
	}

	var mask uint32
	for _, useUID := range optUID {
		for _, useEP := range optEP {
			for _, useCl := range optCl {
				for _, useAttr := range optAttr {
					for _, useCmd := range optCmd {
						k := TriggerKey{EvtType: p.evtType}
						if useUID {
							k.HasUID = true
							k.UIDHash = p.uidHash
						}
						if useEP {
							k.HasEndpoint = true
							k.Endpoint = p.endpoint
						}
						if useCl {
							k.HasCluster = true
							k.ClusterID = p.cluster
						}
						if useAttr {
							k.HasAttr = true
							k.AttrID = p.attr
						}
						if useCmd {
							k.HasCmd = true
							k.CmdHash = p.cmdHash
						}
						mask |= idx.lookup(k)
					}
				}
			}
		}
	}
	return mask
}

// triggerMatches reports whether trigger actually matches the event that
// produced p — candidateMask only narrows the search; every field the
// trigger constrains must still agree exactly. Grounded on
// rules_engine.c's trigger_matches.
func triggerMatches(c *automation.Compiled, t automation.TriggerRecord, p eventProjection) bool {
	if t.EventType != p.evtType {
		return false
	}
	if t.DeviceUIDOff != 0 {
		uid := c.String(t.DeviceUIDOff)
		if !p.hasUID || fnv1a32(uid) != p.uidHash {
			return false
		}
	}
	if t.Endpoint != 0 {
		if !p.hasEP || t.Endpoint != p.endpoint {
			return false
		}
	}
	switch t.EventType {
	case automation.EventZigbeeCommand:
		if t.CmdOff != 0 {
			cmd := c.String(t.CmdOff)
			if !p.hasCmd || fnv1a32(cmd) != p.cmdHash {
				return false
			}
		}
		if t.ClusterID != 0 {
			if !p.hasCl || t.ClusterID != p.cluster {
				return false
			}
		}
	case automation.EventZigbeeAttrReport:
		if t.ClusterID != 0 {
			if !p.hasCl || t.ClusterID != p.cluster {
				return false
			}
		}
		if t.AttrID != 0 {
			if !p.hasAttr || t.AttrID != p.attr {
				return false
			}
		}
	}
	return true
}

// ProcessEvent matches evt against the live automation set, evaluates
// conditions, and executes actions for every automation that fires.
// Matching, condition evaluation, and action execution are all done on the
// caller's goroutine — callers subscribe this as an eventbus.Listener,
// which is always invoked synchronously (§5).
func (e *Engine) ProcessEvent(evt eventbus.Event) {
	p, ok := projectEvent(evt)
	if !ok {
		return
	}

	c := e.cache.Load()
	mask := candidateMask(&c.index, p)
	if mask == 0 {
		return
	}

	for i, entry := range c.autos {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if !entry.Enabled || entry.Compiled == nil {
			continue
		}
		if !e.automationMatches(entry.Compiled, p) {
			continue
		}
		if !conditionsPass(entry.Compiled, entry.Compiled.Conditions, e.states, p.uid) {
			continue
		}
		e.fire(entry, p)
	}
}

func (e *Engine) automationMatches(c *automation.Compiled, p eventProjection) bool {
	for _, t := range c.Triggers {
		if triggerMatches(c, t, p) {
			return true
		}
	}
	return false
}

func (e *Engine) fire(entry Entry, p eventProjection) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type:      "rules.fired",
			Source:    "rules",
			DeviceUID: entry.ID,
		})
	}

	// §4.5 "Action execution": actions run in declared order; the first
	// failure stops the automation, subsequent actions are not executed.
	for idx, action := range entry.Compiled.Actions {
		var err error
		if e.executor != nil {
			err = e.executor.Execute(entry.Compiled, action)
		}
		if e.bus != nil {
			evt := eventbus.Event{
				Type:      "rules.action",
				Source:    "rules",
				DeviceUID: entry.ID,
				ValueType: eventbus.ValueI64,
				ValueI64:  int64(idx),
				ValueBool: err == nil,
			}
			if err != nil {
				evt.ValueText = err.Error()
			}
			e.bus.Publish(evt)
		}
		if err != nil {
			return
		}
	}
}
