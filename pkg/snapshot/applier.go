package snapshot

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/zgw/pkg/zbmodel"
)

// Applier consumes a Producer's frame stream on Node H and reconciles it
// against the local Device Registry / Zigbee Model / State Store. Grounded
// on SPEC_FULL.md §4.8's stale-sweep reconciliation: BEGIN records every
// currently-known UID as a stale candidate; each DEVICE frame clears its
// UID from that set; any UID still stale at END is removed.
type Applier struct {
	registry *zbmodel.Registry
	model    *zbmodel.Model
	states   *zbmodel.StateStore

	mu    sync.Mutex
	stale map[zbmodel.UID]struct{}
	inRun bool
}

// NewApplier returns an Applier writing into the given stores.
func NewApplier(registry *zbmodel.Registry, model *zbmodel.Model, states *zbmodel.StateStore) *Applier {
	return &Applier{registry: registry, model: model, states: states}
}

// Apply processes one decoded SNAPSHOT frame payload.
func (a *Applier) Apply(p Payload) {
	switch p.Kind {
	case KindBegin:
		a.begin()
	case KindDevice:
		a.applyDevice(p)
	case KindEndpoint:
		a.applyEndpoint(p)
	case KindState:
		a.applyState(p)
	case KindRemove:
		a.applyRemove(p)
	case KindEnd:
		a.end()
	}
}

func (a *Applier) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stale = make(map[zbmodel.UID]struct{})
	for _, d := range a.registry.List() {
		a.stale[d.UID] = struct{}{}
	}
	a.inRun = true
}

func (a *Applier) applyDevice(p Payload) {
	uid, err := zbmodel.ParseUID(p.DeviceUID)
	if err != nil {
		log.Warn().Str("uid", p.DeviceUID).Msg("snapshot: bad device uid, skipping")
		return
	}

	a.mu.Lock()
	if a.stale != nil {
		delete(a.stale, uid)
	}
	a.mu.Unlock()

	_ = a.registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: p.ShortAddr, Name: p.DeviceName})
	a.model.RemoveDevice(uid) // replace the endpoint list wholesale, per §4.8
}

func (a *Applier) applyEndpoint(p Payload) {
	uid, err := zbmodel.ParseUID(p.DeviceUID)
	if err != nil {
		return
	}
	_ = a.model.UpsertEndpoint(zbmodel.Endpoint{
		UID:         uid,
		EndpointID:  p.Endpoint,
		InClusters:  p.InClusters,
		OutClusters: p.OutClusters,
	})
}

func (a *Applier) applyState(p Payload) {
	uid, err := zbmodel.ParseUID(p.DeviceUID)
	if err != nil {
		return
	}
	v := zbmodel.StateValue{Type: zbmodel.ValueType(p.StateType)}
	switch v.Type {
	case zbmodel.ValueBool:
		v.Bool = p.StateBool
	case zbmodel.ValueF32:
		v.F32 = p.StateF32
	case zbmodel.ValueU32:
		v.U32 = p.StateU32
	case zbmodel.ValueU64:
		v.U64 = uint64(p.StateU32)
	}
	_ = a.states.Set(uid, p.StateKey, v, p.StateTsMs)
}

func (a *Applier) applyRemove(p Payload) {
	uid, err := zbmodel.ParseUID(p.DeviceUID)
	if err != nil {
		return
	}
	a.mu.Lock()
	if a.stale != nil {
		delete(a.stale, uid)
	}
	a.mu.Unlock()
	a.model.RemoveDevice(uid)
	_ = a.registry.Remove(uid)
}

func (a *Applier) end() {
	a.mu.Lock()
	stale := a.stale
	a.stale = nil
	a.inRun = false
	a.mu.Unlock()

	for uid := range stale {
		a.model.RemoveDevice(uid)
		_ = a.registry.Remove(uid)
	}
}
