// Package snapshot implements the Snapshot Producer (Node R) and Applier
// (Node H) of §4.8: a full-state replay streamed as a sequence of framed
// SNAPSHOT payloads so Node H can reconcile its view of the Zigbee Model
// after a link reconnect, without the two nodes ever needing incremental
// deltas. There's no single teacher file this is grounded on — the
// teacher has no multi-node split — so the frame sequencing and stale-
// sweep algorithm are taken directly from SPEC_FULL.md §4.8, built on
// pkg/frame/pkg/link as transport and pkg/zbmodel as the applier's target
// store.
package snapshot

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/urmzd/zgw/pkg/zbmodel"
)

// Kind tags a SNAPSHOT frame's role in the BEGIN..END sequence.
type Kind uint8

const (
	KindBegin Kind = iota
	KindDevice
	KindEndpoint
	KindState
	KindRemove
	KindEnd
)

// Payload is the CBOR-encoded body of a single SNAPSHOT link frame.
type Payload struct {
	Kind          Kind    `cbor:"kind"`
	SnapSeq       uint64  `cbor:"snap_seq"`
	TotalDevices  int     `cbor:"total_devices,omitempty"`
	DeviceUID     string  `cbor:"device_uid,omitempty"`
	DeviceName    string  `cbor:"device_name,omitempty"`
	ShortAddr     uint16  `cbor:"short_addr,omitempty"`
	Endpoint      uint8   `cbor:"endpoint,omitempty"`
	InClusters    []uint16 `cbor:"in_clusters,omitempty"`
	OutClusters   []uint16 `cbor:"out_clusters,omitempty"`
	StateKey      string  `cbor:"state_key,omitempty"`
	StateType     uint8   `cbor:"state_type,omitempty"`
	StateBool     bool    `cbor:"state_bool,omitempty"`
	StateF32      float32 `cbor:"state_f32,omitempty"`
	StateU32      uint32  `cbor:"state_u32,omitempty"`
	StateTsMs     uint64  `cbor:"state_ts_ms,omitempty"`
}

// Encode/Decode wrap cbor.Marshal/Unmarshal for the SNAPSHOT frame body.
func Encode(p Payload) ([]byte, error) { return cbor.Marshal(p) }
func Decode(buf []byte) (Payload, error) {
	var p Payload
	err := cbor.Unmarshal(buf, &p)
	return p, err
}

// Sender is the subset of *link.Link the Producer needs; declared as an
// interface so this package doesn't import pkg/link.
type Sender interface {
	SendSnapshotFrame(payload []byte) error
}

// AttrReader schedules the read-before-stream ZCL reads of §4.8 step 1.
// Implemented by the Zigbee Scheduler.
type AttrReader interface {
	// ScheduleReads queues ZCL attribute reads for every known
	// (device, endpoint) that supports on/off, level, or color, and
	// returns how many reads were queued (used to size the wait window).
	ScheduleReads(ctx context.Context) int
}

// Producer streams a full snapshot on request, coalescing concurrent
// requests into a single run (§5: "the streamer coalesces concurrent
// requests so overlapping SYNC_SNAPSHOTs do not amplify work").
type Producer struct {
	registry *zbmodel.Registry
	model    *zbmodel.Model
	states   *zbmodel.StateStore
	reader   AttrReader
	sender   Sender

	notify chan struct{}
}

// NewProducer returns a Producer. reader may be nil to skip the §4.8 step
// 1 pre-read window (useful in tests or when no scheduler is wired yet).
func NewProducer(registry *zbmodel.Registry, model *zbmodel.Model, states *zbmodel.StateStore, reader AttrReader, sender Sender) *Producer {
	return &Producer{
		registry: registry,
		model:    model,
		states:   states,
		reader:   reader,
		sender:   sender,
		notify:   make(chan struct{}, 1),
	}
}

// Request signals that a snapshot should be streamed. Non-blocking;
// concurrent calls while a run is already queued or in flight coalesce
// into that one run.
func (p *Producer) Request() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drives the coalescing loop until ctx is canceled: each notification
// triggers exactly one Produce call, and any notifications arriving while
// Produce runs are absorbed by the next receive (the channel's capacity-1
// buffer already holds at most one pending signal).
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.notify:
			p.Produce(ctx)
		}
	}
}

// preReadWindow computes the bounded wait (§4.8 step 1: 200ms + 20ms per
// scheduled read, capped at 1500ms).
func preReadWindow(requests int) time.Duration {
	d := 200*time.Millisecond + time.Duration(requests)*20*time.Millisecond
	if d > 1500*time.Millisecond {
		d = 1500 * time.Millisecond
	}
	return d
}

// Produce streams one full snapshot: pre-read window, BEGIN, one
// DEVICE+ENDPOINT*+STATE* group per known device, END.
func (p *Producer) Produce(ctx context.Context) {
	if p.reader != nil {
		n := p.reader.ScheduleReads(ctx)
		select {
		case <-time.After(preReadWindow(n)):
		case <-ctx.Done():
			return
		}
	}

	devices := p.registry.List()
	var seq uint64

	send := func(payload Payload) {
		payload.SnapSeq = seq
		seq++
		buf, err := Encode(payload)
		if err != nil {
			return
		}
		_ = p.sender.SendSnapshotFrame(buf)
	}

	send(Payload{Kind: KindBegin, TotalDevices: len(devices)})

	for _, d := range devices {
		send(Payload{Kind: KindDevice, DeviceUID: d.UID.String(), DeviceName: d.Name, ShortAddr: d.ShortAddr})

		for _, ep := range p.model.ListEndpoints(d.UID) {
			send(Payload{
				Kind:        KindEndpoint,
				DeviceUID:   d.UID.String(),
				Endpoint:    ep.EndpointID,
				InClusters:  ep.InClusters,
				OutClusters: ep.OutClusters,
			})
		}

		for _, key := range stateKeysFor(d, p.model) {
			v, ts, err := p.states.Get(d.UID, key)
			if err != nil {
				continue
			}
			send(stateFramePayload(d.UID.String(), key, v, ts))
		}
	}

	send(Payload{Kind: KindEnd, TotalDevices: len(devices)})
}

// stateKeysFor enumerates the state keys worth including for a device:
// every key that §4.7 can project, since the StateStore itself doesn't
// expose a "list keys for uid" operation (it's keyed by (uid, key), not
// indexed by uid) — matching the store's deliberately minimal API.
func stateKeysFor(d zbmodel.Device, model *zbmodel.Model) []string {
	return []string{
		"onoff", "level", "temperature_c", "humidity_pct", "battery_pct",
		"battery_mv", "occupancy", "illuminance_raw", "pressure_raw",
		"color_x", "color_y", "color_temp_mireds",
	}
}

func stateFramePayload(uid, key string, v zbmodel.StateValue, ts uint64) Payload {
	p := Payload{Kind: KindState, DeviceUID: uid, StateKey: key, StateType: uint8(v.Type), StateTsMs: ts}
	switch v.Type {
	case zbmodel.ValueBool:
		p.StateBool = v.Bool
	case zbmodel.ValueF32:
		p.StateF32 = v.F32
	case zbmodel.ValueU32:
		p.StateU32 = v.U32
	case zbmodel.ValueU64:
		p.StateU32 = uint32(v.U64)
	}
	return p
}

// PublishRemove sends a REMOVE frame independently of a BEGIN..END run,
// for a device that left between snapshots.
func (p *Producer) PublishRemove(uid zbmodel.UID) {
	buf, err := Encode(Payload{Kind: KindRemove, DeviceUID: uid.String()})
	if err != nil {
		return
	}
	_ = p.sender.SendSnapshotFrame(buf)
}
