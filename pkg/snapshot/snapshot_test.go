package snapshot

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/zbmodel"
)

type fakeSender struct {
	mu      sync.Mutex
	payloads []Payload
}

func (f *fakeSender) SendSnapshotFrame(buf []byte) error {
	p, err := Decode(buf)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) snapshot() []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Payload(nil), f.payloads...)
}

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{Kind: KindState, SnapSeq: 3, DeviceUID: "0x00124b0012345678", StateKey: "onoff", StateType: uint8(zbmodel.ValueBool), StateBool: true}
	buf, err := Encode(p)
	require.NoError(t, err)
	back, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestProducerStreamsBeginDeviceEndpointStateEnd(t *testing.T) {
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()

	uid, err := zbmodel.ParseUID("0x00124b0012345678")
	require.NoError(t, err)
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: 0x1234, Name: "relay1"}))
	require.NoError(t, model.UpsertEndpoint(zbmodel.Endpoint{UID: uid, EndpointID: 1, InClusters: []uint16{0x0006}}))
	require.NoError(t, states.Set(uid, "onoff", zbmodel.StateValue{Type: zbmodel.ValueBool, Bool: true}, 10))

	sender := &fakeSender{}
	producer := NewProducer(registry, model, states, nil, sender)
	producer.Produce(context.Background())

	payloads := sender.snapshot()
	require.GreaterOrEqual(t, len(payloads), 4)
	assert.Equal(t, KindBegin, payloads[0].Kind)
	assert.Equal(t, 1, payloads[0].TotalDevices)
	assert.Equal(t, KindEnd, payloads[len(payloads)-1].Kind)

	var sawDevice, sawEndpoint, sawState bool
	for _, p := range payloads {
		switch p.Kind {
		case KindDevice:
			sawDevice = true
			assert.Equal(t, "0x00124b0012345678", p.DeviceUID)
		case KindEndpoint:
			sawEndpoint = true
		case KindState:
			sawState = true
			assert.Equal(t, "onoff", p.StateKey)
			assert.True(t, p.StateBool)
		}
	}
	assert.True(t, sawDevice)
	assert.True(t, sawEndpoint)
	assert.True(t, sawState)
}

func TestApplierStaleSweepRemovesUnseenDevice(t *testing.T) {
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()

	staleUID, _ := zbmodel.ParseUID("0x00124b0011111111")
	freshUID, _ := zbmodel.ParseUID("0x00124b0022222222")
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: staleUID}))
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: freshUID}))

	applier := NewApplier(registry, model, states)
	applier.Apply(Payload{Kind: KindBegin, TotalDevices: 1})
	applier.Apply(Payload{Kind: KindDevice, DeviceUID: freshUID.String()})
	applier.Apply(Payload{Kind: KindEnd, TotalDevices: 1})

	_, err := registry.Get(staleUID)
	assert.Error(t, err)
	_, err = registry.Get(freshUID)
	assert.NoError(t, err)
}

func TestApplierRemoveFrameDeletesDeviceIndependently(t *testing.T) {
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()

	uid, _ := zbmodel.ParseUID("0x00124b0033333333")
	require.NoError(t, registry.Upsert(zbmodel.Device{UID: uid}))

	applier := NewApplier(registry, model, states)
	applier.Apply(Payload{Kind: KindRemove, DeviceUID: uid.String()})

	_, err := registry.Get(uid)
	assert.Error(t, err)
}

func TestProducerRequestCoalescesConcurrentSignals(t *testing.T) {
	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()
	sender := &fakeSender{}
	producer := NewProducer(registry, model, states, nil, sender)

	producer.Request()
	producer.Request()
	producer.Request()

	assert.Equal(t, 1, len(producer.notify))
}
