// Package remote implements Node H's side of the two-node split: a
// device.Controller/device.EventSubscriber/action.Dispatcher backed by RPC
// calls over pkg/link to Node R, reading from a local Zigbee Model/Device
// Registry/State Store mirror kept current by the Snapshot Applier and the
// EVT stream rather than by a direct EZSP connection. Grounded on
// pkg/zigbee.Controller's shape (same three interfaces, same
// knownToDevice/publishEvent/Subscribe pattern) with every EZSP call
// replaced by an RPC round trip, per SPEC_FULL.md §2's node split and
// §4.6's "Action Executor ... RPC-over-link on H".
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/classify"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/rpc"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// linker is the subset of *link.Link this package calls through; declared
// as an interface so tests can drive it without a real serial connection.
type linker interface {
	SendRequest(ctx context.Context, payload []byte) ([]byte, error)
	IsConnected() bool
	Close() error
}

// Controller is Node H's facade over the radio node: device.Controller and
// device.EventSubscriber for pkg/api and pkg/mcp, action.Dispatcher for the
// Rules Engine's Action Executor.
type Controller struct {
	link     linker
	registry *zbmodel.Registry
	model    *zbmodel.Model
	states   *zbmodel.StateStore

	subscribers   []chan device.DiscoveryEvent
	subscribersMu sync.Mutex
}

// New returns a Controller dispatching through lk and reading its mirror
// from registry/model/states (the same stores the Snapshot Applier and EVT
// handler write into).
func New(lk linker, registry *zbmodel.Registry, model *zbmodel.Model, states *zbmodel.StateStore) *Controller {
	return &Controller{link: lk, registry: registry, model: model, states: states}
}

func (c *Controller) call(ctx context.Context, req rpc.Request) (rpc.Response, error) {
	payload, err := rpc.EncodeRequest(req)
	if err != nil {
		return rpc.Response{}, err
	}
	raw, err := c.link.SendRequest(ctx, payload)
	if err != nil {
		return rpc.Response{}, err
	}
	resp, err := rpc.DecodeResponse(raw)
	if err != nil {
		return rpc.Response{}, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// knownToDevice mirrors pkg/zigbee.Controller.knownToDevice against the
// local registry/model mirror rather than a live EZSP session.
func (c *Controller) knownToDevice(uid zbmodel.UID) device.Device {
	d, err := c.registry.Get(uid)
	if err != nil {
		return device.Device{ID: uid.String(), Protocol: device.ProtocolZigbee}
	}
	kind := device.DeviceTypeSensor
	for _, ep := range c.model.ListEndpoints(uid) {
		switch classify.EndpointKind(ep) {
		case classify.KindColorLight, classify.KindDimmableLight, classify.KindRelay:
			kind = device.DeviceTypeLight
		case classify.KindDimmerSwitch, classify.KindSwitch:
			if kind == device.DeviceTypeSensor {
				kind = device.DeviceTypeSwitch
			}
		}
	}
	name := d.Name
	if name == "" {
		name = uid.String()
	}
	return device.Device{
		ID:           uid.String(),
		Name:         name,
		Type:         kind,
		Protocol:     device.ProtocolZigbee,
		Manufacturer: "Unknown",
		Model:        "Unknown",
	}
}

// --- device.Controller ---

func (c *Controller) ListDevices(_ context.Context) ([]device.Device, error) {
	devices := c.registry.List()
	out := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, c.knownToDevice(d.UID))
	}
	return out, nil
}

func (c *Controller) GetDevice(_ context.Context, id string) (*device.Device, error) {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return nil, device.ErrNotFound
	}
	if _, err := c.registry.Get(uid); err != nil {
		return nil, device.ErrNotFound
	}
	dev := c.knownToDevice(uid)
	return &dev, nil
}

func (c *Controller) RenameDevice(ctx context.Context, id, newName string) error {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return device.ErrNotFound
	}
	if _, err := c.call(ctx, rpc.Request{Op: rpc.OpRenameDevice, UID: id, NewName: newName}); err != nil {
		return fmt.Errorf("rename device: %w", err)
	}
	_ = c.registry.SetName(uid, newName)
	return nil
}

func (c *Controller) RemoveDevice(ctx context.Context, id string, force bool) error {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return device.ErrNotFound
	}
	if _, err := c.call(ctx, rpc.Request{Op: rpc.OpRemoveDevice, UID: id, Force: force}); err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	_ = c.registry.Remove(uid)
	c.model.RemoveDevice(uid)
	return nil
}

func (c *Controller) GetDeviceState(ctx context.Context, id string) (device.DeviceState, error) {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return nil, device.ErrNotFound
	}
	if _, err := c.registry.Get(uid); err != nil {
		return nil, device.ErrNotFound
	}

	// Ask R to refresh its On/Off reading; best effort, mirror already
	// reflects the last EVT-forwarded projection either way.
	if _, err := c.call(ctx, rpc.Request{Op: rpc.OpGetState, UID: id}); err != nil {
		log.Warn().Err(err).Str("device", id).Msg("remote state refresh failed")
	} else {
		time.Sleep(200 * time.Millisecond)
	}

	state := make(device.DeviceState)
	if v, _, err := c.states.Get(uid, "onoff"); err == nil {
		state["state"] = boolToOnOff(v.Bool)
	}
	if v, _, err := c.states.Get(uid, "level"); err == nil {
		state["brightness"] = int(v.U32)
	}
	return state, nil
}

func (c *Controller) firstEndpoint(uid zbmodel.UID) *zbmodel.Endpoint {
	eps := c.model.ListEndpoints(uid)
	if len(eps) == 0 {
		return nil
	}
	return &eps[0]
}

func (c *Controller) SetDeviceState(ctx context.Context, id string, state map[string]any) (device.DeviceState, error) {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return nil, device.ErrNotFound
	}
	if _, err := c.registry.Get(uid); err != nil {
		return nil, device.ErrNotFound
	}
	ep := c.firstEndpoint(uid)
	if ep == nil {
		return nil, fmt.Errorf("%w: device has no known endpoint", device.ErrNotConnected)
	}

	if stateVal, ok := state["state"]; ok {
		strVal, ok := stateVal.(string)
		if !ok {
			return nil, fmt.Errorf("%w: invalid state value", device.ErrValidation)
		}
		var cmd action.OnOffCmd
		switch strings.ToUpper(strVal) {
		case "ON":
			cmd = action.OnOffOn
		case "OFF":
			cmd = action.OnOffOff
		case "TOGGLE":
			cmd = action.OnOffToggle
		default:
			return nil, fmt.Errorf("%w: invalid state value %q", device.ErrValidation, strVal)
		}
		if err := c.OnOffCmd(uid, ep.EndpointID, cmd); err != nil {
			return nil, fmt.Errorf("send on/off command: %w", err)
		}
	}

	if brightnessVal, ok := state["brightness"]; ok {
		var level uint8
		switch v := brightnessVal.(type) {
		case float64:
			level = uint8(v)
		case int:
			level = uint8(v)
		case json.Number:
			n, _ := v.Int64()
			level = uint8(n)
		default:
			return nil, fmt.Errorf("%w: invalid brightness type", device.ErrValidation)
		}
		if err := c.LevelMoveToLevel(uid, ep.EndpointID, action.LevelParams{Level: level, TransitionMs: 1000}); err != nil {
			return nil, fmt.Errorf("send level command: %w", err)
		}
	}

	return c.GetDeviceState(ctx, id)
}

func (c *Controller) PermitJoin(ctx context.Context, enable bool, duration int) error {
	_, err := c.call(ctx, rpc.Request{Op: rpc.OpPermitJoin, Enable: enable, Duration: duration})
	return err
}

func (c *Controller) IsConnected() bool { return c.link.IsConnected() }

func (c *Controller) Close() { _ = c.link.Close() }

// --- device.EventSubscriber ---

func (c *Controller) Subscribe() chan device.DiscoveryEvent {
	ch := make(chan device.DiscoveryEvent, 16)
	c.subscribersMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subscribersMu.Unlock()
	return ch
}

func (c *Controller) Unsubscribe(ch chan device.DiscoveryEvent) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// PublishDiscoveryEvent fans a discovery event out to every subscriber;
// called by the composition root's EVT handler for "device.join"/
// "device.leave" events forwarded from R.
func (c *Controller) PublishDiscoveryEvent(evt device.DiscoveryEvent) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// --- action.Dispatcher (Execute path for the host-side Rules Engine) ---

func (c *Controller) OnOffCmd(uid zbmodel.UID, endpoint uint8, cmd action.OnOffCmd) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpOnOff, UID: uid.String(), Endpoint: endpoint, OnOffCmd: uint8(cmd)})
	return err
}

func (c *Controller) LevelMoveToLevel(uid zbmodel.UID, endpoint uint8, p action.LevelParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpLevel, UID: uid.String(), Endpoint: endpoint, Level: p.Level, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) ColorMoveToXY(uid zbmodel.UID, endpoint uint8, p action.ColorXYParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpColorXY, UID: uid.String(), Endpoint: endpoint, X: p.X, Y: p.Y, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) ColorMoveToTemperature(uid zbmodel.UID, endpoint uint8, p action.ColorTempParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpColorTemp, UID: uid.String(), Endpoint: endpoint, Mireds: p.Mireds, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) GroupOnOffCmd(groupID uint16, cmd action.OnOffCmd) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpGroupOnOff, GroupID: groupID, OnOffCmd: uint8(cmd)})
	return err
}

func (c *Controller) GroupLevelMoveToLevel(groupID uint16, p action.LevelParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpGroupLevel, GroupID: groupID, Level: p.Level, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) GroupColorMoveToXY(groupID uint16, p action.ColorXYParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpGroupColorXY, GroupID: groupID, X: p.X, Y: p.Y, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) GroupColorMoveToTemperature(groupID uint16, p action.ColorTempParams) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpGroupColorTemp, GroupID: groupID, Mireds: p.Mireds, TransitionMs: p.TransitionMs})
	return err
}

func (c *Controller) SceneStore(groupID uint16, sceneID uint8) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpSceneStore, GroupID: groupID, SceneID: sceneID})
	return err
}

func (c *Controller) SceneRecall(groupID uint16, sceneID uint8) error {
	_, err := c.call(context.Background(), rpc.Request{Op: rpc.OpSceneRecall, GroupID: groupID, SceneID: sceneID})
	return err
}

func (c *Controller) Bind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error {
	_, err := c.call(context.Background(), rpc.Request{
		Op: rpc.OpBind, UID: src.String(), Endpoint: srcEndpoint, ClusterID: clusterID,
		UID2: dst.String(), Endpoint2: dstEndpoint,
	})
	return err
}

func (c *Controller) Unbind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error {
	_, err := c.call(context.Background(), rpc.Request{
		Op: rpc.OpUnbind, UID: src.String(), Endpoint: srcEndpoint, ClusterID: clusterID,
		UID2: dst.String(), Endpoint2: dstEndpoint,
	})
	return err
}

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
