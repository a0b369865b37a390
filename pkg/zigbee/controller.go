package zigbee

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/classify"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/projection"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// Controller implements device.Controller and device.EventSubscriber for
// direct EZSP communication with a Sonoff Zigbee dongle, presenting the
// gateway's richer zbmodel.Registry/Model/StateStore as the unified
// device.Device view pkg/api and pkg/mcp already consume. Where the teacher
// kept a private map[string]*KnownDevice, this version is backed by the
// Device Registry, Zigbee Model, and State Store (§3, §4.2) so the same
// state a snapshot stream or the rules engine sees is what callers of this
// interface see too.
type Controller struct {
	serial    *SerialPort
	ash       *ASHLayer
	ezsp      *EZSPLayer
	scheduler *Scheduler

	registry  *zbmodel.Registry
	model     *zbmodel.Model
	states    *zbmodel.StateStore
	sensors   *zbmodel.SensorStore
	projector *projection.Projector
	executor  *action.Executor
	bus       *eventbus.Bus

	subscribers   []chan device.DiscoveryEvent
	subscribersMu sync.Mutex

	connected bool
	connMu    sync.RWMutex

	stopChan chan struct{}
}

// NewController creates and initializes a Zigbee EZSP controller.
func NewController(portPath string, bus *eventbus.Bus) (*Controller, error) {
	log.Info().Str("port", portPath).Msg("Initializing Zigbee controller")
	s, err := OpenSerial(portPath)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}

	ash := NewASHLayer(s)
	ezsp := NewEZSPLayer(ash)

	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()
	sensors := zbmodel.NewSensorStore()
	scheduler := NewScheduler(ezsp, registry, model)

	c := &Controller{
		serial:    s,
		ash:       ash,
		ezsp:      ezsp,
		scheduler: scheduler,
		registry:  registry,
		model:     model,
		states:    states,
		sensors:   sensors,
		projector: projection.New(model, registry, states, sensors, bus),
		executor:  action.NewExecutor(scheduler),
		bus:       bus,
		stopChan:  make(chan struct{}),
	}

	ezsp.SetCallbackHandler(c.handleCallback)

	log.Info().Msg("Connecting ASH layer")
	if err := ash.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ASH connect: %w", err)
	}

	log.Info().Msg("Starting EZSP processing")
	ezsp.Start()

	log.Info().Msg("Initializing EZSP stack")
	if err := c.initStack(); err != nil {
		c.Close()
		return nil, fmt.Errorf("init stack: %w", err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	log.Info().Msg("Zigbee EZSP controller initialized")
	return c, nil
}

// Scheduler exposes the underlying Scheduler so a composition root can wire
// it as an action.Dispatcher and snapshot.AttrReader independently of the
// device.Controller facade.
func (c *Controller) Scheduler() *Scheduler { return c.scheduler }

// Registry/Model/States expose the backing stores for the snapshot
// Producer, which streams directly from them rather than through this
// facade.
func (c *Controller) Registry() *zbmodel.Registry { return c.registry }
func (c *Controller) Model() *zbmodel.Model       { return c.model }
func (c *Controller) States() *zbmodel.StateStore { return c.states }

// initStack performs EZSP version negotiation, stack configuration, and network setup.
func (c *Controller) initStack() error {
	log.Info().Msg("Negotiating EZSP version")
	proto, _, stackVer, err := c.ezsp.NegotiateVersion()
	if err != nil {
		return err
	}
	log.Info().Uint8("protocol", proto).Uint16("stack", stackVer).Msg("EZSP version OK")

	log.Info().Msg("Configuring EZSP stack")
	if err := c.ezsp.ConfigureStack(); err != nil {
		return err
	}

	log.Info().Msg("Initializing Zigbee network")
	status, err := c.ezsp.NetworkInit()
	if err != nil {
		return err
	}

	if status == emberSuccess || status == emberNetworkUp {
		log.Info().Msg("Resumed existing Zigbee network")
		return nil
	}

	log.Info().Uint8("status", status).Msg("No existing network, forming new one")

	channel := uint8(15)
	panID := uint16(rand.Intn(0xFFFE) + 1)
	var extPanID [8]byte
	for i := range extPanID {
		extPanID[i] = byte(rand.Intn(256))
	}

	if err := c.ezsp.FormNetwork(channel, panID, extPanID); err != nil {
		return fmt.Errorf("form network: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	return nil
}

// handleCallback processes async EZSP callbacks from the NCP.
func (c *Controller) handleCallback(frameID uint16, data []byte) {
	switch frameID {
	case ezspTrustCenterJoinHandler:
		c.handleTrustCenterJoin(data)
	case ezspIncomingMessageHandler:
		c.handleIncomingMessage(data)
	case ezspStackStatusHandler:
		c.handleStackStatus(data)
	default:
		log.Debug().Uint16("frameID", frameID).Msg("Unhandled EZSP callback")
	}
}

// handleTrustCenterJoin processes device join/leave events.
func (c *Controller) handleTrustCenterJoin(data []byte) {
	if len(data) < 11 {
		return
	}

	nodeID := binary.LittleEndian.Uint16(data[0:2])
	var ieee [8]byte
	copy(ieee[:], data[2:10])
	status := data[10]
	uid := uidFromWireIEEE(ieee)

	log.Info().
		Str("uid", uid.String()).
		Uint16("nodeID", nodeID).
		Uint8("status", status).
		Msg("Trust center join event")

	// Status 3 = DEVICE_LEFT.
	if status == 3 {
		c.model.RemoveDevice(uid)
		_ = c.registry.Remove(uid)
		c.publishEvent(device.DiscoveryEvent{
			Type:      "device_left",
			Timestamp: time.Now(),
			Device:    &device.Device{ID: uid.String()},
		})
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: "device.leave", Source: "zigbee", DeviceUID: uid.String(), ShortAddr: nodeID})
		}
		return
	}

	_ = c.registry.Upsert(zbmodel.Device{
		UID:        uid,
		ShortAddr:  nodeID,
		Name:       c.registry.AutoName(false, false),
		LastSeenMs: uint64(time.Now().UnixMilli()),
	})

	dev := c.knownToDevice(uid)
	c.publishEvent(device.DiscoveryEvent{
		Type:      "device_joined",
		Device:    &dev,
		Timestamp: time.Now(),
	})
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: "device.join", Source: "zigbee", DeviceUID: uid.String(), ShortAddr: nodeID})
	}
}

// handleIncomingMessage processes incoming ZCL messages from devices and
// feeds them through the State Projection (§4.7).
func (c *Controller) handleIncomingMessage(data []byte) {
	// type(1) + apsFrame(12) + lastHopLqi(1) + lastHopRssi(1) + sender(2) + bindingIndex(1) + addressIndex(1) + messageLength(1) + message(N)
	if len(data) < 19 {
		return
	}

	clusterID := binary.LittleEndian.Uint16(data[3:5])
	srcEndpoint := data[5]
	sender := binary.LittleEndian.Uint16(data[14:16])
	msgLen := data[18]

	if len(data) < 19+int(msgLen) {
		return
	}
	message := data[19 : 19+int(msgLen)]

	log.Debug().
		Uint16("cluster", clusterID).
		Uint16("sender", sender).
		Int("msgLen", int(msgLen)).
		Msg("Incoming ZCL message")

	if len(message) < 3 {
		return
	}
	frameControl := message[0]
	cmdID := message[2]
	payload := message[3:]
	isGlobal := frameControl&0x01 == 0

	if !isGlobal || cmdID != zclGlobalReadAttributesResponse {
		return
	}

	attrs := ParseReadAttributesResponse(payload)
	nowMs := uint64(time.Now().UnixMilli())
	for attrID, val := range attrs {
		report := projection.Report{
			ShortAddr: sender,
			Endpoint:  srcEndpoint,
			ClusterID: clusterID,
			AttrID:    attrID,
			Raw:       attrValueToInt64(val),
			TsMs:      nowMs,
		}
		if err := c.projector.Project(report); err != nil {
			log.Debug().Err(err).Uint16("sender", sender).Msg("projection skipped")
		}
	}
}

// uidFromWireIEEE converts a wire-order (little-endian-first) IEEE address,
// as carried in EZSP trust-center-join callbacks, to a zbmodel.UID.
func uidFromWireIEEE(wire [8]byte) zbmodel.UID {
	var be [8]byte
	for i := range be {
		be[i] = wire[7-i]
	}
	return zbmodel.UID(binary.BigEndian.Uint64(be[:]))
}

// attrValueToInt64 decodes a little-endian ZCL attribute value (up to 8
// bytes) into an integer, matching the width pkg/projection expects per
// cluster/attr.
func attrValueToInt64(b []byte) int64 {
	var v uint64
	for i, by := range b {
		if i >= 8 {
			break
		}
		v |= uint64(by) << (8 * i)
	}
	return int64(v)
}

// handleStackStatus processes stack status changes.
func (c *Controller) handleStackStatus(data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case emberNetworkUp:
		log.Info().Msg("Stack status: network up")
	case emberNetworkDown:
		log.Warn().Msg("Stack status: network down")
	default:
		log.Info().Uint8("status", data[0]).Msg("Stack status changed")
	}
}

// publishEvent sends a discovery event to all subscribers.
func (c *Controller) publishEvent(evt device.DiscoveryEvent) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// knownToDevice converts a registry record into a device.Device.
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
	stateSchema, _ := json.Marshal(lightStateSchema())
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
		StateSchema:  stateSchema,
	}
}

// lightStateSchema returns a basic JSON schema for light devices.
func lightStateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"state": map[string]any{
				"type": "string",
				"enum": []string{"ON", "OFF", "TOGGLE"},
			},
			"brightness": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 254,
			},
		},
	}
}

// --- device.Controller interface ---

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

func (c *Controller) RenameDevice(_ context.Context, id, newName string) error {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return device.ErrNotFound
	}
	if err := c.registry.SetName(uid, newName); err != nil {
		return device.ErrNotFound
	}
	return nil
}

func (c *Controller) RemoveDevice(_ context.Context, id string, force bool) error {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return device.ErrNotFound
	}
	if err := c.registry.Remove(uid); err != nil {
		return device.ErrNotFound
	}
	c.model.RemoveDevice(uid)
	return nil
}

func (c *Controller) GetDeviceState(_ context.Context, id string) (device.DeviceState, error) {
	uid, err := zbmodel.ParseUID(id)
	if err != nil {
		return nil, device.ErrNotFound
	}
	if _, err := c.registry.Get(uid); err != nil {
		return nil, device.ErrNotFound
	}

	// Refresh on/off state before reading; best-effort, same as the
	// teacher's brief-wait-for-response pattern.
	if ep := c.firstEndpoint(uid); ep != nil {
		if err := c.scheduler.ReadOnOff(uid, ep.EndpointID); err != nil {
			log.Warn().Err(err).Str("device", id).Msg("failed to read On/Off state")
		} else {
			time.Sleep(200 * time.Millisecond)
		}
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
		if err := c.scheduler.OnOffCmd(uid, ep.EndpointID, cmd); err != nil {
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
		if err := c.scheduler.LevelMoveToLevel(uid, ep.EndpointID, action.LevelParams{Level: level, TransitionMs: 1000}); err != nil {
			return nil, fmt.Errorf("send level command: %w", err)
		}
	}

	return c.GetDeviceState(ctx, id)
}

func (c *Controller) PermitJoin(_ context.Context, enable bool, duration int) error {
	var dur uint8
	if enable {
		if duration <= 0 || duration > 254 {
			dur = 254
		} else {
			dur = uint8(duration)
		}
	}
	return c.ezsp.PermitJoining(dur)
}

func (c *Controller) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.ash.IsConnected()
}

func (c *Controller) Close() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.ezsp.Close()
	c.ash.Close()
	if err := c.serial.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close serial port")
	}
	log.Info().Msg("Zigbee controller closed")
}

// --- device.EventSubscriber interface ---

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

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
