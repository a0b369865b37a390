package zigbee

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/classify"
	"github.com/urmzd/zgw/pkg/gwerr"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// gatewayEndpoint is the endpoint the gateway itself sends from, matching
// original_source's single-endpoint coordinator application.
const gatewayEndpoint uint8 = 1

// ezspSender is the subset of *EZSPLayer the Scheduler dispatches through.
// Declared as an interface so tests can drive the Scheduler's dispatch and
// validation logic without a live ASH/serial connection underneath.
type ezspSender interface {
	SendUnicast(nodeID uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte) error
	SendMulticast(groupID uint16, profileID, clusterID uint16, srcEndpoint uint8, payload []byte) error
	Bind(srcShort uint16, srcEndpoint uint8, clusterID uint16, dstIEEE [8]byte, dstEndpoint uint8) error
	Unbind(srcShort uint16, srcEndpoint uint8, clusterID uint16, dstIEEE [8]byte, dstEndpoint uint8) error
}

// Scheduler owns token-table dispatch of outbound Zigbee/ZDO traffic (§4.3,
// §5): it resolves a device UID to a live short address via pkg/zbmodel and
// turns an action.Dispatcher/snapshot.AttrReader call into an EZSP command.
// Built directly on top of EZSPLayer rather than reimplementing framing.
type Scheduler struct {
	ezsp     ezspSender
	registry *zbmodel.Registry
	model    *zbmodel.Model
}

// NewScheduler returns a Scheduler dispatching through ezsp and resolving
// devices against registry/model.
func NewScheduler(ezsp *EZSPLayer, registry *zbmodel.Registry, model *zbmodel.Model) *Scheduler {
	return &Scheduler{ezsp: ezsp, registry: registry, model: model}
}

func (s *Scheduler) shortAddr(uid zbmodel.UID) (uint16, error) {
	d, err := s.registry.Get(uid)
	if err != nil {
		return 0, err
	}
	if d.ShortAddr == zbmodel.ShortAddrUnknown {
		return 0, fmt.Errorf("%w: device has no known short address", gwerr.ErrNotReady)
	}
	return d.ShortAddr, nil
}

// ieeeFromUID converts a UID (big-endian display order, per zbmodel.UID's
// "0x"+hex convention) to the little-endian-first wire order EZSP/ZDO
// commands expect for an IEEE address field.
func ieeeFromUID(uid zbmodel.UID) [8]byte {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(uid))
	var wire [8]byte
	for i := range wire {
		wire[i] = be[7-i]
	}
	return wire
}

func onOffPayload(cmd action.OnOffCmd) []byte {
	var zclCmd uint8
	switch cmd {
	case action.OnOffOn:
		zclCmd = zclCmdOn
	case action.OnOffOff:
		zclCmd = zclCmdOff
	default:
		zclCmd = zclCmdToggle
	}
	return BuildOnOffCommand(zclCmd)
}

// --- action.Dispatcher: device-targeted ---

func (s *Scheduler) OnOffCmd(uid zbmodel.UID, endpoint uint8, cmd action.OnOffCmd) error {
	short, err := s.shortAddr(uid)
	if err != nil {
		return err
	}
	return s.ezsp.SendUnicast(short, zclProfileHA, zclClusterOnOff, gatewayEndpoint, endpoint, onOffPayload(cmd))
}

func (s *Scheduler) LevelMoveToLevel(uid zbmodel.UID, endpoint uint8, p action.LevelParams) error {
	short, err := s.shortAddr(uid)
	if err != nil {
		return err
	}
	payload := BuildMoveToLevelCommand(p.Level, transitionTicks(p.TransitionMs))
	return s.ezsp.SendUnicast(short, zclProfileHA, zclClusterLevelControl, gatewayEndpoint, endpoint, payload)
}

func (s *Scheduler) ColorMoveToXY(uid zbmodel.UID, endpoint uint8, p action.ColorXYParams) error {
	short, err := s.shortAddr(uid)
	if err != nil {
		return err
	}
	payload := BuildMoveToColorCommand(p.X, p.Y, transitionTicks(p.TransitionMs))
	return s.ezsp.SendUnicast(short, zclProfileHA, zclClusterColorControl, gatewayEndpoint, endpoint, payload)
}

func (s *Scheduler) ColorMoveToTemperature(uid zbmodel.UID, endpoint uint8, p action.ColorTempParams) error {
	short, err := s.shortAddr(uid)
	if err != nil {
		return err
	}
	payload := BuildMoveToColorTemperatureCommand(p.Mireds, transitionTicks(p.TransitionMs))
	return s.ezsp.SendUnicast(short, zclProfileHA, zclClusterColorControl, gatewayEndpoint, endpoint, payload)
}

// --- action.Dispatcher: group-targeted ---

func (s *Scheduler) GroupOnOffCmd(groupID uint16, cmd action.OnOffCmd) error {
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterOnOff, gatewayEndpoint, onOffPayload(cmd))
}

func (s *Scheduler) GroupLevelMoveToLevel(groupID uint16, p action.LevelParams) error {
	payload := BuildMoveToLevelCommand(p.Level, transitionTicks(p.TransitionMs))
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterLevelControl, gatewayEndpoint, payload)
}

func (s *Scheduler) GroupColorMoveToXY(groupID uint16, p action.ColorXYParams) error {
	payload := BuildMoveToColorCommand(p.X, p.Y, transitionTicks(p.TransitionMs))
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterColorControl, gatewayEndpoint, payload)
}

func (s *Scheduler) GroupColorMoveToTemperature(groupID uint16, p action.ColorTempParams) error {
	payload := BuildMoveToColorTemperatureCommand(p.Mireds, transitionTicks(p.TransitionMs))
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterColorControl, gatewayEndpoint, payload)
}

// --- action.Dispatcher: scenes ---

func (s *Scheduler) SceneStore(groupID uint16, sceneID uint8) error {
	payload := BuildSceneStoreCommand(groupID, sceneID)
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterScenes, gatewayEndpoint, payload)
}

func (s *Scheduler) SceneRecall(groupID uint16, sceneID uint8) error {
	payload := BuildSceneRecallCommand(groupID, sceneID)
	return s.ezsp.SendMulticast(groupID, zclProfileHA, zclClusterScenes, gatewayEndpoint, payload)
}

// --- action.Dispatcher: ZDO bind/unbind ---

func (s *Scheduler) Bind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error {
	srcShort, err := s.shortAddr(src)
	if err != nil {
		return err
	}
	return s.ezsp.Bind(srcShort, srcEndpoint, clusterID, ieeeFromUID(dst), dstEndpoint)
}

func (s *Scheduler) Unbind(src zbmodel.UID, srcEndpoint uint8, clusterID uint16, dst zbmodel.UID, dstEndpoint uint8) error {
	srcShort, err := s.shortAddr(src)
	if err != nil {
		return err
	}
	return s.ezsp.Unbind(srcShort, srcEndpoint, clusterID, ieeeFromUID(dst), dstEndpoint)
}

// transitionTicks converts a millisecond transition time to the ZCL
// Level/Color Control wire unit of 1/10 second ticks.
func transitionTicks(ms uint16) uint16 {
	return ms / 100
}

// ReadOnOff issues a one-off On/Off attribute read for a single device
// endpoint, used by the device.Controller facade to refresh state on a
// GetDeviceState call without going through the full snapshot pre-read.
func (s *Scheduler) ReadOnOff(uid zbmodel.UID, endpoint uint8) error {
	short, err := s.shortAddr(uid)
	if err != nil {
		return err
	}
	payload := BuildReadAttributesCommand(zclAttrOnOff)
	return s.ezsp.SendUnicast(short, zclProfileHA, zclClusterOnOff, gatewayEndpoint, endpoint, payload)
}

// --- snapshot.AttrReader ---

// readableClusters lists the clusters whose current value is worth
// refreshing before a snapshot stream, per §4.8 step 1.
var readableClusters = []struct {
	cluster uint16
	attrs   []uint16
}{
	{zclClusterOnOff, []uint16{zclAttrOnOff}},
	{zclClusterLevelControl, []uint16{zclAttrCurrentLevel}},
}

// ScheduleReads queues a Read Attributes request for every known endpoint
// that classify.Kind recognizes as reporting on/off or level state, and
// returns the number of reads queued (used to size the snapshot pre-read
// wait window).
func (s *Scheduler) ScheduleReads(ctx context.Context) int {
	n := 0
	for _, d := range s.registry.List() {
		for _, ep := range s.model.ListEndpoints(d.UID) {
			if ctx.Err() != nil {
				return n
			}
			if classify.EndpointKind(ep) == classify.KindUnknown {
				continue
			}
			for _, rc := range readableClusters {
				if !ep.HasInCluster(rc.cluster) {
					continue
				}
				payload := BuildReadAttributesCommand(rc.attrs...)
				if err := s.ezsp.SendUnicast(d.ShortAddr, zclProfileHA, rc.cluster, gatewayEndpoint, ep.EndpointID, payload); err != nil {
					log.Warn().Err(err).Str("uid", d.UID.String()).Uint8("endpoint", ep.EndpointID).Msg("snapshot pre-read failed")
					continue
				}
				n++
			}
		}
	}
	return n
}
