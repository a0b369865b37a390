package action

import (
	"fmt"

	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/gwerr"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// Executor dispatches compiled action records to a Dispatcher. It
// implements rules.ActionExecutor. Grounded on action_exec.c's
// gw_action_exec_compiled / gw_action_exec_compiled_zigbee.
type Executor struct {
	dispatch Dispatcher
}

// NewExecutor returns an Executor issuing commands through d.
func NewExecutor(d Dispatcher) *Executor {
	return &Executor{dispatch: d}
}

// Execute implements rules.ActionExecutor.
func (x *Executor) Execute(c *automation.Compiled, a automation.ActionRecord) error {
	cmd := c.String(a.CmdOff)
	if cmd == "" {
		return fmt.Errorf("missing cmd: %w", gwerr.ErrInvalidArgs)
	}

	switch a.Kind {
	case automation.ActDevice:
		uid, err := zbmodel.ParseUID(c.String(a.UIDOff))
		if err != nil {
			return fmt.Errorf("missing device_uid: %w", gwerr.ErrInvalidArgs)
		}
		if a.Endpoint == 0 {
			return fmt.Errorf("bad endpoint: %w", gwerr.ErrInvalidArgs)
		}
		return x.execDevice(uid, a.Endpoint, cmd, a)

	case automation.ActGroup:
		groupID := a.U16_0
		if groupID == 0 || groupID == 0xFFFF {
			return fmt.Errorf("bad group_id: %w", gwerr.ErrInvalidArgs)
		}
		return x.execGroup(groupID, cmd, a)

	case automation.ActScene:
		groupID := a.U16_0
		sceneID := uint8(a.U16_1)
		if groupID == 0 || groupID == 0xFFFF {
			return fmt.Errorf("bad group_id: %w", gwerr.ErrInvalidArgs)
		}
		if sceneID == 0 {
			return fmt.Errorf("bad scene_id: %w", gwerr.ErrInvalidArgs)
		}
		switch cmd {
		case "scene.store":
			return x.dispatch.SceneStore(groupID, sceneID)
		case "scene.recall":
			return x.dispatch.SceneRecall(groupID, sceneID)
		default:
			return fmt.Errorf("bad cmd: %w", gwerr.ErrInvalidArgs)
		}

	case automation.ActBind:
		src, err := zbmodel.ParseUID(c.String(a.UIDOff))
		if err != nil {
			return fmt.Errorf("missing device uid: %w", gwerr.ErrInvalidArgs)
		}
		dst, err := zbmodel.ParseUID(c.String(a.UID2Off))
		if err != nil {
			return fmt.Errorf("missing device uid: %w", gwerr.ErrInvalidArgs)
		}
		if a.Endpoint == 0 || a.AuxEp == 0 {
			return fmt.Errorf("bad endpoint: %w", gwerr.ErrInvalidArgs)
		}
		if a.U16_0 == 0 {
			return fmt.Errorf("bad cluster_id: %w", gwerr.ErrInvalidArgs)
		}
		if a.Flags&automation.ActionFlagUnbind != 0 {
			return x.dispatch.Unbind(src, a.Endpoint, a.U16_0, dst, a.AuxEp)
		}
		return x.dispatch.Bind(src, a.Endpoint, a.U16_0, dst, a.AuxEp)

	default:
		return fmt.Errorf("unsupported action.kind: %w", gwerr.ErrUnsupported)
	}
}

func (x *Executor) execDevice(uid zbmodel.UID, endpoint uint8, cmd string, a automation.ActionRecord) error {
	switch cmd {
	case "color.move_to_color_xy":
		if a.Arg0U32 > 65535 || a.Arg1U32 > 65535 {
			return fmt.Errorf("bad x/y: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg2U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.ColorMoveToXY(uid, endpoint, ColorXYParams{X: uint16(a.Arg0U32), Y: uint16(a.Arg1U32), TransitionMs: uint16(a.Arg2U32)})
	case "color.move_to_color_temperature":
		if a.Arg0U32 < 1 || a.Arg0U32 > 1000 {
			return fmt.Errorf("bad mireds: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg1U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.ColorMoveToTemperature(uid, endpoint, ColorTempParams{Mireds: uint16(a.Arg0U32), TransitionMs: uint16(a.Arg1U32)})
	}

	if onoff, ok := onOffFromCmd(cmd); ok {
		return x.dispatch.OnOffCmd(uid, endpoint, onoff)
	}
	if cmd == "level.move_to_level" {
		if a.Arg0U32 > 254 {
			return fmt.Errorf("bad level: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg1U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.LevelMoveToLevel(uid, endpoint, LevelParams{Level: uint8(a.Arg0U32), TransitionMs: uint16(a.Arg1U32)})
	}
	return fmt.Errorf("unsupported cmd: %w", gwerr.ErrUnsupported)
}

func (x *Executor) execGroup(groupID uint16, cmd string, a automation.ActionRecord) error {
	if onoff, ok := onOffFromCmd(cmd); ok {
		return x.dispatch.GroupOnOffCmd(groupID, onoff)
	}
	switch cmd {
	case "level.move_to_level":
		if a.Arg0U32 > 254 {
			return fmt.Errorf("bad level: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg1U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.GroupLevelMoveToLevel(groupID, LevelParams{Level: uint8(a.Arg0U32), TransitionMs: uint16(a.Arg1U32)})
	case "color.move_to_color_xy":
		if a.Arg0U32 > 65535 || a.Arg1U32 > 65535 {
			return fmt.Errorf("bad x/y: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg2U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.GroupColorMoveToXY(groupID, ColorXYParams{X: uint16(a.Arg0U32), Y: uint16(a.Arg1U32), TransitionMs: uint16(a.Arg2U32)})
	case "color.move_to_color_temperature":
		if a.Arg0U32 < 1 || a.Arg0U32 > 1000 {
			return fmt.Errorf("bad mireds: %w", gwerr.ErrInvalidArgs)
		}
		if a.Arg1U32 > 60000 {
			return fmt.Errorf("bad transition_ms: %w", gwerr.ErrInvalidArgs)
		}
		return x.dispatch.GroupColorMoveToTemperature(groupID, ColorTempParams{Mireds: uint16(a.Arg0U32), TransitionMs: uint16(a.Arg1U32)})
	}
	return fmt.Errorf("unsupported group cmd: %w", gwerr.ErrUnsupported)
}

func onOffFromCmd(cmd string) (OnOffCmd, bool) {
	switch cmd {
	case "onoff.on":
		return OnOffOn, true
	case "onoff.off":
		return OnOffOff, true
	case "onoff.toggle":
		return OnOffToggle, true
	default:
		return 0, false
	}
}
