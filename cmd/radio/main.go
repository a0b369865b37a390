// Command radio is Node R's composition root (§2): it owns the EZSP
// connection to the Zigbee dongle, the Device Registry/Zigbee Model/State
// Store, and a pkg/link responder that answers Node H's CMD_REQ traffic
// and streams EVT/SNAPSHOT frames. Grounded on the teacher's
// cmd/api/main.go for flag parsing, zerolog setup, database bootstrap, and
// graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.bug.st/serial"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/db"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/link"
	"github.com/urmzd/zgw/pkg/rpc"
	"github.com/urmzd/zgw/pkg/snapshot"
	"github.com/urmzd/zgw/pkg/zbmodel"
	"github.com/urmzd/zgw/pkg/zigbee"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/homai/radio.db)")
	zigbeePort := flag.String("zigbee-port", "/dev/cu.SLAB_USBtoUART", "Path to Zigbee dongle serial port")
	linkPort := flag.String("link-port", "/dev/cu.usbserial-link", "Path to the serial link to Node H")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}
	if needsBootstrap, err := database.NeedsBootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to check bootstrap status")
	} else if needsBootstrap {
		if err := database.Bootstrap(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap database")
		}
	}
	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	bus := eventbus.New(64)

	controller, err := zigbee.NewController(*zigbeePort, bus)
	if err != nil {
		log.Fatal().Err(err).Str("port", *zigbeePort).Msg("zigbee dongle unavailable")
	}
	defer controller.Close()

	loadPersistedRegistry(ctx, database, cfg.Profile.ID, controller.Registry())

	linkConn, err := serial.Open(*linkPort, &serial.Mode{BaudRate: 460800, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		log.Fatal().Err(err).Str("port", *linkPort).Msg("failed to open link port")
	}
	defer func() { _ = linkConn.Close() }()

	var producer *snapshot.Producer
	lk := link.New(linkConn, link.WithRequestHandler(func(payload []byte) []byte {
		return handleRequest(controller, producer, payload)
	}))
	producer = snapshot.NewProducer(controller.Registry(), controller.Model(), controller.States(), controller.Scheduler(), lk)

	persistRegistryOnJoinLeave(bus, database, cfg.Profile.ID, controller)

	log.Info().Str("port", *linkPort).Msg("waiting for host link handshake")
	if err := lk.Accept(ctx); err != nil {
		log.Fatal().Err(err).Msg("link handshake failed")
	}
	log.Info().Msg("host link connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lk.Run(gctx) })
	g.Go(func() error { return producer.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case evt, ok := <-bus.Outbound():
				if !ok {
					return nil
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				lk.PublishEvent(payload)
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("radio node stopped")
	}
	log.Info().Msg("radio node shutting down")
}

// loadPersistedRegistry seeds the in-memory Device Registry from the
// device_registry table so a Node R restart doesn't force every device to
// rejoin before it's usable again (§3's registry persistence note).
func loadPersistedRegistry(ctx context.Context, database *db.DB, profileID int64, registry *zbmodel.Registry) {
	entries, err := database.DeviceRegistry().ListByProfile(ctx, profileID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted device registry")
		return
	}
	for _, e := range entries {
		uid, err := zbmodel.ParseUID(e.UID)
		if err != nil {
			continue
		}
		_ = registry.Upsert(zbmodel.Device{UID: uid, ShortAddr: e.ShortAddr, Name: e.Name, LastSeenMs: e.LastSeenMs})
	}
	log.Info().Int("count", len(entries)).Msg("loaded persisted device registry")
}

// persistRegistryOnJoinLeave write-throughs device.join/device.leave bus
// events into the device_registry table, so the in-memory registry and its
// persisted mirror never drift.
func persistRegistryOnJoinLeave(bus *eventbus.Bus, database *db.DB, profileID int64, controller *zigbee.Controller) {
	bus.AddListener(func(e eventbus.Event) {
		switch e.Type {
		case "device.join":
			uid, err := zbmodel.ParseUID(e.DeviceUID)
			if err != nil {
				return
			}
			dev, err := controller.Registry().Get(uid)
			if err != nil {
				return
			}
			entry := &db.DeviceRegistryEntry{
				UID: dev.UID.String(), ProfileID: profileID, ShortAddr: dev.ShortAddr,
				Name: dev.Name, LastSeenMs: dev.LastSeenMs,
			}
			if err := database.DeviceRegistry().Upsert(context.Background(), entry); err != nil {
				log.Warn().Err(err).Msg("failed to persist device registry entry")
			}
		case "device.leave":
			if err := database.DeviceRegistry().Delete(context.Background(), e.DeviceUID); err != nil {
				log.Debug().Err(err).Msg("device registry delete (already absent)")
			}
		}
	})
}

// handleRequest decodes an rpc.Request CMD_REQ payload and dispatches it
// against the local Zigbee Scheduler/Controller, returning the encoded
// rpc.Response CMD_RSP payload. This is the RPC responder side of §4.6's
// "Action Executor ... RPC-over-link on H".
func handleRequest(controller *zigbee.Controller, producer *snapshot.Producer, payload []byte) []byte {
	req, err := rpc.DecodeRequest(payload)
	if err != nil {
		return mustEncode(rpc.Response{OK: false, Error: "bad request: " + err.Error()})
	}

	resp := dispatch(controller, producer, req)
	return mustEncode(resp)
}

func dispatch(controller *zigbee.Controller, producer *snapshot.Producer, req rpc.Request) rpc.Response {
	ctx := context.Background()
	sched := controller.Scheduler()

	switch req.Op {
	case rpc.OpListDevices:
		devices, err := controller.ListDevices(ctx)
		if err != nil {
			return errResp(err)
		}
		out := make([]rpc.DeviceDTO, 0, len(devices))
		for _, d := range devices {
			out = append(out, toDTO(d))
		}
		return rpc.Response{OK: true, Devices: out}

	case rpc.OpGetDevice:
		d, err := controller.GetDevice(ctx, req.UID)
		if err != nil {
			return errResp(err)
		}
		dto := toDTO(*d)
		return rpc.Response{OK: true, Device: &dto}

	case rpc.OpRenameDevice:
		if err := controller.RenameDevice(ctx, req.UID, req.NewName); err != nil {
			return errResp(err)
		}
		return rpc.Response{OK: true}

	case rpc.OpRemoveDevice:
		if err := controller.RemoveDevice(ctx, req.UID, req.Force); err != nil {
			return errResp(err)
		}
		return rpc.Response{OK: true}

	case rpc.OpGetState:
		uid, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		if ep := firstEndpoint(controller, uid); ep != nil {
			if err := sched.ReadOnOff(uid, ep.EndpointID); err != nil {
				return errResp(err)
			}
		}
		return rpc.Response{OK: true}

	case rpc.OpPermitJoin:
		if err := controller.PermitJoin(ctx, req.Enable, req.Duration); err != nil {
			return errResp(err)
		}
		return rpc.Response{OK: true}

	case rpc.OpSyncSnapshot:
		producer.Request()
		return rpc.Response{OK: true}

	case rpc.OpOnOff:
		uid, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.OnOffCmd(uid, req.Endpoint, actionOnOff(req.OnOffCmd)))

	case rpc.OpLevel:
		uid, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.LevelMoveToLevel(uid, req.Endpoint, levelParams(req)))

	case rpc.OpColorXY:
		uid, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.ColorMoveToXY(uid, req.Endpoint, colorXYParams(req)))

	case rpc.OpColorTemp:
		uid, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.ColorMoveToTemperature(uid, req.Endpoint, colorTempParams(req)))

	case rpc.OpGroupOnOff:
		return okOrErr(sched.GroupOnOffCmd(req.GroupID, actionOnOff(req.OnOffCmd)))

	case rpc.OpGroupLevel:
		return okOrErr(sched.GroupLevelMoveToLevel(req.GroupID, levelParams(req)))

	case rpc.OpGroupColorXY:
		return okOrErr(sched.GroupColorMoveToXY(req.GroupID, colorXYParams(req)))

	case rpc.OpGroupColorTemp:
		return okOrErr(sched.GroupColorMoveToTemperature(req.GroupID, colorTempParams(req)))

	case rpc.OpSceneStore:
		return okOrErr(sched.SceneStore(req.GroupID, req.SceneID))

	case rpc.OpSceneRecall:
		return okOrErr(sched.SceneRecall(req.GroupID, req.SceneID))

	case rpc.OpBind:
		src, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		dst, err := zbmodel.ParseUID(req.UID2)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.Bind(src, req.Endpoint, req.ClusterID, dst, req.Endpoint2))

	case rpc.OpUnbind:
		src, err := zbmodel.ParseUID(req.UID)
		if err != nil {
			return errResp(err)
		}
		dst, err := zbmodel.ParseUID(req.UID2)
		if err != nil {
			return errResp(err)
		}
		return okOrErr(sched.Unbind(src, req.Endpoint, req.ClusterID, dst, req.Endpoint2))

	default:
		return rpc.Response{OK: false, Error: "unsupported op: " + string(req.Op)}
	}
}

func mustEncode(resp rpc.Response) []byte {
	payload, err := rpc.EncodeResponse(resp)
	if err != nil {
		payload, _ = rpc.EncodeResponse(rpc.Response{OK: false, Error: "failed to encode response"})
	}
	return payload
}

func errResp(err error) rpc.Response { return rpc.Response{OK: false, Error: err.Error()} }

func okOrErr(err error) rpc.Response {
	if err != nil {
		return errResp(err)
	}
	return rpc.Response{OK: true}
}

func toDTO(d device.Device) rpc.DeviceDTO {
	return rpc.DeviceDTO{
		ID:           d.ID,
		Name:         d.Name,
		Type:         string(d.Type),
		Protocol:     string(d.Protocol),
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		StateSchema:  d.StateSchema,
	}
}

func firstEndpoint(controller *zigbee.Controller, uid zbmodel.UID) *zbmodel.Endpoint {
	eps := controller.Model().ListEndpoints(uid)
	if len(eps) == 0 {
		return nil
	}
	return &eps[0]
}

func actionOnOff(cmd uint8) action.OnOffCmd { return action.OnOffCmd(cmd) }

func levelParams(req rpc.Request) action.LevelParams {
	return action.LevelParams{Level: req.Level, TransitionMs: req.TransitionMs}
}

func colorXYParams(req rpc.Request) action.ColorXYParams {
	return action.ColorXYParams{X: req.X, Y: req.Y, TransitionMs: req.TransitionMs}
}

func colorTempParams(req rpc.Request) action.ColorTempParams {
	return action.ColorTempParams{Mireds: req.Mireds, TransitionMs: req.TransitionMs}
}
