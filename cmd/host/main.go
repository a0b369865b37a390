// Command host is Node H's composition root (§2): it owns the REST API,
// the Rules Engine, and Automation persistence, reaching the Zigbee radio
// only through pkg/rpc/pkg/link and a local Device Registry/Zigbee
// Model/State Store mirror kept current by the Snapshot Applier and EVT
// stream. Grounded on the teacher's cmd/api/main.go for flag parsing,
// zerolog setup, database bootstrap, router startup, and graceful
// shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.bug.st/serial"

	"github.com/urmzd/zgw/pkg/action"
	"github.com/urmzd/zgw/pkg/api"
	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/db"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/device/remote"
	"github.com/urmzd/zgw/pkg/device/schema"
	"github.com/urmzd/zgw/pkg/eventbus"
	"github.com/urmzd/zgw/pkg/frame"
	"github.com/urmzd/zgw/pkg/link"
	"github.com/urmzd/zgw/pkg/rpc"
	"github.com/urmzd/zgw/pkg/rules"
	"github.com/urmzd/zgw/pkg/snapshot"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/homai/homai.db)")
	port := flag.String("port", "", "Port to listen on (overrides config)")
	linkPort := flag.String("link-port", "/dev/cu.usbserial-link", "Path to the serial link to Node R")
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
	addr := cfg.APIAddress()
	if *port != "" {
		addr = ":" + *port
	}

	registry := zbmodel.NewRegistry()
	model := zbmodel.NewModel()
	states := zbmodel.NewStateStore()
	applier := snapshot.NewApplier(registry, model, states)

	linkConn, err := serial.Open(*linkPort, &serial.Mode{BaudRate: 460800, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		log.Fatal().Err(err).Str("port", *linkPort).Msg("failed to open link port")
	}
	defer func() { _ = linkConn.Close() }()

	bus := eventbus.New(64)
	var controller *remote.Controller

	lk := link.New(linkConn,
		link.WithSnapshotHandler(func(f frame.Frame) {
			p, err := snapshot.Decode(f.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("bad snapshot frame")
				return
			}
			applier.Apply(p)
		}),
		link.WithEventHandler(func(f frame.Frame) {
			handleLinkEvent(bus, controller, f.Payload)
		}),
	)
	controller = remote.New(lk, registry, model, states)
	defer controller.Close()

	log.Info().Str("port", *linkPort).Msg("connecting to radio node")
	if err := lk.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("link handshake with radio node failed")
	}
	log.Info().Msg("radio link connected")

	var engine *rules.Engine
	loadAutomations(ctx, database, cfg.Profile.ID, func(e *rules.Engine) {
		engine = e
		bus.AddListener(engine.ProcessEvent)
	}, states, bus, controller)

	validator := schema.NewValidator()
	router := api.NewRouter(controller, controller, validator, database.Automations(), cfg.Profile.ID, func() {
		reloadAutomations(ctx, database, cfg.Profile.ID, engine)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lk.Run(gctx) })
	g.Go(func() error {
		if req, err := rpc.EncodeRequest(rpc.Request{Op: rpc.OpSyncSnapshot}); err == nil {
			if _, err := lk.SendRequest(gctx, req); err != nil {
				log.Warn().Err(err).Msg("initial snapshot request failed")
			}
		}
		<-gctx.Done()
		return gctx.Err()
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("starting REST API")
		srvErr := make(chan error, 1)
		go func() { srvErr <- router.Run(addr) }()
		select {
		case <-gctx.Done():
			return gctx.Err()
		case err := <-srvErr:
			return err
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("host node stopped")
	}
	log.Info().Msg("host node shutting down")
}

// handleLinkEvent decodes an EVT frame forwarded from Node R, republishes
// it on the local bus for the Rules Engine, and fans device.join/leave
// events out to device.EventSubscriber listeners (§4.6, §6).
func handleLinkEvent(bus *eventbus.Bus, controller *remote.Controller, payload []byte) {
	var evt eventbus.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Warn().Err(err).Msg("bad EVT frame")
		return
	}
	bus.Publish(evt)

	switch evt.Type {
	case "device.join":
		controller.PublishDiscoveryEvent(device.DiscoveryEvent{
			Type:      "device_joined",
			Device:    &device.Device{ID: evt.DeviceUID, Protocol: device.ProtocolZigbee},
			Timestamp: time.Now(),
		})
	case "device.leave":
		controller.PublishDiscoveryEvent(device.DiscoveryEvent{
			Type:      "device_left",
			Device:    &device.Device{ID: evt.DeviceUID, Protocol: device.ProtocolZigbee},
			Timestamp: time.Now(),
		})
	}
}

// loadAutomations reads every stored automation for the active profile,
// deserializes its GWAR binary, builds the Rules Engine's Action Executor
// around controller (an action.Dispatcher), and wires it into the bus via
// onReload.
func loadAutomations(ctx context.Context, database *db.DB, profileID int64, onReload func(*rules.Engine), states *zbmodel.StateStore, bus *eventbus.Bus, dispatcher action.Dispatcher) {
	stored, err := database.Automations().ListByProfile(ctx, profileID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load automations")
		return
	}

	executor := action.NewExecutor(dispatcher)
	engine := rules.NewEngine(states, bus, executor)

	entries := make([]rules.Entry, 0, len(stored))
	for _, a := range stored {
		compiled, err := automation.Deserialize(a.Compiled)
		if err != nil {
			log.Warn().Err(err).Str("automation", a.ID).Msg("failed to deserialize automation, skipping")
			continue
		}
		entries = append(entries, rules.Entry{ID: a.ID, Enabled: a.Enabled, Compiled: compiled})
	}
	engine.Reload(entries)
	onReload(engine)
	log.Info().Int("count", len(entries)).Msg("loaded automations")
}

// reloadAutomations re-reads the profile's stored automations and reloads
// them into the already-running Rules Engine, called after every write
// through the REST automations endpoints (§4.5).
func reloadAutomations(ctx context.Context, database *db.DB, profileID int64, engine *rules.Engine) {
	if engine == nil {
		return
	}
	stored, err := database.Automations().ListByProfile(ctx, profileID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reload automations")
		return
	}
	entries := make([]rules.Entry, 0, len(stored))
	for _, a := range stored {
		compiled, err := automation.Deserialize(a.Compiled)
		if err != nil {
			log.Warn().Err(err).Str("automation", a.ID).Msg("failed to deserialize automation, skipping")
			continue
		}
		entries = append(entries, rules.Entry{ID: a.ID, Enabled: a.Enabled, Compiled: compiled})
	}
	engine.Reload(entries)
	log.Info().Int("count", len(entries)).Msg("reloaded automations")
}
