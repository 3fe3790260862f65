package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/foraging-rig/go-controller/internal/acquire"
	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/monitor"
	"github.com/foraging-rig/go-controller/internal/session"
	"github.com/foraging-rig/go-controller/internal/settings"
	"github.com/foraging-rig/go-controller/internal/store"
	"github.com/foraging-rig/go-controller/internal/warning"
)

// #region main
func main() {
	settingsPath := flag.String("settings", settings.SettingsPath(""), "rig settings JSON")
	taskPath := flag.String("task", "", "task config JSON (overrides settings)")
	dbPath := flag.String("db", "", "session database (overrides settings)")
	simulate := flag.String("simulate", "", "simulated animal policy: wsls or random (overrides settings)")
	seed := flag.Int64("seed", 0, "random seed; 0 keeps the settings value")
	flag.Parse()

	cfgSession, err := settings.LoadSession(*settingsPath)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	cfgSession = settings.LoadEnv(cfgSession)
	if *taskPath != "" {
		cfgSession.TaskConfig = *taskPath
	}
	if *dbPath != "" {
		cfgSession.DBPath = *dbPath
	}
	if *simulate != "" {
		cfgSession.Simulate = *simulate
	}
	if *seed != 0 {
		cfgSession.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgSession); err != nil {
		log.Fatalf("foraging: %v", err)
	}
}

// #endregion main

// #region run
func run(ctx context.Context, rs settings.Session) error {
	cfg, err := settings.LoadTaskConfig(rs.TaskConfig)
	if err != nil {
		return err
	}
	cal, err := settings.LoadCalibration(rs.WaterCalibration, rs.LaserCalibration)
	if err != nil {
		return err
	}

	st, err := store.NewStore(rs.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rig, closeRig, err := connect(ctx, rs)
	if err != nil {
		return err
	}
	defer closeRig()

	sess, err := st.CreateSession(rs.RigName, rs.Seed, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	journal := store.Journal{Store: st, SessionID: sess.SessionID}

	hub := monitor.NewHub()
	warnings := warning.Fanout{warning.LogSink{}, hub, journal.Warnings()}

	runner, err := session.New(cfg, session.Options{
		Sink:           rig.sink,
		Packets:        rig.packets,
		Irregular:      rig.irregular,
		Calibration:    cal,
		Journal:        journal,
		Observer:       hub,
		Warnings:       warnings,
		Seed:           rs.Seed,
		OutcomeTimeout: rs.Timeout(),
		EventQueueSize: rs.EventQueueSize,
	})
	if err != nil {
		return err
	}
	hub.Attach(sess.SessionID, runner)

	if rs.MonitorAddr != "" {
		monCtx, stopMonitor := context.WithCancel(ctx)
		defer stopMonitor()
		go func() {
			if err := hub.Serve(monCtx, rs.MonitorAddr); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	fmt.Println("Foraging controller ready.")
	fmt.Printf("  Session: %s | Task: %s | Seed: %d\n", sess.SessionID, cfg.Task, rs.Seed)
	fmt.Printf("  DB: %s | Rig: %s | Monitor: %s\n", rs.DBPath, rig.name, orNone(rs.MonitorAddr))

	res, err := runner.Run(ctx)
	sum := res.Summary
	fmt.Printf("\nSession ended after %d trials: %s\n", res.Trials, res.Reason)
	fmt.Printf("  finished %d, rewarded %d, auto water L=%d R=%d\n",
		sum.Finished, sum.Rewarded, sum.AutoWater[0], sum.AutoWater[1])
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// #endregion run

// #region transport
type rigConn struct {
	name      string
	sink      bus.Sink
	packets   bus.Source
	irregular bus.Source
}

// connect returns the rig transport. A simulated rig runs in process, or
// behind a local gRPC listener when a bus address is set so the session
// exercises the same wire path as hardware.
func connect(ctx context.Context, rs settings.Session) (rigConn, func(), error) {
	if rs.Simulate == "" {
		if rs.BusAddr == "" {
			return rigConn{}, nil, errors.New("no bus address and simulation disabled")
		}
		return dial(ctx, rs.BusAddr, rs.BusAddr, func() {})
	}

	policy := acquire.ChoicePolicy(rs.Simulate)
	if policy != acquire.WinStayLoseSwitch && policy != acquire.RandomChoice {
		return rigConn{}, nil, fmt.Errorf("unknown simulation policy %q", rs.Simulate)
	}
	sim := acquire.NewSimulator(rs.Seed+2, policy)
	if rs.BusAddr == "" {
		return rigConn{
			name:      "simulated (" + string(policy) + ")",
			sink:      sim,
			packets:   sim.Packets(),
			irregular: sim.Irregular(),
		}, func() {}, nil
	}

	lis, err := net.Listen("tcp", rs.BusAddr)
	if err != nil {
		return rigConn{}, nil, fmt.Errorf("listen %s: %w", rs.BusAddr, err)
	}
	srv := grpc.NewServer()
	bus.Register(srv, bus.RigAdapter{
		Commands: sim,
		Streams: map[string]bus.Source{
			bus.StreamPacket:    sim.Packets(),
			bus.StreamIrregular: sim.Irregular(),
		},
	})
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Printf("simulated rig: %v", err)
		}
	}()
	return dial(ctx, lis.Addr().String(), "simulated over gRPC at "+lis.Addr().String(), srv.Stop)
}

func dial(ctx context.Context, addr, name string, after func()) (rigConn, func(), error) {
	client, err := bus.Dial(addr)
	if err != nil {
		after()
		return rigConn{}, nil, fmt.Errorf("connect to rig at %s: %w", addr, err)
	}
	packets, err := client.Subscribe(ctx, bus.StreamPacket)
	if err != nil {
		client.Close()
		after()
		return rigConn{}, nil, fmt.Errorf("subscribe %s: %w", bus.StreamPacket, err)
	}
	irregular, err := client.Subscribe(ctx, bus.StreamIrregular)
	if err != nil {
		packets.Close()
		client.Close()
		after()
		return rigConn{}, nil, fmt.Errorf("subscribe %s: %w", bus.StreamIrregular, err)
	}
	closer := func() {
		irregular.Close()
		packets.Close()
		client.Close()
		after()
	}
	return rigConn{name: name, sink: client, packets: packets, irregular: irregular}, closer, nil
}

// #endregion transport

// #region helpers
func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// #endregion helpers
