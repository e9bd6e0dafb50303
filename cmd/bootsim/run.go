package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/bootloader"
	"github.com/tallstad/bootcore/internal/config"
	"github.com/tallstad/bootcore/internal/emergency"
	"github.com/tallstad/bootcore/internal/flash"
	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/protocol"
	"github.com/tallstad/bootcore/internal/tick"
	"github.com/tallstad/bootcore/internal/timeout"
	"github.com/tallstad/bootcore/internal/transport"
)

var (
	configPath string
	debugMode  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the configuration file (default: OS config dir)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Log every state transition and handler retry")

	// Silent by default; BOOTCORE_LOG_LEVEL or --debug turns logging on.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if debugMode {
			return logging.Initialize("debug")
		}
		return logging.InitializeFromEnv()
	}
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.NewConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func buildTransport(cfg *config.Config) (*transport.Context, error) {
	switch cfg.Transport.Kind {
	case config.TransportSerial:
		return transport.NewContext(transport.NewSerial(cfg.Transport.Port, cfg.Transport.Baud)), nil
	case config.TransportTCP:
		return transport.NewContext(transport.NewTCP(cfg.Transport.Addr)), nil
	case config.TransportLoopback:
		device, _ := transport.Pair()
		return transport.NewContext(device), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

func runBootloader(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	clock := tick.NewSystemSource()
	rt := bootloader.NewRuntime(clock)

	tr, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	rt.Transport = tr

	device := flash.NewMemDevice(cfg.Flash.BaseAddress, cfg.Flash.Size)
	writer, err := flash.NewWriter(device, cfg.Flash.BaseAddress)
	if err != nil {
		return err
	}
	rt.Flash = writer

	session := protocol.NewSession(tr, clock, rt.Faults)
	session.SetChunkSink(writer.Stage)
	session.SetFrameTimeouts(cfg.Timeouts.FrameByteMs, cfg.Timeouts.FrameTotalMs)
	session.SetFrameLogging(cfg.Debug.FrameLogging)
	rt.Session = session

	rt.Emergency.AttachTransport(tr)
	rt.Emergency.AttachFlash(device)
	rt.Emergency.Configure(cfg.Recovery.AutoRecovery, cfg.Recovery.MaxAttempts,
		cfg.Recovery.DelayMs)

	machine := bootloader.New(rt)
	machine.SetDebugMode(debugMode || cfg.Debug.StateLogging)

	rt.Emergency.SetSnapshotFunc(func() emergency.Snapshot {
		return emergency.Snapshot{
			BootloaderState:  machine.CurrentState().String(),
			ProtocolState:    session.State().String(),
			UptimeMs:         clock.Now(),
			SessionElapsedMs: session.IdleFor(),
			ActiveResources:  rt.Resources.Count(),
		}
	})

	// The session timeout bounds the whole exchange; expiry resets the
	// session so a stalled host cannot wedge the device.
	sessionTimeout := timeout.NewSimple("session", clock, cfg.Timeouts.SessionMs)
	if _, err := rt.Timeouts.Register(sessionTimeout); err != nil {
		return err
	}
	sessionTimeout.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	logging.Info("bootloader core started",
		zap.String("transport", cfg.Transport.Kind),
		zap.Uint32("flash_base", cfg.Flash.BaseAddress),
		zap.Uint32("flash_size", cfg.Flash.Size),
	)

	for !machine.Done() {
		select {
		case <-sig:
			rt.Emergency.Trigger(emergency.ConditionUserRequested,
				emergency.ActionSafeMode, "interrupt received")
		default:
		}

		if err := machine.RunCycle(); err != nil {
			logging.Warn("run cycle", zap.Error(err),
				zap.Stringer("state", machine.CurrentState()))
		}
		if machine.GetStats().EmergencyMode {
			break
		}

		rt.Timeouts.Update()
		if sessionTimeout.Expired() {
			logging.Warn("session timeout, resetting session")
			session.ResetSession()
			sessionTimeout.Reset()
			sessionTimeout.Start()
		}
		if session.GetStats().MessagesReceived > 0 {
			rt.Timeouts.RecordActivity()
		}

		time.Sleep(time.Millisecond)
	}

	stats := machine.GetStats()
	logging.Info("bootloader core stopped",
		zap.Stringer("state", stats.Current),
		zap.Uint32("transitions", stats.TransitionCount),
		zap.Uint32("faults", rt.Faults.TotalCount()),
	)
	if last, ok := rt.Faults.Last(); ok {
		logging.Info("last fault",
			zap.Stringer("code", last.Code),
			zap.String("source_state", last.SourceState),
		)
	}
	return tr.Deinit()
}
