package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galaxyhq/galaxy/pkg/config"
	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/fleet"
	"github.com/galaxyhq/galaxy/pkg/metrics"
	"github.com/galaxyhq/galaxy/pkg/observer"
	"github.com/galaxyhq/galaxy/pkg/orchestrator"
	"github.com/galaxyhq/galaxy/pkg/registry"
	"github.com/galaxyhq/galaxy/pkg/synchronizer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a constellation manifest against the device fleet",
	Long: `Run connects the configured devices, executes the constellation
declared in the manifest, and streams events to the Web UI endpoint.

Examples:
  # Execute a constellation with the default config lookup
  galaxy run -f constellation.yaml

  # Explicit config and observability endpoint
  galaxy run -f constellation.yaml --config galaxy.yaml --listen :8080`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("file", "f", "", "Constellation manifest to execute (required)")
	runCmd.Flags().String("config", "", "Session configuration file")
	runCmd.Flags().String("listen", "", "Address for /metrics and /ws endpoints (disabled when empty)")
	_ = runCmd.MarkFlagRequired("file")
}

func runRun(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	manifest, err := config.LoadManifest(filename)
	if err != nil {
		return err
	}
	con, err := manifest.Build()
	if err != nil {
		return err
	}

	sessionID := uuid.New().String()
	bus := events.NewBus()
	defer bus.Close()

	reg := registry.New()
	mgr := fleet.NewManager(bus, reg, fleet.Config{
		SessionID:         sessionID,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ReconnectDelay:    cfg.ReconnectDelay(),
		DeviceMaxRetries:  cfg.DeviceMaxRetries,
	})
	defer mgr.Shutdown()

	sync := synchronizer.New(bus, cfg.ModificationTimeout())
	defer sync.Close()

	session := observer.NewSessionMetrics(bus)

	collector := metrics.NewCollector(reg, 0)
	collector.SetConstellationSource(func() *constellation.Constellation { return con })
	collector.Start()
	defer collector.Stop()

	if listenAddr != "" {
		hub := observer.NewHub()
		defer hub.Close()
		broadcaster := observer.NewBroadcaster(bus)
		defer broadcaster.Close()
		broadcaster.AddSink(hub)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/ws", hub)
		go func() {
			if err := http.ListenAndServe(listenAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "observability endpoint error: %v\n", err)
			}
		}()
		fmt.Printf("Observability endpoint on %s (/metrics, /ws)\n", listenAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Register and connect the configured fleet.
	connected := 0
	for _, dc := range cfg.Devices {
		if _, err := mgr.RegisterDevice(dc.DeviceID, dc.ServerURL, dc.OS, dc.Capabilities, dc.Metadata, dc.MaxRetries); err != nil {
			return err
		}
		if !dc.ShouldAutoConnect() {
			continue
		}
		if err := mgr.ConnectDevice(ctx, dc.DeviceID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: device %s did not connect: %v\n", dc.DeviceID, err)
			continue
		}
		connected++
		fmt.Printf("✓ Device connected: %s\n", dc.DeviceID)
	}
	if connected == 0 {
		return fmt.Errorf("no device connected; nothing can execute tasks")
	}

	orch := orchestrator.New(bus, mgr, sync, orchestrator.NewRoundRobin(), orchestrator.Config{
		SessionID:           sessionID,
		ModificationTimeout: cfg.ModificationTimeout(),
	})

	go func() {
		<-ctx.Done()
		orch.Cancel(con.ID)
	}()

	fmt.Printf("Executing constellation %q (%d tasks)\n", con.Name, con.Statistics().Total)

	final, err := orch.Execute(ctx, con, manifest.Spec.Assignments)
	if err != nil {
		return err
	}

	stats := final.Statistics()
	fmt.Println()
	fmt.Printf("Constellation %s: %s\n", final.Name, final.State())
	fmt.Printf("  Completed: %d  Failed: %d  Cancelled: %d  (of %d)\n",
		stats.Completed, stats.Failed, stats.Cancelled, stats.Total)

	sessionStats := session.Snapshot()
	fmt.Printf("  Task time total: %s\n", sessionStats.TotalTaskDuration)

	if final.State() != constellation.StateCompleted {
		return fmt.Errorf("constellation finished %s", final.State())
	}
	return nil
}
