package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
	"github.com/flupke/radar-uploader/internal/archive"
	"github.com/flupke/radar-uploader/internal/bridge"
	"github.com/flupke/radar-uploader/internal/config"
	"github.com/flupke/radar-uploader/internal/framedecoder"
	"github.com/flupke/radar-uploader/internal/logging"
	"github.com/flupke/radar-uploader/internal/photographer"
	"github.com/flupke/radar-uploader/internal/pipeline"
	"github.com/flupke/radar-uploader/internal/radarproto"
)

// idleWakeupSchedule re-triggers an uploader sweep during radar idleness
// (SPEC_FULL.md's resolution of spec.md §9's open question).
const idleWakeupSchedule = "@every 5m"

const healthSamplePeriod = 15 * time.Second

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "health" {
		runHealthCheck()
		return
	}

	cfg, err := config.ParseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// runHealthCheck is the supplemented RunHealthCheck-equivalent subcommand
// (SPEC_FULL.md "SUPPLEMENTED FEATURES"): a reachability probe against the
// backend, not a local resource sample.
func runHealthCheck() {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	apiEndpoint := fs.String("api-endpoint", "", "backend API base URL")
	apiKey := fs.String("api-key", "", "backend API key")
	_ = fs.Parse(os.Args[2:])

	if *apiEndpoint == "" {
		fmt.Fprintln(os.Stderr, "--api-endpoint is required")
		os.Exit(2)
	}

	req, err := http.NewRequest(http.MethodGet, *apiEndpoint+"/api/photos", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "UNREACHABLE: %v\n", err)
		os.Exit(1)
	}
	if *apiKey != "" {
		req.Header.Set("x-api-key", *apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("UNREACHABLE: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		fmt.Printf("UNREACHABLE: backend returned %s\n", resp.Status)
		os.Exit(1)
	}
	fmt.Println("READY")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.InfractionsDir, 0755); err != nil {
		return fmt.Errorf("creating infractions dir: %w", err)
	}

	initialCfg, err := initialRadarConfig(cfg)
	if err != nil {
		return err
	}

	var archiver pipeline.Archiver
	if cfg.S3Bucket != "" {
		a, err := archive.New(ctx, cfg.S3Bucket, cfg.S3Region, "", "")
		if err != nil {
			return fmt.Errorf("building s3 archiver: %w", err)
		}
		archiver = a
	}

	uploader := pipeline.NewUploader(cfg.InfractionsDir, cfg.APIEndpoint, cfg.APIKey, archiver, logger)
	uploaderPort := actorsys.Spawn[pipeline.UploaderCommand](ctx, uploader)
	defer uploaderPort.Release()

	if err := uploader.StartIdleWakeup(idleWakeupSchedule, func() {
		_ = uploaderPort.Send(pipeline.NotifyInfraction)
	}); err != nil {
		return fmt.Errorf("starting idle wakeup: %w", err)
	}
	defer uploader.StopIdleWakeup()

	samples := pipeline.NewBroadcaster[radarproto.Sample]()

	var capture photographer.Capture
	if cfg.TestMode {
		capture = photographer.Fixed{}
	} else {
		capture = photographer.NewCLI(cfg.CameraBin)
	}

	recorder := pipeline.NewRecorder(initialCfg, cfg.InfractionsDir, capture, uploaderPort, samples, logger)
	recorderPort := actorsys.Spawn[pipeline.RecorderCommand](ctx, recorder)
	defer recorderPort.Release()

	stopReader, err := startReader(ctx, cfg, recorderPort, logger)
	if err != nil {
		return err
	}
	defer stopReader()

	healthSampler := bridge.NewHealthSampler(healthSamplePeriod, logger)
	go healthSampler.Run(ctx)

	stopBridge := startBridge(ctx, cfg, recorderPort, samples, healthSampler, logger)
	defer stopBridge()

	logger.Info("uploader daemon started", "test_mode", cfg.TestMode, "infractions_dir", cfg.InfractionsDir)
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	_ = uploaderPort.Send(pipeline.Shutdown)
	actorsys.Join(uploaderPort)
	return nil
}

// initialRadarConfig builds the recorder's pre-config-arrival default
// (spec.md §3), optionally overridden wholesale by --defaults-file.
func initialRadarConfig(cfg *config.Config) (pipeline.RadarConfig, error) {
	if cfg.DefaultsFile == "" {
		radarCfg := pipeline.DefaultRadarConfig(int16(cfg.AuthorizedSpeed))
		return radarCfg, radarCfg.Validate()
	}

	defaults, err := config.LoadDefaults(cfg.DefaultsFile)
	if err != nil {
		return pipeline.RadarConfig{}, err
	}
	radarCfg := pipeline.RadarConfig{
		AuthorizedSpeed:   defaults.AuthorizedSpeed,
		MinDist:           defaults.MinDist,
		MaxDist:           defaults.MaxDist,
		TriggerCooldownMs: defaults.TriggerCooldownMs,
	}
	return radarCfg, radarCfg.Validate()
}

// startReader spawns either the real serial reader or, in test mode, the
// fake reader, returning a function that tears it down on shutdown.
func startReader(ctx context.Context, cfg *config.Config, recorderPort actorsys.Port[pipeline.RecorderCommand], logger *slog.Logger) (func(), error) {
	if cfg.TestMode {
		fake := pipeline.NewFakeReader(recorderPort, logger)
		fakePort := actorsys.Spawn[struct{}](ctx, fake)
		go fake.Run(ctx)
		return func() { fakePort.Release() }, nil
	}

	symtab, err := framedecoder.LoadSymbolTable(cfg.ELFPath)
	if err != nil {
		return nil, fmt.Errorf("loading firmware symbol table: %w", err)
	}

	reader, err := pipeline.NewSerialReader(cfg.SerialPort, symtab, recorderPort, logger)
	if err != nil {
		return nil, fmt.Errorf("opening serial reader: %w", err)
	}
	readerPort := actorsys.Spawn[struct{}](ctx, reader)
	go func() {
		if err := reader.Run(ctx); err != nil {
			readerPort.Abort()
		}
	}()
	return func() { readerPort.Release() }, nil
}

// startBridge wires the recorder's published TargetSamples into the
// bridge's outbound egress and the bridge's inbound config_updated events
// back into UpdateConfig commands on the recorder's mailbox — the
// cross-partition forwarding spec.md §4.5/§9 calls for, kept entirely out
// of the actor runtime's own call stack. healthSampler's most recent
// reading is attached to the bridge's reconnect logs.
func startBridge(ctx context.Context, cfg *config.Config, recorderPort actorsys.Port[pipeline.RecorderCommand], samples *pipeline.Broadcaster[radarproto.Sample], healthSampler *bridge.HealthSampler, logger *slog.Logger) func() {
	onConfig := func(radarCfg pipeline.RadarConfig) {
		_ = recorderPort.Send(pipeline.UpdateConfig(radarCfg))
	}

	b := bridge.New(cfg.APIEndpoint, cfg.APIKey, onConfig, logger).WithHealthSampler(healthSampler)

	sampleCh, unsubscribe := samples.Subscribe(32)
	egress := make(chan bridge.TelemetrySample, 32)

	go func() {
		defer close(egress)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-sampleCh:
				if !ok {
					return
				}
				payload := bridge.NewTelemetrySample(s.Speed, s.X, s.Y, s.Distance, s.Triggered)
				select {
				case egress <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go b.Run(ctx, egress)

	return unsubscribe
}
