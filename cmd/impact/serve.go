package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/impact.report/internal/api"
	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/fsutil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/serialmux"
)

const shutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stdout)
	modelPath := fs.String("model", "artifacts/model.json", "Model artifact to serve; reloaded on SIGHUP")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	dbPath := fs.String("db", "", "Run ledger database (enables the run registry and detection log)")
	configPath := fs.String("config", "", "Pipeline config file")
	threshold := fs.String("threshold", "", "Default threshold policy: balanced, recall or a number")
	serialPath := fs.String("serial", "", "Accelerometer serial device, e.g. /dev/ttyUSB0")
	baud := fs.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	serialMock := fs.Bool("serial-mock", false, "Replay synthetic samples instead of opening -serial")
	serialVehicle := fs.String("serial-vehicle", l1samples.DefaultVehicleID, "Vehicle ID for serial lines without one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == "" {
		return usageError{"serve: -listen is required"}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	policyText := *threshold
	if policyText == "" {
		policyText = cfg.GetThresholdPolicy()
	}
	policy, err := l7serving.ParsePolicy(policyText)
	if err != nil {
		return usageError{fmt.Sprintf("serve: %v", err)}
	}

	handle := l7serving.NewHandle(fsutil.OSFileSystem{}, *modelPath)
	if _, err := handle.Reload(); err != nil {
		log.Printf("serve: starting without a model: %v", err)
	}

	var ledger *db.DB
	if *dbPath != "" {
		ledger, err = db.NewDB(*dbPath)
		if err != nil {
			return err
		}
		defer ledger.Close()
	}

	stream := l7serving.DefaultArenaConfig()
	stream.IdleTimeout = cfg.GetIdleTimeout()
	stream.InboxSize = cfg.GetInboxSize()
	stream.Policy = policy

	var m serialmux.SerialMuxInterface
	switch {
	case *serialMock:
		gen := l1samples.DefaultGeneratorConfig()
		gen.Vehicles = 1
		gen.SamplingRate = cfg.GetSamplingRate()
		samples, err := l1samples.Generate(gen)
		if err != nil {
			return err
		}
		m = serialmux.NewMockSerialMux(samples, time.Duration(float64(time.Second)/gen.SamplingRate))
	case *serialPath != "":
		m, err = serialmux.NewRealSerialMux(*serialPath, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			return err
		}
	default:
		m = serialmux.NewDisabledSerialMux()
	}
	defer m.Close()
	if err := m.Initialise(cfg.GetSamplingRate()); err != nil {
		return fmt.Errorf("failed to initialise sensor: %w", err)
	}

	arena := l7serving.NewArena(handle, stream, func(r l7serving.Result) {
		if !r.IsAccident {
			return
		}
		log.Printf("serial: accident on %s window %d p=%.3f (threshold %.3f, model %s)",
			r.VehicleID, r.WindowIndex, r.Probability, r.Threshold, r.ModelVersion)
		if ledger != nil {
			if err := ledger.RecordDetection(context.Background(), r); err != nil {
				log.Printf("serial: failed to record detection: %v", err)
			}
		}
	})
	defer arena.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	// manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	state := &serialmux.DeviceState{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, err := serialmux.Ingest(ctx, m, arena, *serialVehicle, state)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial ingest stopped: %v", err)
		}
		log.Printf("ingest routine terminated: %d samples, %d rejected, %d config, %d ignored",
			stats.Samples, stats.Rejected, stats.Config, stats.Ignored)
	}()

	// reload the artifact on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-hup:
				_, _ = handle.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := api.NewServer(api.Options{
		Handle: handle,
		DB:     ledger,
		Policy: policy,
		Stream: stream,
	}).ServeMux()
	m.AttachAdminRoutes(mux)
	tsweb.Debugger(mux).Handle("serial-state", "Latest configuration reported by the sensor", state)

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("serve: listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Printf("HTTP server shutdown error: %v", serr)
	}

	cancel()
	wg.Wait()
	log.Printf("graceful shutdown complete")
	return err
}
