package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"genlock/config"
	"genlock/notify"
	"genlock/serve"
	"genlock/video"
	"genlock/video/sink"
	"genlock/video/source"
)

var (
	configPath = flag.String("config", "", "JSON capture configuration. Reloaded on change.")
	duration   = flag.Duration("duration", 0, "Stop the capture after this long. Zero records until interrupted.")
	listen     = flag.String("listen", "", "Address for the status and preview server, overriding the configuration.")
	toneFreq   = flag.Float64("tone", 440, "Frequency of the demo audio tone in Hz.")
)

func loadConfig(ctx context.Context) (*config.Config, error) {
	if *configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	if err := config.Load(ctx, *configPath); err != nil {
		return nil, err
	}
	return config.Get(), nil
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.Warnf("Unknown log level %q, keeping %v", cfg.LogLevel, log.GetLevel())
	} else {
		log.SetLevel(lvl)
	}
	// The loaded config is shared with the reload watcher.
	cfg = cfg.Clone()
	if *listen != "" {
		cfg.Listen = *listen
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := video.NewMetrics()
	defer metrics.Close()
	if err := metrics.Register(registry); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	memory, err := video.NewProcessMemory()
	if err != nil {
		log.Warnf("Resident memory sampling unavailable: %v", err)
	}

	pattern := source.NewPattern(cfg.CaptureID)
	notifier := &notify.Notifier{}
	opts := video.Options{
		Surface:  pattern,
		Listener: notifier,
		Metrics:  metrics,
	}
	if memory != nil {
		opts.Memory = memory
	}
	if cfg.AudioPass {
		opts.Audio = source.NewTone(cfg.Audio.SampleRate, cfg.Audio.Channels, *toneFreq)
	}

	session, err := video.NewSession(cfg, opts)
	if err != nil {
		log.Fatalf("Failed to create capture session: %v", err)
	}

	// Only the capture rate follows the file while recording.
	config.OnChange(func(old, new *config.Config) {
		if new.CaptureRate == old.CaptureRate {
			log.Infof("Configuration changed; changes apply to the next capture")
			return
		}
		if err := session.Genlock().SetRate(new.CaptureRate); err != nil {
			log.Errorf("Failed to change capture rate: %v", err)
			return
		}
		log.Infof("Capture rate changed to %v fps", new.CaptureRate)
	})

	var history *notify.History
	if cfg.HistoryDSN != "" {
		db, err := notify.Open(cfg.HistoryDSN)
		if err != nil {
			log.Fatalf("Failed to open history database: %v", err)
		}
		if history, err = notify.NewHistory(db); err != nil {
			log.Fatalf("Failed to migrate history database: %v", err)
		}
		notifier.Add(history)
	}

	if cfg.Listen != "" {
		mjpegServer := sink.NewMJPEGServer()
		preview := mjpegServer.NewStream("preview")
		defer preview.Close()
		if err := session.Register("preview", video.NewPreviewStream(pattern, preview)); err != nil {
			log.Fatalf("Failed to register preview: %v", err)
		}

		progress := serve.NewProgressUpdater()
		notifier.Add(progress)

		status := &serve.StatusServer{
			Session: session,
			Metrics: metrics,
			History: history,
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle("/mjpeg", mjpegServer)
		mux.Handle("/progress", progress)
		mux.Handle("/status", status)
		if cfg.FramesPass {
			fs, err := video.NewFilesystem(cfg.OutputDir, cfg.CaptureID, cfg.ImageFormat)
			if err != nil {
				log.Fatalf("Failed to open output directory: %v", err)
			}
			status.FS = fs
			mux.Handle("/frame", serve.NewFrameServer(fs))
			mux.Handle("/thumb", serve.NewThumbServer(fs))
		}
		mux.Handle("/debug/", http.DefaultServeMux)

		access := log.StandardLogger().WriterLevel(log.DebugLevel)
		defer access.Close()

		go func() {
			log.Infof("Hosting status server on %v", cfg.Listen)
			log.Println(http.ListenAndServe(cfg.Listen, handlers.LoggingHandler(access, mux)))
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if err := session.Start(); err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	stopped := make(chan error, 1)
	go func() { stopped <- session.Wait() }()

	stop := func() {
		err := session.Stop(func(s video.Stats) {
			fmt.Printf("Captured %d frames to %v in %v (%d dropped ticks, %d flushes)\n",
				s.Written, cfg.OutputDir, s.Duration.Round(time.Millisecond), s.Dropped, s.Flushes)
		})
		if err != nil {
			log.Warnf("Stop: %v", err)
		}
	}

	for {
		select {
		case sig := <-sigs:
			log.Infof("Caught signal %v, stopping capture", sig)
			stop()
		case <-timeout:
			log.Infof("Capture duration of %v reached", *duration)
			stop()
		case err := <-stopped:
			if err != nil {
				log.Fatalf("Capture failed: %v", err)
			}
			return
		}
	}
}
