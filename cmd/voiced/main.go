package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/internal/core/services"
	httphandlers "voicelink/internal/handlers/http"
	"voicelink/internal/infrastructure/devices"
	"voicelink/internal/infrastructure/monitoring"
	repositories "voicelink/internal/infrastructure/repositories"
	signalbus "voicelink/internal/infrastructure/signal"
	"voicelink/internal/infrastructure/suppression"
	webrtcinfra "voicelink/internal/infrastructure/webrtc"
	"voicelink/pkg/config"
	"voicelink/pkg/logger"
	"voicelink/pkg/retry"
	"voicelink/pkg/tracing"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voicelink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	var metrics services.EngineMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	transport, err := webrtcinfra.NewTransport(webrtcinfra.TransportConfigFrom(cfg), log)
	if err != nil {
		log.Fatalw("failed to create media transport", "error", err)
	}

	bus := signalbus.NewBusClient(signalbus.BusConfigFrom(cfg), log)

	engine := services.NewEngine(services.Options{
		Bus:         bus,
		Transport:   transport,
		Devices:     devices.NewProvider(log),
		Suppressor:  suppression.NewGate(log),
		Preferences: repoFactory.CreatePreferenceRepository(),
		Metrics:     metrics,
		Session: services.SessionConfig{
			ConnectTimeout: cfg.Session.ConnectTimeout,
			MaxRetries:     cfg.Session.MaxRetries,
			Backoff: retry.Config{
				Enabled:      true,
				MaxAttempts:  cfg.Session.MaxRetries,
				InitialDelay: cfg.Session.RetryBackoff,
				Multiplier:   2.0,
			},
		},
		Quality: services.QualityConfig{
			SampleInterval:  cfg.Quality.SampleInterval,
			StepUpHold:      cfg.Quality.StepUpHold,
			BadSampleCount:  cfg.Quality.BadSampleCount,
			WarningCapacity: cfg.Quality.WarningCapacity,
		},
		Hotplug: services.DevicesConfig{
			PollInterval:   cfg.Devices.PollInterval,
			NotifyThrottle: cfg.Devices.NotifyThrottle,
		},
		Media: services.MediaConfig{
			Detection: domain.DetectionConfig{
				Mode:        domain.DetectionMode(cfg.Media.DetectionMode),
				Sensitivity: cfg.Media.Sensitivity,
				Cooldown:    cfg.Media.Cooldown,
				HoldTime:    cfg.Media.HoldTime,
				PushToTalk: domain.KeyCombo{
					Key:       cfg.Media.PushToTalkKey,
					Modifiers: cfg.Media.PushToTalkMods,
				},
			},
			Suppression: ports.SuppressionConfig{
				Method:    cfg.Media.Suppression,
				Intensity: cfg.Media.SuppressionGain,
			},
		},
		Logger: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Signaling.DialTimeout)
	if err := bus.Connect(dialCtx); err != nil {
		dialCancel()
		log.Fatalw("failed to connect signaling bus", "error", err, "url", cfg.Signaling.URL)
	}
	dialCancel()

	engine.Start(ctx)

	health := monitoring.NewHealthChecker(2 * time.Second)
	health.AddCheck("repositories", repoFactory.HealthCheck)

	handler := httphandlers.NewEngineHandler(engine, log)
	router := httphandlers.NewRouter(cfg, handler, health, log)

	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting control api", "address", cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("control api failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := engine.Close(); err != nil {
		log.Errorw("error closing engine", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}

	log.Info("voicelink stopped")
}
