package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-intake/internal/address"
	"github.com/lexiqai/voice-intake/internal/appointments"
	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/email"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/lexiqai/voice-intake/internal/realtime"
	"github.com/lexiqai/voice-intake/internal/resilience"
	"github.com/lexiqai/voice-intake/internal/telephony"
	"github.com/lexiqai/voice-intake/internal/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("realtime_model", cfg.RealtimeModel).
		Str("turn_detection", cfg.TurnDetection).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Intake Service starting")

	breaker := resilience.NewCircuitBreaker(
		"realtime",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	realtimeClient := realtime.NewClient(cfg, breaker)
	addressClient := address.NewGeoapifyClient(cfg)
	notifier := email.NewNotifier(cfg)

	dispatcher := tools.NewDispatcher(
		addressClient,
		appointments.NewDefaultCatalog(),
		notifier,
		cfg.ToolTimeoutDuration(),
	)

	tracker := telephony.NewTracker()
	bridge := telephony.NewBridge(
		cfg,
		telephony.RealtimeDialer(realtimeClient),
		dispatcher,
		tools.Definitions(),
		tracker,
	)

	// Create HTTP server
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Voice intake bridge is running"}`))
	})

	// Twilio voice webhook and media stream
	mux.HandleFunc("/incoming-call", telephony.HandleIncomingCall(cfg))
	mux.HandleFunc(telephony.MediaStreamPath, bridge.HandleMediaStream())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"realtime": realtimeClient.Check,
		"address":  addressClient.Check,
		"email":    notifier.Check,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, telephony.MediaStreamPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("active_calls", tracker.Count()).Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked media streams are not tracked by Shutdown, so end them here.
	tracker.CancelAll()
	if !tracker.Wait(ctx) {
		logger.Warn().Int("active_calls", tracker.Count()).Msg("Calls still active at shutdown deadline")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
