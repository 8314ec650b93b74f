// Command tutord serves the tutoring turn producer: the streaming turn
// endpoint and the single-shot fallback speech endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/responder"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis"
	speakdeepgram "github.com/Hadskad/Bloom-Academia-sub003/core/synthesis/deepgram"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis/polly"
	listendeepgram "github.com/Hadskad/Bloom-Academia-sub003/core/transcribe/deepgram"
	"github.com/Hadskad/Bloom-Academia-sub003/core/turnserver"
	"github.com/Hadskad/Bloom-Academia-sub003/internal/config"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Telemetry.LogLevel),
	}))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	server, err := buildServer(cfg)
	if err != nil {
		logger.Error("failed to build turn server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("turn server listening", slog.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited with error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

func buildServer(cfg config.Config) (*turnserver.Server, error) {
	synthesizer, err := buildSynthesizer(cfg.Synthesis)
	if err != nil {
		return nil, err
	}

	opts := []turnserver.Option{
		turnserver.WithVoice(cfg.Synthesis.Voice),
		turnserver.WithSynthesisConcurrency(cfg.Synthesis.Concurrency),
	}

	if cfg.Transcribe.Enabled {
		transcriber, err := listendeepgram.NewClient(listendeepgram.WithModel(cfg.Transcribe.Model))
		if err != nil {
			return nil, fmt.Errorf("failed to build transcriber: %w", err)
		}
		opts = append(opts, turnserver.WithTranscriber(transcriber))
	}

	return turnserver.NewServer(defaultResponder(), synthesizer, opts...), nil
}

func buildSynthesizer(cfg config.SynthesisConfig) (synthesis.Synthesizer, error) {
	switch cfg.Mode {
	case "silence":
		return synthesis.Silence{}, nil
	case "deepgram":
		return speakdeepgram.NewClient(speakdeepgram.WithDefaultVoice(cfg.Voice))
	case "polly":
		return polly.NewClient(polly.Config{
			Region:  cfg.PollyRegion,
			VoiceID: cfg.Voice,
			Engine:  cfg.PollyEngine,
		}), nil
	default:
		return nil, fmt.Errorf("synthesis mode %q is not supported", cfg.Mode)
	}
}

func defaultResponder() responder.Responder {
	return responder.NewScripted(responder.WithRules(
		responder.Rule{
			Match: "2+2",
			Decision: responder.Decision{
				DisplayText: "Two plus two is four. Want to try three plus three?",
				ResponderID: "tutor.math",
				FinalReason: "subject match",
			},
		},
		responder.Rule{
			Match: "done",
			Decision: responder.Decision{
				DisplayText:  "Great work today. Let's check what stuck!",
				ResponderID:  "tutor.general",
				TurnComplete: true,
				FinalReason:  "lesson wrap-up",
			},
		},
	))
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
