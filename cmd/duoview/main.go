package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/duoview/internal/audio"
	"github.com/zsiec/duoview/internal/colorconv"
	"github.com/zsiec/duoview/internal/decoder"
	"github.com/zsiec/duoview/internal/decoder/reference"
	"github.com/zsiec/duoview/internal/display"
	"github.com/zsiec/duoview/internal/pipeline"
	"github.com/zsiec/duoview/internal/session"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	state := session.NewState(nil)
	state.Debug().Store(cfg.DebugOverlay)

	host, err := display.Open(display.Config{
		PixelSize: cfg.PixelSize,
		Scale:     cfg.Scale,
		Headless:  cfg.Headless,
		UseGPU:    cfg.GPU,
		Debug:     state.Debug(),
	})
	if err != nil {
		slog.Error("failed to open display", "error", err)
		os.Exit(1)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		slog.Error("failed to create decoder", "decoder", cfg.Decoder, "error", err)
		os.Exit(1)
	}

	var conv colorconv.Converter
	if cfg.Workers > 0 {
		conv = colorconv.NewBatch(colorconv.WithWorkers(cfg.Workers))
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Backend:   backend,
		Converter: conv,
		Display:   host,
		GPU:       host.GPU(),
		VSync:     host.VSync(),
		Session:   state,
	}, nil)
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	a := &app{
		cfg:   cfg,
		log:   slog.Default(),
		pipe:  pipe,
		host:  host,
		conn:  session.NewListener(state, os.Stdout, nil),
		audio: newAudio(cfg),
	}
	a.conn.SetMotionEventState(cfg.Motion)
	if cfg.Source.oneShot() {
		a.conn.OnTerminated(func(int) { cancel() })
	}

	slog.Info("duoview starting",
		"version", version,
		"source", string(cfg.Source),
		"layout", cfg.Layout.String(),
		"decoder", backend.Name(),
		"mode", cfg.Mode.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runSource(gctx)
	})
	g.Go(func() error {
		a.reportStatus(gctx)
		return nil
	})

	// Desktop windows need the main goroutine.
	runErr := host.Run(gctx)
	cancel()
	waitErr := g.Wait()
	a.shutdown()

	if err := errors.Join(runErr, waitErr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func newBackend(cfg config) (decoder.Backend, error) {
	switch cfg.Decoder {
	case "reference":
		return reference.New(), nil
	case "ffmpeg":
		return newFFmpeg(cfg.Threads)
	}
	return nil, fmt.Errorf("unknown decoder %q", cfg.Decoder)
}

func newAudio(cfg config) *audio.Renderer {
	if !cfg.Audio {
		return nil
	}
	if opusDecoder == nil {
		slog.Warn("audio disabled, built without the opus tag")
		return nil
	}
	r := audio.NewRenderer(opusDecoder, audio.NewSink(), nil)
	if err := r.Init(audio.StereoConfig()); err != nil {
		slog.Warn("audio disabled", "error", err)
		return nil
	}
	return r
}
