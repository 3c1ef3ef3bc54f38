package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/pipeline"
	"github.com/zsiec/duoview/internal/render"
)

// source is where access units come from.
type source string

const (
	sourceSRT     source = "srt"
	sourceSRTPull source = "srt-pull"
	sourceRTP     source = "rtp"
	sourceFile    source = "file"
	sourcePattern source = "pattern"
)

// oneShot sources end the program when their stream ends.
func (s source) oneShot() bool { return s == sourceFile || s == sourcePattern }

type config struct {
	Layout       render.Layout
	Codec        media.Codec
	Width        int
	Height       int
	FPS          int
	Decoder      string
	Threads      int
	Mode         pipeline.Mode
	Ring         int
	Workers      int
	DebugOverlay bool
	Motion       bool
	SplitOffset  int

	Source      source
	SRTAddr     string
	SRTKey      string
	SRTPull     string
	SRTStreamID string
	RTPAddr     string
	TSFile      string
	KeyInterval int
	Frames      int

	Audio     bool
	Headless  bool
	GPU       bool
	Scale     int
	PixelSize int
}

func loadConfig() (config, error) {
	var c config
	var err error

	if c.Layout, err = render.ParseLayout(envOr("DUOVIEW_LAYOUT", "default")); err != nil {
		return c, err
	}
	if c.Codec, err = media.ParseCodec(envOr("DUOVIEW_CODEC", "h264")); err != nil {
		return c, err
	}
	if c.Mode, err = pipeline.ParseMode(envOr("DUOVIEW_MODE", "threaded")); err != nil {
		return c, err
	}

	ints := []struct {
		dst      *int
		key      string
		fallback int
	}{
		{&c.Width, "DUOVIEW_WIDTH", 400},
		{&c.Height, "DUOVIEW_HEIGHT", 240},
		{&c.FPS, "DUOVIEW_FPS", 60},
		{&c.Threads, "DUOVIEW_THREADS", 0},
		{&c.Ring, "DUOVIEW_RING", pipeline.DefaultRingCapacity},
		{&c.Workers, "DUOVIEW_WORKERS", 0},
		{&c.SplitOffset, "DUOVIEW_SPLIT_OFFSET", 0},
		{&c.KeyInterval, "DUOVIEW_KEY_INTERVAL", 60},
		{&c.Frames, "DUOVIEW_FRAMES", 0},
		{&c.Scale, "DUOVIEW_SCALE", 2},
		{&c.PixelSize, "DUOVIEW_PIXEL_SIZE", 2},
	}
	for _, i := range ints {
		if *i.dst, err = envInt(i.key, i.fallback); err != nil {
			return c, err
		}
	}

	bools := []struct {
		dst      *bool
		key      string
		fallback bool
	}{
		{&c.DebugOverlay, "DUOVIEW_DEBUG_OVERLAY", false},
		{&c.Motion, "DUOVIEW_MOTION", false},
		{&c.Audio, "DUOVIEW_AUDIO", true},
		{&c.Headless, "DUOVIEW_HEADLESS", false},
		{&c.GPU, "DUOVIEW_GPU", false},
	}
	for _, b := range bools {
		if *b.dst, err = envBool(b.key, b.fallback); err != nil {
			return c, err
		}
	}

	c.Decoder = envOr("DUOVIEW_DECODER", defaultDecoder)
	c.Source = source(strings.ToLower(envOr("DUOVIEW_SOURCE", string(sourceSRT))))
	c.SRTAddr = envOr("SRT_ADDR", ":6000")
	c.SRTKey = os.Getenv("SRT_KEY")
	c.SRTPull = os.Getenv("SRT_PULL")
	c.SRTStreamID = os.Getenv("SRT_STREAM_ID")
	c.RTPAddr = envOr("RTP_ADDR", ":5004")
	c.TSFile = os.Getenv("TS_FILE")

	return c, c.validate()
}

func (c config) validate() error {
	switch c.Source {
	case sourceSRT, sourcePattern:
	case sourceSRTPull:
		if c.SRTPull == "" {
			return fmt.Errorf("config: source %s needs SRT_PULL", c.Source)
		}
	case sourceFile:
		if c.TSFile == "" {
			return fmt.Errorf("config: source %s needs TS_FILE", c.Source)
		}
	case sourceRTP:
		if c.Codec != media.CodecH264 {
			return fmt.Errorf("config: rtp carries h264 only: %w", media.ErrUnsupportedCodec)
		}
	default:
		return fmt.Errorf("config: unknown DUOVIEW_SOURCE %q", c.Source)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: invalid size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("config: invalid fps %d", c.FPS)
	}
	return nil
}

// pipelineConfig is the stream setup for a stream of the given shape.
func (c config) pipelineConfig(codec media.Codec, width, height int, cs media.Colorspace, r media.ColorRange) pipeline.Config {
	return pipeline.Config{
		Codec:        codec,
		Width:        width,
		Height:       height,
		RedrawRate:   c.FPS,
		Layout:       c.Layout,
		Mode:         c.Mode,
		RingCapacity: c.Ring,
		SplitOffset:  c.SplitOffset,
		Colorspace:   cs,
		Range:        r,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
