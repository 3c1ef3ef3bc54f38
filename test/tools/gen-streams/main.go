// gen-streams writes the synthetic test-pattern streams used by srt-push
// and the file source into test/streams, with a manifest describing them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/duoview/internal/ingest/pattern"
	"github.com/zsiec/duoview/internal/media"
)

// StreamConfig describes one generated stream.
type StreamConfig struct {
	Number      int     `json:"number"`
	Key         string  `json:"key"`
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         int     `json:"fps"`
	KeyInterval int     `json:"keyInterval"`
	DurationSec float64 `json:"durationSec"`
	Description string  `json:"description"`
}

type Manifest struct {
	Generated string         `json:"generated"`
	Streams   []StreamConfig `json:"streams"`
}

var streams = []StreamConfig{
	{Number: 1, Key: "top_h264", Codec: "h264", Width: 400, Height: 240, FPS: 60, KeyInterval: 60, DurationSec: 30},
	{Number: 2, Key: "wide_h264", Codec: "h264", Width: 800, Height: 240, FPS: 60, KeyInterval: 120, DurationSec: 30},
	{Number: 3, Key: "dual_h264", Codec: "h264", Width: 400, Height: 480, FPS: 30, KeyInterval: 30, DurationSec: 30},
	{Number: 4, Key: "top_hevc", Codec: "h265", Width: 400, Height: 240, FPS: 60, KeyInterval: 60, DurationSec: 30},
	{Number: 5, Key: "bottom_hevc", Codec: "h265", Width: 320, Height: 240, FPS: 30, KeyInterval: 90, DurationSec: 30},
}

func main() {
	force := flag.Bool("force", false, "Regenerate streams that already exist")
	flag.Parse()

	streamsDir := filepath.Join(findProjectRoot(), "test", "streams")
	if err := os.MkdirAll(streamsDir, 0o755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Println("=== duoview Stream Generator ===")
	fmt.Printf("Generating %d pattern streams\n\n", len(streams))

	for i := range streams {
		sc := &streams[i]
		sc.Description = fmt.Sprintf("%s %dx%d@%d, keyframe every %d frames [%.0fs]",
			sc.Codec, sc.Width, sc.Height, sc.FPS, sc.KeyInterval, sc.DurationSec)

		outFile := filepath.Join(streamsDir, fmt.Sprintf("stream_%d.ts", sc.Number))
		if !*force && fileExists(outFile) {
			fmt.Printf("  Stream %d (%s): exists, skipping\n", sc.Number, sc.Key)
			continue
		}
		if err := generate(*sc, outFile); err != nil {
			fatal("stream %d: %v", sc.Number, err)
		}
		if info, err := os.Stat(outFile); err == nil {
			fmt.Printf("  Stream %d (%s): %s (%.1f MB)\n", sc.Number, sc.Key, outFile, float64(info.Size())/1024/1024)
		}
	}

	manifestFile := filepath.Join(streamsDir, "manifest.json")
	if err := writeManifest(manifestFile); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Printf("\n=== Done! %d streams in %s ===\n", len(streams), streamsDir)
}

func generate(sc StreamConfig, path string) error {
	codec, err := media.ParseCodec(sc.Codec)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	g := pattern.New(pattern.Config{
		Codec:       codec,
		FPS:         sc.FPS,
		KeyInterval: sc.KeyInterval,
		Frames:      int(sc.DurationSec * float64(sc.FPS)),
	})
	return errors.Join(g.WriteTS(context.Background(), f, false), f.Close())
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func writeManifest(path string) error {
	m := Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Streams:   streams,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Manifest written to %s\n", path)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
