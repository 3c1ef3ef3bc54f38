// srt-push publishes MPEG-TS to an SRT listener in real time: a generated
// stream file, every stream in the manifest, or a live test pattern.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/ingest/pattern"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/mpegts"
)

type streamManifestEntry struct {
	Number      int     `json:"number"`
	Key         string  `json:"key"`
	DurationSec float64 `json:"durationSec"`
}

type manifest struct {
	Streams []streamManifestEntry `json:"streams"`
}

func main() {
	allFlag := flag.Bool("all", false, "Push every generated stream simultaneously")
	fileFlag := flag.String("file", "", "Single TS file to push")
	keyFlag := flag.String("key", "", "Stream key (default: filename without extension)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	durationFlag := flag.Float64("duration", 0, "Known duration in seconds (skips PTS scan)")
	patternFlag := flag.Bool("pattern", false, "Push a live test pattern instead of a file")
	codecFlag := flag.String("codec", "h264", "Pattern codec")
	fpsFlag := flag.Int("fps", pattern.DefaultFPS, "Pattern frame rate")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *allFlag {
		pushAll(ctx, *addrFlag, *durationFlag)
		return
	}

	if *patternFlag {
		codec, err := media.ParseCodec(*codecFlag)
		if err != nil {
			fatal("%v", err)
		}
		streamID := *keyFlag
		if streamID == "" {
			streamID = "live/pattern"
		}
		pushPattern(ctx, codec, *fpsFlag, streamID, *addrFlag)
		return
	}

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  srt-push --all                          Push all generated streams\n")
		fmt.Fprintf(os.Stderr, "  srt-push --file stream.ts --key mykey   Push a single stream\n")
		fmt.Fprintf(os.Stderr, "  srt-push --pattern --codec h265         Push a live test pattern\n")
		os.Exit(1)
	}

	streamID := *keyFlag
	if streamID == "" {
		base := filepath.Base(filePath)
		streamID = "live/" + base[:len(base)-len(filepath.Ext(base))]
	}
	pushSingle(ctx, filePath, streamID, *addrFlag, *durationFlag, 0)
}

func pushAll(ctx context.Context, addr string, durationOverride float64) {
	streamsDir := findStreamsDir()
	data, err := os.ReadFile(filepath.Join(streamsDir, "manifest.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read manifest: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'go run ./test/tools/gen-streams' first.\n")
		os.Exit(1)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		fatal("invalid manifest: %v", err)
	}
	if len(m.Streams) == 0 {
		fatal("no streams in manifest")
	}

	fmt.Printf("Pushing %d streams to %s\n", len(m.Streams), addr)
	var wg sync.WaitGroup
	for _, s := range m.Streams {
		tsFile := filepath.Join(streamsDir, fmt.Sprintf("stream_%d.ts", s.Number))
		if _, err := os.Stat(tsFile); err != nil {
			fmt.Printf("  Skipping stream %d (%s): file not found\n", s.Number, s.Key)
			continue
		}
		wg.Add(1)
		go func(file, key string, num int, manifestDur float64) {
			defer wg.Done()
			fmt.Printf("  Stream %d: %s -> live/%s\n", num, key, key)
			pushSingle(ctx, file, "live/"+key, addr, durationOverride, manifestDur)
		}(tsFile, s.Key, s.Number, s.DurationSec)
		time.Sleep(200 * time.Millisecond)
	}
	wg.Wait()
}

func pushSingle(ctx context.Context, filePath, streamID, addr string, durationOverride, manifestDur float64) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		return
	}
	if len(data)%mpegts.PacketSize != 0 {
		fmt.Fprintf(os.Stderr, "Warning: file size not a multiple of %d\n", mpegts.PacketSize)
	}

	var measured float64
	if durationOverride <= 0 && manifestDur <= 0 {
		measured = ptsDuration(data)
	}
	duration := selectDuration(durationOverride, manifestDur, measured)
	bytesPerSec := float64(len(data)) / duration
	chunkSize := mpegts.PacketSize * 7

	fmt.Printf("File: %s (%d packets, %.1fs, %.0f bytes/sec)\n",
		filePath, len(data)/mpegts.PacketSize, duration, bytesPerSec)

	retry(ctx, streamID, addr, func(conn *srt.Conn) error {
		return streamLoop(ctx, conn, data, bytesPerSec, chunkSize, streamID)
	})
}

func pushPattern(ctx context.Context, codec media.Codec, fps int, streamID, addr string) {
	retry(ctx, streamID, addr, func(conn *srt.Conn) error {
		g := pattern.New(pattern.Config{Codec: codec, FPS: fps})
		return g.WriteTS(ctx, conn, true)
	})
}

// retry dials addr and runs send until ctx ends, reconnecting after errors.
func retry(ctx context.Context, streamID, addr string, send func(*srt.Conn) error) {
	for ctx.Err() == nil {
		fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID
		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			sleep(ctx, time.Second)
			continue
		}

		fmt.Printf("[%s] Connected, streaming continuously\n", streamID)
		err = send(conn)
		conn.Close()
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, err)
			sleep(ctx, time.Second)
		}
	}
}

func streamLoop(ctx context.Context, w io.Writer, data []byte, bytesPerSec float64, chunkSize int, streamID string) error {
	globalStart := time.Now()
	var totalBytesSent int64
	lastLog := time.Now()
	const logInterval = 10 * time.Second

	for loop := 1; ctx.Err() == nil; loop++ {
		if loop > 1 {
			fmt.Printf("[%s] Loop %d complete (total sent: %.1f MB, elapsed: %s)\n",
				streamID, loop-1, float64(totalBytesSent)/(1024*1024),
				time.Since(globalStart).Truncate(time.Second))
		}
		for i := 0; i < len(data); i += chunkSize {
			end := min(i+chunkSize, len(data))
			if _, err := w.Write(data[i:end]); err != nil {
				return err
			}
			totalBytesSent += int64(end - i)

			// Pace against the global clock so timing is continuous across
			// loop boundaries.
			expected := time.Duration(float64(totalBytesSent) / bytesPerSec * float64(time.Second))
			if ahead := expected - time.Since(globalStart); ahead > 0 {
				if !sleep(ctx, ahead) {
					return nil
				}
			}

			if time.Since(lastLog) >= logInterval {
				rate := float64(totalBytesSent) / time.Since(globalStart).Seconds()
				fmt.Printf("[%s] loop=%d offset=%.1f%% rate=%.0f B/s (target=%.0f)\n",
					streamID, loop, float64(i)/float64(len(data))*100, rate, bytesPerSec)
				lastLog = time.Now()
			}
		}
	}
	return nil
}

// selectDuration picks the first positive of the override, the manifest
// duration and the measured one, falling back to 60s.
func selectDuration(override, manifestDur, measured float64) float64 {
	for _, d := range []float64{override, manifestDur, measured} {
		if d > 0 {
			return d
		}
	}
	return 60
}

// ptsDuration is the span of video PTS in data plus one frame interval
// estimated from the first two timestamps.
func ptsDuration(data []byte) float64 {
	rd := mpegts.NewReader(bytes.NewReader(data))
	var first, last, step int64 = -1, -1, 0
	for {
		u, err := rd.Next(context.Background())
		if err != nil {
			break
		}
		if u.PES == nil || !u.PES.HasPTS || u.PES.StreamID != mpegts.StreamIDVideo {
			continue
		}
		switch {
		case first < 0:
			first = u.PES.PTS
		case step == 0:
			step = u.PES.PTS - first
		}
		last = u.PES.PTS
	}
	if first < 0 || last <= first {
		return 0
	}
	return float64(last-first+step) / ingest.ClockRate
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func findStreamsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "test", "streams")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join("test", "streams")
		}
		dir = parent
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
