// Package rtpfeed receives H.264 video and Opus audio over RTP/UDP. Video
// packets are reordered, depacketized to Annex-B and cut into pictures on the
// marker bit; audio packets go straight to an audio renderer.
package rtpfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/media"
)

// Defaults for dynamic payload types and the reorder window.
const (
	DefaultVideoPayloadType = 96
	DefaultAudioPayloadType = 111
	DefaultReorderWindow    = 32
)

// maxDatagram covers any UDP payload.
const maxDatagram = 1 << 16

// AudioSink plays one Opus packet. *audio.Renderer implements it.
type AudioSink interface {
	DecodeAndPlay(packet []byte) error
}

// Config controls a Receiver.
type Config struct {
	VideoPayloadType uint8
	AudioPayloadType uint8
	// ReorderWindow is how many out-of-order video packets are held before
	// the missing ones are given up.
	ReorderWindow int
	Framer        ingest.FramerConfig
}

func (c *Config) withDefaults() {
	if c.VideoPayloadType == 0 {
		c.VideoPayloadType = DefaultVideoPayloadType
	}
	if c.AudioPayloadType == 0 {
		c.AudioPayloadType = DefaultAudioPayloadType
	}
	if c.ReorderWindow <= 0 {
		c.ReorderWindow = DefaultReorderWindow
	}
}

// Stats are cumulative Receiver counters.
type Stats struct {
	ingest.FramerStats
	Packets     int64
	Invalid     int64
	Lost        int64
	Late        int64
	Damaged     int64
	Audio       int64
	AudioErrors int64
}

// Receiver assembles RTP into access units for a Sink. Handle is not safe
// for concurrent use; Serve calls it from a single goroutine.
type Receiver struct {
	log    *slog.Logger
	cfg    Config
	framer *ingest.Framer
	audio  AudioSink

	reorder *reorderBuffer
	depack  codecs.H264Packet
	frame   []byte
	frameTS uint32
	open    bool
	damaged bool
	gap     bool

	packets     atomic.Int64
	invalid     atomic.Int64
	lost        atomic.Int64
	late        atomic.Int64
	damagedN    atomic.Int64
	audioN      atomic.Int64
	audioErrors atomic.Int64
}

// New returns a Receiver. audio may be nil to discard audio packets. If log
// is nil, slog.Default() is used.
func New(sink ingest.Sink, audio AudioSink, cfg Config, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	cfg.withDefaults()
	log = log.With("component", "rtpfeed")
	return &Receiver{
		log:     log,
		cfg:     cfg,
		framer:  ingest.NewFramer(sink, media.CodecH264, cfg.Framer, log),
		audio:   audio,
		reorder: newReorderBuffer(cfg.ReorderWindow),
	}
}

// Listen opens a UDP socket on addr and serves it until ctx is done.
func (r *Receiver) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("rtpfeed: listen %s: %w", addr, err)
	}
	r.log.Info("listening", "addr", conn.LocalAddr().String())
	return r.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx is done or the sink fails
// fatally. conn is closed on return.
func (r *Receiver) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rtpfeed: read: %w", err)
		}
		if err := r.Handle(ctx, buf[:n]); err != nil {
			return err
		}
	}
}

// Handle processes one datagram. Malformed packets are counted and dropped;
// only errors that end the stream are returned.
func (r *Receiver) Handle(ctx context.Context, datagram []byte) error {
	r.packets.Add(1)
	// The read buffer is reused, so the packet must own its bytes.
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(append([]byte(nil), datagram...)); err != nil {
		r.invalid.Add(1)
		return nil
	}

	switch pkt.PayloadType {
	case r.cfg.AudioPayloadType:
		r.playAudio(pkt)
		return nil
	case r.cfg.VideoPayloadType:
	default:
		r.invalid.Add(1)
		return nil
	}

	ready, lost, dropped := r.reorder.push(pkt)
	if dropped {
		r.late.Add(1)
		return nil
	}
	if lost > 0 {
		r.lost.Add(int64(lost))
		r.log.Debug("video packets lost", "count", lost)
		r.markDamaged()
		r.gap = true
	}
	for _, p := range ready {
		if err := r.video(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Receiver) video(ctx context.Context, p *rtp.Packet) error {
	gap := r.gap
	r.gap = false
	// A new timestamp without a marker means the previous picture's last
	// packet never arrived.
	if r.open && p.Timestamp != r.frameTS {
		r.markDamaged()
		if err := r.flush(ctx); err != nil {
			return err
		}
		// The missing packets may have opened this picture too.
		r.damaged = gap
	}
	r.open, r.frameTS = true, p.Timestamp

	out, err := r.depack.Unmarshal(p.Payload)
	if err != nil {
		r.invalid.Add(1)
		r.markDamaged()
	} else {
		r.frame = append(r.frame, out...)
	}
	if p.Marker {
		return r.flush(ctx)
	}
	return nil
}

// markDamaged discards the picture in progress and any fragment the
// depacketizer is holding.
func (r *Receiver) markDamaged() {
	r.damaged = true
	r.depack = codecs.H264Packet{}
}

func (r *Receiver) flush(ctx context.Context) error {
	frame, ts, damaged := r.frame, r.frameTS, r.damaged
	r.frame, r.open, r.damaged = r.frame[:0], false, false
	if damaged {
		r.damagedN.Add(1)
		r.framer.Resync()
		return nil
	}
	if len(frame) == 0 {
		return nil
	}
	return r.framer.Frame(ctx, frame, int64(ts), false)
}

func (r *Receiver) playAudio(p *rtp.Packet) {
	r.audioN.Add(1)
	if r.audio == nil {
		return
	}
	var op codecs.OpusPacket
	payload, err := op.Unmarshal(p.Payload)
	if err == nil {
		err = r.audio.DecodeAndPlay(payload)
	}
	if err != nil {
		r.audioErrors.Add(1)
		r.log.Debug("audio packet dropped", "seq", p.SequenceNumber, "error", err)
	}
}

// Stats returns a snapshot of the Receiver's counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		FramerStats: r.framer.Stats(),
		Packets:     r.packets.Load(),
		Invalid:     r.invalid.Load(),
		Lost:        r.lost.Load(),
		Late:        r.late.Load(),
		Damaged:     r.damagedN.Load(),
		Audio:       r.audioN.Load(),
		AudioErrors: r.audioErrors.Load(),
	}
}
