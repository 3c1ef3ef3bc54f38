package tsfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zsiec/duoview/internal/decoder/reference"
	"github.com/zsiec/duoview/internal/ingest"
	"github.com/zsiec/duoview/internal/media"
	"github.com/zsiec/duoview/internal/mpegts"
	"github.com/zsiec/duoview/internal/pipeline"
)

// sps256x192 is a Main profile SPS from a real encoder.
var sps256x192 = []byte{
	0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
	0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
	0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
	0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
	0x3a, 0x8e, 0x18, 0xc9,
}

var (
	aud = []byte{0, 0, 0, 1, 0x09, 0xF0}
	pps = []byte{0, 0, 0, 1, 0x68, 0xCE, 0x38, 0x80}
)

func realParams() []byte {
	return append(append([]byte{0, 0, 0, 1}, sps256x192...), pps...)
}

type pesSpec struct {
	key  bool
	data []byte
	pts  int64
}

func writeTS(t *testing.T, streamType uint8, units []pesSpec) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := mpegts.NewWriter(&buf, mpegts.ElementaryStream{PID: mpegts.DefaultVideoPID, StreamType: streamType})
	for _, u := range units {
		if err := w.WritePES(mpegts.DefaultVideoPID, mpegts.StreamIDVideo, u.pts, u.key, u.data); err != nil {
			t.Fatal(err)
		}
	}
	return &buf
}

type recordingSink struct {
	units  []*media.AccessUnit
	status func(n int) (media.Status, error)
}

func (s *recordingSink) SubmitDecodeUnit(_ context.Context, au *media.AccessUnit) (media.Status, error) {
	s.units = append(s.units, au)
	if s.status != nil {
		return s.status(len(s.units))
	}
	return media.StatusOK, nil
}

func concat(au *media.AccessUnit) []byte {
	return bytes.Join(au.Entries, nil)
}

func TestFeedStartsAtKeyframe(t *testing.T) {
	t.Parallel()

	slice := func(key bool, n uint32) []byte { return reference.Slice(media.CodecH264, key, n, 0x40, false) }
	ts := writeTS(t, mpegts.StreamTypeH264, []pesSpec{
		{false, slice(false, 1), 0},
		{true, append(append(append([]byte{}, aud...), realParams()...), slice(true, 2)...), 3000},
		{false, slice(false, 3), 6000},
		{true, slice(true, 4), 9000},
	})

	var starts []ingest.StreamInfo
	sink := &recordingSink{}
	f := New(sink, ingest.FramerConfig{OnStart: func(i ingest.StreamInfo) error {
		starts = append(starts, i)
		return nil
	}}, nil)
	if err := f.Run(context.Background(), ts); err != nil {
		t.Fatal(err)
	}

	if len(sink.units) != 3 {
		t.Fatalf("got %d units, want 3", len(sink.units))
	}
	if len(starts) != 1 {
		t.Fatalf("OnStart called %d times, want 1", len(starts))
	}
	if s := starts[0]; s.Width != 256 || s.Height != 192 || !s.FromSPS || s.Codec != media.CodecH264 {
		t.Errorf("info: got %+v", s)
	}

	first := sink.units[0]
	if first.FrameType != media.FrameIDR || first.FrameNumber != 0 {
		t.Errorf("first unit: type %d number %d", first.FrameType, first.FrameNumber)
	}
	if bytes.Contains(concat(first), aud) {
		t.Error("access unit delimiter should be stripped")
	}
	if got := sink.units[1].FrameNumber; got != 1 {
		t.Errorf("second frame number: got %d, want 1", got)
	}
	last := concat(sink.units[2])
	if !bytes.HasPrefix(last, realParams()) {
		t.Error("cached parameter sets should precede a bare keyframe")
	}

	st := f.Stats()
	if st.Skipped != 1 || st.Keyframes != 2 || st.Submitted != 3 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestFeedFallbackSize(t *testing.T) {
	t.Parallel()

	for _, codec := range []media.Codec{media.CodecH264, media.CodecHEVC} {
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()
			typ := mpegts.StreamTypeH264
			if codec == media.CodecHEVC {
				typ = mpegts.StreamTypeH265
			}
			var units []pesSpec
			for i := 0; i < 3; i++ {
				units = append(units, pesSpec{key: i == 0, data: concat(reference.AccessUnit(codec, i, i == 0, uint32(i), 0x20)), pts: int64(i) * 1500})
			}

			var got ingest.StreamInfo
			sink := &recordingSink{}
			f := New(sink, ingest.FramerConfig{
				Fallback: ingest.StreamInfo{Width: 400, Height: 240},
				OnStart:  func(i ingest.StreamInfo) error { got = i; return nil },
			}, nil)
			if err := f.Run(context.Background(), writeTS(t, typ, units)); err != nil {
				t.Fatal(err)
			}
			if got.Width != 400 || got.Height != 240 || got.FromSPS || got.Codec != codec {
				t.Errorf("info: got %+v", got)
			}
			if len(sink.units) != 3 {
				t.Errorf("got %d units, want 3", len(sink.units))
			}
		})
	}
}

func TestFeedWithoutSizeFails(t *testing.T) {
	t.Parallel()

	ts := writeTS(t, mpegts.StreamTypeH264, []pesSpec{
		{true, concat(reference.AccessUnit(media.CodecH264, 0, true, 0, 0x20)), 0},
	})
	err := New(&recordingSink{}, ingest.FramerConfig{}, nil).Run(context.Background(), ts)
	if !errors.Is(err, ingest.ErrNoStreamInfo) {
		t.Fatalf("got %v, want ErrNoStreamInfo", err)
	}
}

func TestFeedSinkErrors(t *testing.T) {
	t.Parallel()

	var units []pesSpec
	for i := 0; i < 5; i++ {
		units = append(units, pesSpec{key: i == 0, data: concat(reference.AccessUnit(media.CodecH264, i, i == 0, uint32(i), 0x20))})
	}
	cfg := ingest.FramerConfig{Fallback: ingest.StreamInfo{Width: 16, Height: 8}}

	recoverable := &recordingSink{status: func(n int) (media.Status, error) {
		switch n {
		case 1:
			return media.StatusNeedIDR, nil
		case 2:
			return media.StatusOK, fmt.Errorf("decode: bad slice")
		}
		return media.StatusOK, nil
	}}
	f := New(recoverable, cfg, nil)
	if err := f.Run(context.Background(), writeTS(t, mpegts.StreamTypeH264, units)); err != nil {
		t.Fatal(err)
	}
	if st := f.Stats(); st.Errors != 1 || st.NeedIDR != 1 || st.Submitted != 4 {
		t.Errorf("stats: got %+v", st)
	}

	fatal := &recordingSink{status: func(n int) (media.Status, error) {
		if n == 2 {
			return media.StatusOK, fmt.Errorf("%w: converter stuck", pipeline.ErrStreamFatal)
		}
		return media.StatusOK, nil
	}}
	err := New(fatal, cfg, nil).Run(context.Background(), writeTS(t, mpegts.StreamTypeH264, units))
	if !errors.Is(err, pipeline.ErrStreamFatal) {
		t.Fatalf("got %v, want ErrStreamFatal", err)
	}
	if len(fatal.units) != 2 {
		t.Errorf("feed kept submitting after a fatal error: %d units", len(fatal.units))
	}
}

func TestFeedRestartsOnSizeChange(t *testing.T) {
	t.Parallel()

	// The first keyframe has no parsable SPS and runs at the fallback size;
	// the second brings a real one.
	units := []pesSpec{
		{true, concat(reference.AccessUnit(media.CodecH264, 0, true, 0, 0x20)), 0},
		{true, append(realParams(), reference.Slice(media.CodecH264, true, 1, 0x20, false)...), 1500},
		{true, append(realParams(), reference.Slice(media.CodecH264, true, 2, 0x20, false)...), 3000},
	}
	var starts []ingest.StreamInfo
	f := New(&recordingSink{}, ingest.FramerConfig{
		Fallback: ingest.StreamInfo{Width: 400, Height: 240},
		OnStart:  func(i ingest.StreamInfo) error { starts = append(starts, i); return nil },
	}, nil)
	if err := f.Run(context.Background(), writeTS(t, mpegts.StreamTypeH264, units)); err != nil {
		t.Fatal(err)
	}
	if len(starts) != 2 {
		t.Fatalf("OnStart called %d times, want 2", len(starts))
	}
	if starts[0].Width != 400 || starts[1].Width != 256 {
		t.Errorf("widths: got %d then %d, want 400 then 256", starts[0].Width, starts[1].Width)
	}
}

func TestFeedOnStartErrorStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("setup failed")
	ts := writeTS(t, mpegts.StreamTypeH264, []pesSpec{
		{true, append(realParams(), reference.Slice(media.CodecH264, true, 1, 0x20, false)...), 0},
	})
	sink := &recordingSink{}
	err := New(sink, ingest.FramerConfig{OnStart: func(ingest.StreamInfo) error { return boom }}, nil).Run(context.Background(), ts)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if len(sink.units) != 0 {
		t.Error("nothing should be submitted after OnStart fails")
	}
}

func TestFeedPacesByPTS(t *testing.T) {
	t.Parallel()

	var units []pesSpec
	for i := 0; i < 3; i++ {
		units = append(units, pesSpec{
			key:  i == 0,
			data: concat(reference.AccessUnit(media.CodecH264, i, i == 0, uint32(i), 0x20)),
			pts:  90000 + int64(i)*mpegts.Ticks(40*time.Millisecond),
		})
	}
	f := New(&recordingSink{}, ingest.FramerConfig{Pace: true, Fallback: ingest.StreamInfo{Width: 16, Height: 8}}, nil)

	start := time.Now()
	if err := f.Run(context.Background(), writeTS(t, mpegts.StreamTypeH264, units)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("got %v, want at least 70ms of pacing", elapsed)
	}
}
