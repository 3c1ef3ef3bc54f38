package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/duoview/internal/decoder/reference"
	"github.com/zsiec/duoview/internal/media"
)

type countingSink struct{ units []*media.AccessUnit }

func (s *countingSink) SubmitDecodeUnit(_ context.Context, au *media.AccessUnit) (media.Status, error) {
	s.units = append(s.units, au)
	return media.StatusOK, nil
}

// idrSink asks for a keyframe after the first unit, once.
type idrSink struct{ n int }

func (s *idrSink) SubmitDecodeUnit(context.Context, *media.AccessUnit) (media.Status, error) {
	s.n++
	if s.n == 1 {
		return media.StatusNeedIDR, nil
	}
	return media.StatusOK, nil
}

func TestFramerReportsNeedIDR(t *testing.T) {
	t.Parallel()

	var frames []int
	f := NewFramer(&idrSink{}, media.CodecH264, FramerConfig{
		Fallback:  StreamInfo{Width: 16, Height: 8},
		OnNeedIDR: func(frame int) { frames = append(frames, frame) },
	}, nil)

	key := append(reference.ParamSets(media.CodecH264), reference.Slice(media.CodecH264, true, 1, 0x10, false)...)
	for i, data := range [][]byte{key, reference.Slice(media.CodecH264, false, 2, 0x10, false), reference.Slice(media.CodecH264, false, 3, 0x10, false)} {
		if err := f.Frame(context.Background(), data, 0, false); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	if len(frames) != 1 {
		t.Fatalf("got %d IDR requests, want 1", len(frames))
	}
	if got := f.Stats().NeedIDR; got != 1 {
		t.Errorf("got NeedIDR %d, want 1", got)
	}
}

func TestFramerResyncWaitsForKeyframe(t *testing.T) {
	t.Parallel()

	sink := &countingSink{}
	f := NewFramer(sink, media.CodecH264, FramerConfig{Fallback: StreamInfo{Width: 16, Height: 8}}, nil)
	ctx := context.Background()

	key := append(reference.ParamSets(media.CodecH264), reference.Slice(media.CodecH264, true, 1, 0x10, false)...)
	delta := func(n uint32) []byte { return reference.Slice(media.CodecH264, false, n, 0x10, false) }

	steps := []struct {
		data   []byte
		resync bool
	}{
		{data: key},
		{data: delta(2)},
		{data: delta(3), resync: true},
		{data: delta(4)},
		{data: reference.Slice(media.CodecH264, true, 5, 0x10, false)},
	}
	for i, s := range steps {
		if s.resync {
			f.Resync()
		}
		if err := f.Frame(ctx, s.data, 0, false); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if got, want := len(sink.units), 3; got != want {
		t.Fatalf("got %d units, want %d", got, want)
	}
	st := f.Stats()
	if st.Skipped != 2 {
		t.Errorf("got %d skipped, want 2", st.Skipped)
	}
	// Resync dropped the cached parameter sets, so the last keyframe goes
	// out bare.
	if got := len(sink.units[2].Entries); got != 1 {
		t.Errorf("got %d entries after resync, want 1", got)
	}
	if sink.units[2].FrameType != media.FrameIDR {
		t.Error("keyframe after resync not marked IDR")
	}
}

func TestFramerDropsEmptyUnits(t *testing.T) {
	t.Parallel()

	sink := &countingSink{}
	f := NewFramer(sink, media.CodecH264, FramerConfig{}, nil)
	filler := []byte{0, 0, 0, 1, 0x0C, 0xFF, 0xFF, 0, 0, 0, 1, 0x09, 0xF0}
	if err := f.Frame(context.Background(), filler, 0, false); err != nil {
		t.Fatal(err)
	}
	if len(sink.units) != 0 {
		t.Fatalf("got %d units, want 0", len(sink.units))
	}
	if st := f.Stats(); st.Units != 1 || st.Skipped != 0 {
		t.Errorf("got %+v", st)
	}
}

func TestPacerRebasesOnJump(t *testing.T) {
	t.Parallel()

	var p pacer
	ctx := context.Background()
	if err := p.wait(ctx, 1000); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	// Backwards and far-future steps restart the clock instead of sleeping.
	for _, ts := range []int64{500, 500 + int64(time.Minute/time.Second)*ClockRate} {
		if err := p.wait(ctx, ts); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("waited %v across a timestamp jump", elapsed)
	}
}

func TestPacerHonorsContext(t *testing.T) {
	t.Parallel()

	var p pacer
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.wait(ctx, 0); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := p.wait(ctx, 2*ClockRate); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
