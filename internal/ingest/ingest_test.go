package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	s, w, err := r.Register("game", SourceSRT)
	if err != nil {
		t.Fatal(err)
	}
	if s.Key != "game" || s.Source != SourceSRT {
		t.Fatalf("got %q/%s, want game/srt", s.Key, s.Source)
	}
	if w == nil {
		t.Fatal("writer is nil")
	}
	got, ok := r.Get("game")
	if !ok || got != s {
		t.Fatal("Get did not return the registered stream")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get found a missing stream")
	}
}

func TestRegistryRefusesDuplicateAndOverLimit(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, WithLimit(1))
	if _, _, err := r.Register("a", SourceSRT); err != nil {
		t.Fatal(err)
	}
	if !r.Full() {
		t.Error("registry should be full")
	}
	if _, _, err := r.Register("a", SourceSRT); !errors.Is(err, ErrDuplicate) {
		t.Errorf("got %v, want ErrDuplicate", err)
	}
	if _, _, err := r.Register("b", SourceSRT); !errors.Is(err, ErrBusy) {
		t.Errorf("got %v, want ErrBusy", err)
	}

	r.Unregister("a")
	if _, _, err := r.Register("b", SourceSRT); err != nil {
		t.Errorf("after unregister: %v", err)
	}
	if got := r.Len(); got != 1 {
		t.Errorf("got %d streams, want 1", got)
	}
}

func TestUnregisterEndsReader(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	s, _, err := r.Register("s", SourceFile)
	if err != nil {
		t.Fatal(err)
	}
	r.Unregister("s")
	r.Unregister("s")

	if _, err := s.Reader().Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestAbortFailsWriter(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	s, w, err := r.Register("s", SourceSRT)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("decoder gone")
	s.Abort(boom)
	if _, err := w.Write([]byte{1}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestCopyDeliversAndUnregisters(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("x", 3*ReadBufferSize+5)
	got := make(chan string, 1)
	r := NewRegistry(func(s *Stream) {
		b, _ := io.ReadAll(s.Reader())
		got <- string(b)
	})

	stats, err := r.Copy(context.Background(), "file", SourceFile, "local", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if stats.BytesReceived != int64(len(payload)) {
		t.Errorf("bytes: got %d, want %d", stats.BytesReceived, len(payload))
	}
	if stats.RemoteAddr != "local" {
		t.Errorf("remote: got %q, want %q", stats.RemoteAddr, "local")
	}

	select {
	case b := <-got:
		if b != payload {
			t.Errorf("reader got %d bytes, want %d", len(b), len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onStream reader did not finish")
	}
	if r.Len() != 0 {
		t.Error("stream still registered after Copy")
	}
}

func TestCopyStopsWhenReaderAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("stop")
	r := NewRegistry(func(s *Stream) { s.Abort(boom) })

	src := io.MultiReader(bytes.NewReader(make([]byte, 10)), neverEnding{})
	_, err := r.Copy(context.Background(), "s", SourceSRT, "", src)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

type neverEnding struct{}

func (neverEnding) Read(p []byte) (int, error) { return len(p), nil }

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			r.Register(key, SourceSRT)
			r.Get(key)
			r.Unregister(key)
		}(i)
	}
	wg.Wait()
}
