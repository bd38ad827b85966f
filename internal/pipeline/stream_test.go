package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedStream struct {
	frames []string
	err    error
}

func (s *scriptedStream) Send(context.Context, []byte) error { return nil }
func (s *scriptedStream) Close() error                       { return nil }

func (s *scriptedStream) ReadLoop(ctx context.Context, deliver func([]byte)) error {
	for _, f := range s.frames {
		deliver([]byte(f))
	}
	return s.err
}

func TestPumpForwardsFramesThenDone(t *testing.T) {
	t.Parallel()

	eof := errors.New("eof")
	s := &scriptedStream{frames: []string{`{"type":"status"}`, `{"type":"error"}`}, err: eof}
	out := make(chan Frame, 4)
	Pump(context.Background(), s, out)
	close(out)

	var got []Frame
	for f := range out {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if string(got[0].Data) != `{"type":"status"}` || got[0].Src != s || got[0].Done {
		t.Fatalf("unexpected first frame: %+v", got[0])
	}
	if !got[2].Done || !errors.Is(got[2].Err, eof) || got[2].Src != s {
		t.Fatalf("unexpected final frame: %+v", got[2])
	}
}

func TestPumpStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	s := &scriptedStream{frames: []string{"a", "b"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan Frame)
	done := make(chan struct{})
	go func() {
		Pump(ctx, s, out)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump blocked on a cancelled context")
	}
}
