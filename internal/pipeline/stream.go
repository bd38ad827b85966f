package pipeline

import (
	"context"

	"ludexdash/internal/dashboard"
)

// Stream is a live event connection: the session transport plus the read
// side that feeds it.
type Stream interface {
	dashboard.Transport
	ReadLoop(ctx context.Context, deliver func(data []byte)) error
}

// Frame is one item produced by Pump: a raw event frame, or the terminal
// error of the stream when Done is set.
type Frame struct {
	Src  dashboard.Transport
	Data []byte
	Err  error
	Done bool
}

// Pump reads s until it ends and forwards every frame to out, followed by a
// final Done frame. It returns early without the Done frame if ctx ends.
func Pump(ctx context.Context, s Stream, out chan<- Frame) {
	err := s.ReadLoop(ctx, func(data []byte) {
		select {
		case out <- Frame{Src: s, Data: data}:
		case <-ctx.Done():
		}
	})
	select {
	case out <- Frame{Src: s, Err: err, Done: true}:
	case <-ctx.Done():
	}
}
