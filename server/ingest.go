package server

import (
	"fmt"
	"io"
	"sync"

	"github.com/sentinelcam/sentinel/server/pipeline"
)

// Frames a camera's HTTP ingest will queue before Push starts failing.
// The live layer has its own drop-oldest buffer; this queue only covers the
// handoff between the HTTP handler and the capture loop.
const ingestQueueSize = 64

// pushSource adapts HTTP frame ingest to the live.FrameSource contract.
// The upstream detector+tracker POSTs tracked boxes; NextFrame hands them
// to the camera's capture loop.
type pushSource struct {
	frames    chan *pipeline.Frame
	closed    chan bool
	closeOnce sync.Once
}

func newPushSource(buffer int) *pushSource {
	return &pushSource{
		frames: make(chan *pipeline.Frame, buffer),
		closed: make(chan bool),
	}
}

func (s *pushSource) Push(frame *pipeline.Frame) error {
	select {
	case <-s.closed:
		return fmt.Errorf("camera is stopped")
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		return fmt.Errorf("ingest queue is full")
	}
}

func (s *pushSource) NextFrame() (*pipeline.Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *pushSource) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
