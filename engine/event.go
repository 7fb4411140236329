package engine

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/commucat/client-go/proto"
)

// Event is a notification published by the engine. The set of events is
// closed; consumers match exhaustively on the concrete types.
type Event interface {
	isEvent()
}

// Connected reports a completed handshake.
type Connected struct {
	SessionID string
	// PairingRequired signals the device must complete out-of-band
	// approval before full access is granted.
	PairingRequired bool
}

// Disconnected reports the end of a connection.
type Disconnected struct {
	Reason string
}

// FrameEvent delivers an inbound application frame.
type FrameEvent struct {
	Frame proto.Frame
}

// ErrorEvent reports a non-fatal failure in human-readable form.
type ErrorEvent struct {
	Detail string
}

// LogEvent carries a progress line for user-facing display.
type LogEvent struct {
	Line string
}

func (Connected) isEvent()    {}
func (Disconnected) isEvent() {}
func (FrameEvent) isEvent()   {}
func (ErrorEvent) isEvent()   {}
func (LogEvent) isEvent()     {}

// eventSink delivers events to the single consumer best-effort: a full
// queue drops the event with a warning, a closed sink reports the consumer
// gone so background readers can terminate silently. close closes the
// channel itself so consumers ranging over it unblock.
type eventSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEventSink(buffer int) *eventSink {
	return &eventSink{ch: make(chan Event, buffer)}
}

// publish enqueues ev. It returns false once the sink is closed.
func (s *eventSink) publish(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "eventSink.publish",
			"event":    describeEvent(ev),
		}).Warn("event queue full, dropping event")
		return true
	}
}

func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func describeEvent(ev Event) string {
	switch ev := ev.(type) {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case FrameEvent:
		return "frame " + ev.Frame.Type.String()
	case ErrorEvent:
		return "error"
	case LogEvent:
		return "log"
	default:
		return "unknown"
	}
}
