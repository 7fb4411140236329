package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/commucat/client-go/proto"
)

// runReader owns the receive half of an established connection. It decodes
// every complete frame in its buffer, waits for more bytes when a frame is
// split across reads, and recovers from hard decode errors by discarding
// the buffer without resynchronizing mid-stream.
//
// The reader terminates on transport failure, on the peer closing the
// stream, on cancellation, or silently once the event consumer is gone.
func runReader(ctx context.Context, body io.ReadCloser, buffered []byte, sink *eventSink) {
	defer body.Close()
	buffer := append([]byte(nil), buffered...)
	chunk := make([]byte, 32*1024)
	for {
		for {
			frame, consumed, err := proto.Decode(buffer)
			if errors.Is(err, proto.ErrShortBuffer) {
				break
			}
			if err != nil {
				if !sink.publish(ErrorEvent{Detail: fmt.Sprintf("decode error: %v", err)}) {
					return
				}
				buffer = buffer[:0]
				break
			}
			buffer = buffer[consumed:]
			if !sink.publish(FrameEvent{Frame: frame}) {
				return
			}
		}

		n, err := body.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
		}
		if n == 0 && err != nil {
			if ctx.Err() != nil {
				// Cancelled teardown; the actor reports the disconnect.
				logrus.WithField("function", "runReader").Debug("reader cancelled")
				return
			}
			if errors.Is(err, io.EOF) {
				sink.publish(Disconnected{Reason: "remote closed"})
				return
			}
			detail := fmt.Sprintf("receive failed: %v", err)
			sink.publish(ErrorEvent{Detail: detail})
			sink.publish(Disconnected{Reason: detail})
			return
		}
	}
}
