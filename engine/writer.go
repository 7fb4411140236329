package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/commucat/client-go/proto"
	"github.com/commucat/client-go/transport"
)

// ErrStreamClosed is the terminal failure for a send on a closed stream.
var ErrStreamClosed = errors.New("send stream closed")

// frameWriter transmits encoded frames over the connect stream. Every
// write, handshake and application alike, goes through the same
// flow-controlled path: the write suspends until the transport grants
// capacity for the whole frame.
type frameWriter struct {
	stream *transport.Stream
}

func newFrameWriter(stream *transport.Stream) *frameWriter {
	return &frameWriter{stream: stream}
}

func (w *frameWriter) WriteFrame(frame proto.Frame) error {
	encoded, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := w.stream.Write(encoded); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrStreamClosed
		}
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Close performs the empty, stream-terminating write.
func (w *frameWriter) Close() error {
	return w.stream.CloseSend()
}
