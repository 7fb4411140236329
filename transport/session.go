package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// UserAgent is the client identifier sent with every connect request.
const UserAgent = "CommuCat-Go/0.1"

// Session is an established HTTP/2 application connection. Its driver
// goroutine runs for the life of the connection and tears down the socket
// when the connection context is cancelled.
type Session struct {
	conn       io.Closer
	clientConn *http2.ClientConn
}

// runDriver keeps the connection alive until ctx is cancelled, then closes
// the multiplexed connection and the underlying socket. Cancellation is
// fire-and-forget: in-flight streams are aborted, nothing is flushed.
func (s *Session) runDriver(ctx context.Context) {
	<-ctx.Done()
	if err := s.clientConn.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.runDriver",
			"error":    err.Error(),
		}).Warn("h2 connection ended")
	}
	s.conn.Close()
	logrus.WithField("function", "Session.runDriver").Debug("connection driver stopped")
}

// Stream is one bidirectional request stream. Writes go into the request
// body and suspend until HTTP/2 flow control admits the bytes; the response
// body carries the server's frames.
type Stream struct {
	body *io.PipeWriter
	resp <-chan streamResult
}

type streamResult struct {
	response *http.Response
	err      error
}

// OpenStream opens the connect stream: a POST with an octet-stream body,
// the client identifier, a trailer capability declaration, and an optional
// trace header.
func (s *Session) OpenStream(ctx context.Context, endpoint *Endpoint, traceparent string) (*Stream, error) {
	reader, writer := io.Pipe()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.RequestURL(), reader)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	request.Header.Set("User-Agent", UserAgent)
	request.Header.Set("TE", "trailers")
	if traceparent != "" {
		request.Header.Set("Traceparent", traceparent)
	}

	results := make(chan streamResult, 1)
	go func() {
		response, err := s.clientConn.RoundTrip(request)
		results <- streamResult{response: response, err: err}
	}()
	return &Stream{body: writer, resp: results}, nil
}

// Write sends bytes on the request stream. The call suspends while the
// stream's flow-control window is exhausted and fails once the stream is
// closed.
func (st *Stream) Write(p []byte) (int, error) {
	return st.body.Write(p)
}

// CloseSend performs the empty stream-terminating write that signals a
// graceful close to the peer.
func (st *Stream) CloseSend() error {
	return st.body.Close()
}

// Response waits for the server's response headers and returns the response
// body carrying the inbound byte stream.
func (st *Stream) Response(ctx context.Context) (io.ReadCloser, error) {
	select {
	case result := <-st.resp:
		if result.err != nil {
			return nil, fmt.Errorf("send request: %w", result.err)
		}
		if result.response.StatusCode != http.StatusOK {
			result.response.Body.Close()
			return nil, fmt.Errorf("connect rejected with status %d", result.response.StatusCode)
		}
		return result.response.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
