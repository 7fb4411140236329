package engine

import (
	"context"

	"github.com/commucat/client-go/proto"
)

// activeConnection owns the outbound half of an established connection. It
// is only ever touched by the actor goroutine, so sequence assignment needs
// no locking.
type activeConnection struct {
	sessionID       string
	pairingRequired bool
	sequence        uint64
	writer          *frameWriter
	// cancel aborts the inbound reader and the connection driver.
	cancel context.CancelFunc
}

// nextSequence hands out the connection's strictly increasing sequence
// numbers. 1 and 2 are reserved for Hello and Auth; application frames
// start at 3.
func (c *activeConnection) nextSequence() uint64 {
	current := c.sequence
	c.sequence++
	return current
}

func (c *activeConnection) sendJoin(channelID uint64, members []string, relay bool) error {
	return c.writer.WriteFrame(proto.Frame{
		ChannelID: channelID,
		Sequence:  c.nextSequence(),
		Type:      proto.FrameJoin,
		Payload: proto.ControlPayload(map[string]interface{}{
			"members": members,
			"relay":   relay,
		}),
	})
}

func (c *activeConnection) sendLeave(channelID uint64) error {
	return c.writer.WriteFrame(proto.Frame{
		ChannelID: channelID,
		Sequence:  c.nextSequence(),
		Type:      proto.FrameLeave,
		Payload:   proto.ControlPayload(map[string]interface{}{}),
	})
}

func (c *activeConnection) sendMessage(channelID uint64, body []byte) error {
	return c.writer.WriteFrame(proto.Frame{
		ChannelID: channelID,
		Sequence:  c.nextSequence(),
		Type:      proto.FrameMsg,
		Payload:   proto.OpaquePayload(body),
	})
}

func (c *activeConnection) sendPresence(state string) error {
	return c.writer.WriteFrame(proto.Frame{
		ChannelID: 0,
		Sequence:  c.nextSequence(),
		Type:      proto.FramePresence,
		Payload: proto.ControlPayload(map[string]interface{}{
			"state": state,
		}),
	})
}

// shutdown signals a graceful close to the peer with an empty terminating
// write, then aborts the reader and driver. The abort is unconditional and
// does not wait for anything to flush.
func (c *activeConnection) shutdown() {
	c.writer.Close()
	c.cancel()
}
