package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is advertised in the Hello control envelope.
const ProtocolVersion = 1

// MaxFrameBody caps the accepted frame body length. A length prefix larger
// than this is a hard decode error, not a short buffer.
const MaxFrameBody = 1 << 24

// frame body = channel id (8) + sequence (8) + type (1) + payload kind (1)
const headerLen = 18

var (
	// ErrShortBuffer indicates the buffer does not yet hold a complete
	// frame. The caller should read more bytes and retry.
	ErrShortBuffer = errors.New("short buffer")
	// ErrFrameTooLarge indicates the length prefix exceeds MaxFrameBody.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// FrameType identifies the kind of a CommuCat frame.
type FrameType uint8

const (
	FrameHello FrameType = iota + 1
	FrameAuth
	FrameAck
	FrameJoin
	FrameLeave
	FrameMsg
	FramePresence
	FrameKeepAlive
	FrameGroupCreate
	FrameGroupEvent
	FrameCallOffer
	FrameCallAnswer
	FrameCallEnd
	FrameVoice
	FrameVideo
	FrameError
)

// String returns the lowercase wire name of the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameAuth:
		return "auth"
	case FrameAck:
		return "ack"
	case FrameJoin:
		return "join"
	case FrameLeave:
		return "leave"
	case FrameMsg:
		return "msg"
	case FramePresence:
		return "presence"
	case FrameKeepAlive:
		return "keepalive"
	case FrameGroupCreate:
		return "group-create"
	case FrameGroupEvent:
		return "group-event"
	case FrameCallOffer:
		return "call-offer"
	case FrameCallAnswer:
		return "call-answer"
	case FrameCallEnd:
		return "call-end"
	case FrameVoice:
		return "voice"
	case FrameVideo:
		return "video"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known frame type.
func (t FrameType) Valid() bool {
	return t >= FrameHello && t <= FrameError
}

// PayloadKind discriminates the two payload encodings.
type PayloadKind uint8

const (
	// PayloadControl marks a structured JSON control envelope.
	PayloadControl PayloadKind = iota
	// PayloadOpaque marks raw application bytes.
	PayloadOpaque
)

// ControlEnvelope is a free-form key/value control document. Binary fields
// inside the document are hex encoded by convention.
type ControlEnvelope struct {
	Properties map[string]interface{}
}

// GetString returns the string value stored under key, if present.
func (e ControlEnvelope) GetString(key string) (string, bool) {
	value, ok := e.Properties[key].(string)
	return value, ok
}

// GetBool returns the boolean value stored under key, or false when the key
// is absent or not a boolean.
func (e ControlEnvelope) GetBool(key string) bool {
	value, _ := e.Properties[key].(bool)
	return value
}

// Payload is the tagged payload of a Frame: either a control envelope or an
// opaque byte blob, never both.
type Payload struct {
	Kind    PayloadKind
	Control ControlEnvelope // valid when Kind == PayloadControl
	Opaque  []byte          // valid when Kind == PayloadOpaque
}

// ControlPayload builds a control payload from a property document.
func ControlPayload(properties map[string]interface{}) Payload {
	return Payload{
		Kind:    PayloadControl,
		Control: ControlEnvelope{Properties: properties},
	}
}

// OpaquePayload builds an opaque payload from raw bytes.
func OpaquePayload(body []byte) Payload {
	return Payload{Kind: PayloadOpaque, Opaque: body}
}

// Frame is the atomic wire unit of the CommuCat protocol.
type Frame struct {
	ChannelID uint64
	Sequence  uint64
	Type      FrameType
	Payload   Payload
}

// Encode serializes the frame into its length-prefixed wire form.
//
// Wire format:
//
//	[length:4 BE][channel id:8 BE][sequence:8 BE][type:1][payload kind:1][payload...]
//
// length covers everything after the prefix.
func (f Frame) Encode() ([]byte, error) {
	if !f.Type.Valid() {
		return nil, fmt.Errorf("invalid frame type %d", uint8(f.Type))
	}
	var payload []byte
	switch f.Payload.Kind {
	case PayloadControl:
		properties := f.Payload.Control.Properties
		if properties == nil {
			properties = map[string]interface{}{}
		}
		encoded, err := json.Marshal(properties)
		if err != nil {
			return nil, fmt.Errorf("encode control envelope: %w", err)
		}
		payload = encoded
	case PayloadOpaque:
		payload = f.Payload.Opaque
	default:
		return nil, fmt.Errorf("invalid payload kind %d", uint8(f.Payload.Kind))
	}
	bodyLen := headerLen + len(payload)
	if bodyLen > MaxFrameBody {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, 4+bodyLen)
	binary.BigEndian.PutUint32(out[0:4], uint32(bodyLen))
	binary.BigEndian.PutUint64(out[4:12], f.ChannelID)
	binary.BigEndian.PutUint64(out[12:20], f.Sequence)
	out[20] = byte(f.Type)
	out[21] = byte(f.Payload.Kind)
	copy(out[22:], payload)
	return out, nil
}

// Decode parses one frame from the front of buf. It returns the frame and
// the number of bytes consumed. ErrShortBuffer means buf does not yet hold a
// complete frame; any other error is a hard protocol error.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 4 {
		return Frame{}, 0, ErrShortBuffer
	}
	bodyLen := int(binary.BigEndian.Uint32(buf[0:4]))
	if bodyLen > MaxFrameBody {
		return Frame{}, 0, ErrFrameTooLarge
	}
	if bodyLen < headerLen {
		return Frame{}, 0, fmt.Errorf("frame body too short: %d bytes", bodyLen)
	}
	if len(buf) < 4+bodyLen {
		return Frame{}, 0, ErrShortBuffer
	}
	body := buf[4 : 4+bodyLen]
	frame := Frame{
		ChannelID: binary.BigEndian.Uint64(body[0:8]),
		Sequence:  binary.BigEndian.Uint64(body[8:16]),
		Type:      FrameType(body[16]),
	}
	if !frame.Type.Valid() {
		return Frame{}, 0, fmt.Errorf("unknown frame type %d", body[16])
	}
	payload := body[headerLen:]
	switch PayloadKind(body[17]) {
	case PayloadControl:
		properties := map[string]interface{}{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &properties); err != nil {
				return Frame{}, 0, fmt.Errorf("decode control envelope: %w", err)
			}
		}
		frame.Payload = ControlPayload(properties)
	case PayloadOpaque:
		frame.Payload = OpaquePayload(append([]byte(nil), payload...))
	default:
		return Frame{}, 0, fmt.Errorf("unknown payload kind %d", body[17])
	}
	return frame, 4 + bodyLen, nil
}
