// Package proto implements the CommuCat wire frame codec.
//
// Every protocol message is a length-framed Frame carrying a channel id, a
// sequence number, a type tag, and a payload. Payloads are either a
// structured control envelope (a free-form JSON document) or opaque bytes.
//
// Frames are decoded incrementally from a byte accumulation buffer:
//
//	frame, consumed, err := proto.Decode(buffer)
//	if errors.Is(err, proto.ErrShortBuffer) {
//	    // wait for more bytes from the transport
//	}
package proto
