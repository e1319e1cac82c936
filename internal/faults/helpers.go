package faults

import (
	"github.com/ably/ably-asset-tracking-test-proxy/internal/protocol"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/wsproxy"
)

// tryDecode returns the decoded protocol message for a binary frame, or
// nil if the frame isn't binary or fails to decode — per the error
// handling design, a decode failure means "forward unchanged", not an
// error an interceptor raises.
func tryDecode(frame wsproxy.Frame) *protocol.ProtocolMessage {
	if frame.Opcode != wsproxy.OpBinary {
		return nil
	}
	msg, err := protocol.Decode(frame.Payload)
	if err != nil {
		return nil
	}
	return msg
}

// encodeFrame serializes a fabricated protocol message into a binary
// outbound frame.
func encodeFrame(msg *protocol.ProtocolMessage) wsproxy.Frame {
	data, err := protocol.Encode(msg)
	if err != nil {
		return wsproxy.Frame{Opcode: wsproxy.OpBinary}
	}
	return wsproxy.Frame{Opcode: wsproxy.OpBinary, Payload: data, Final: true}
}

const nonFatalNackMessage = "channel operation failed"
