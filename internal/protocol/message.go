// Package protocol implements the tiny, read-mostly decoder/encoder the
// fault catalog needs to recognize realtime protocol messages and
// fabricate NACKs. It is deliberately not a full codec: per SPEC_FULL.md
// §4.5 it only understands the handful of fields a fault needs to look
// at, and discards everything else on decode.
package protocol

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Action is the wire action code carried by every ProtocolMessage.
type Action int

const (
	ActionHeartbeat   Action = 0
	ActionAck         Action = 1
	ActionNack        Action = 2
	ActionConnect     Action = 3
	ActionConnected   Action = 4
	ActionDisconnect  Action = 5
	ActionDisconnected Action = 6
	ActionClose       Action = 7
	ActionClosed      Action = 8
	ActionError       Action = 9
	ActionAttach      Action = 10
	ActionAttached    Action = 11
	ActionDetach      Action = 12
	ActionDetached    Action = 13
	ActionPresence    Action = 14
	ActionMessage     Action = 15
	ActionSync        Action = 16
	ActionAuth        Action = 17
)

// PresenceAction is the per-member action carried inside a PRESENCE
// message's presence[] entries.
type PresenceAction int

const (
	PresenceAbsent PresenceAction = 0
	PresencePresent PresenceAction = 1
	PresenceEnter  PresenceAction = 2
	PresenceLeave  PresenceAction = 3
	PresenceUpdate PresenceAction = 4
)

// ErrorInfo mirrors the realtime error envelope carried by NACK/ERROR
// messages.
type ErrorInfo struct {
	Code       int    `msgpack:"code"`
	StatusCode int    `msgpack:"statusCode"`
	Message    string `msgpack:"message"`
}

// Non-fatal error codes live in the 40000-49999 band; fatal/terminal
// codes are outside it. ErrChannelOperationFailed is the default code
// this package fabricates for non-fatal NACKs.
const ErrChannelOperationFailed = 40140

// PresenceMessage is a single entry of a PRESENCE message's presence list.
type PresenceMessage struct {
	Action   PresenceAction `msgpack:"action"`
	ClientID string         `msgpack:"clientId,omitempty"`
	ID       string         `msgpack:"id,omitempty"`
}

// Message is a single realtime data message nested in a MESSAGE action.
type Message struct {
	Name string `msgpack:"name,omitempty"`
	Data any    `msgpack:"data,omitempty"`
}

// ProtocolMessage is the decoded view of one binary realtime protocol
// frame: just enough structure for the fault catalog to recognize what a
// message is doing. Fields not listed here are dropped by Decode, so
// re-encoding a decoded message does not reproduce the original frame;
// frames that are forwarded unmodified are sent as their original bytes.
type ProtocolMessage struct {
	Action           Action            `msgpack:"action"`
	Channel          string            `msgpack:"channel,omitempty"`
	ChannelSerial    string            `msgpack:"channelSerial,omitempty"`
	ClientID         string            `msgpack:"clientId,omitempty"`
	ConnectionID     string            `msgpack:"connectionId,omitempty"`
	ConnectionSerial int64             `msgpack:"connectionSerial,omitempty"`
	MsgSerial        int64             `msgpack:"msgSerial,omitempty"`
	Error            *ErrorInfo        `msgpack:"error,omitempty"`
	Presence         []PresenceMessage `msgpack:"presence,omitempty"`
	Messages         []Message         `msgpack:"messages,omitempty"`
}

// Decode parses a binary realtime protocol frame. A decode failure is not
// an error the caller should propagate (per spec §7, an interceptor must
// never raise) — callers treat a non-nil error as "forward unchanged".
func Decode(payload []byte) (*ProtocolMessage, error) {
	var msg ProtocolMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Encode serializes a ProtocolMessage back to the binary wire format.
func Encode(msg *ProtocolMessage) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// NACK builds a minimal NACK ProtocolMessage carrying a non-fatal error.
// msgSerial ties the NACK to the request it answers (ATTACH/DETACH use
// 0 since they aren't msgSerial-addressed; PRESENCE enter/update NACKs
// should pass the serial of the originating message).
func NACK(msgSerial int64, code int, message string) *ProtocolMessage {
	return &ProtocolMessage{
		Action:    ActionNack,
		MsgSerial: msgSerial,
		Error: &ErrorInfo{
			Code:       code,
			StatusCode: 400,
			Message:    message,
		},
	}
}

// IsPresenceAction reports whether msg is a PRESENCE message containing at
// least one presence entry with the given action.
func (m *ProtocolMessage) IsPresenceAction(action PresenceAction) bool {
	if m == nil || m.Action != ActionPresence {
		return false
	}
	for _, p := range m.Presence {
		if p.Action == action {
			return true
		}
	}
	return false
}
