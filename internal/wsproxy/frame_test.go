package wsproxy

import "testing"

func TestNewActionDefaultsSendAndClose(t *testing.T) {
	closeAction := NewAction(UpstreamToClient, Frame{Opcode: OpClose})
	if !closeAction.SendAndClose {
		t.Error("a CLOSE frame action should default SendAndClose to true")
	}

	textAction := NewAction(ClientToUpstream, Frame{Opcode: OpText, Payload: []byte("hi")})
	if textAction.SendAndClose {
		t.Error("a non-CLOSE frame action should default SendAndClose to false")
	}
}

func TestPassThroughInterceptor(t *testing.T) {
	var i PassThroughInterceptor

	params := FromRequestParameters("clientId=abc")
	if got := i.InterceptConnection(params); got != params {
		t.Error("PassThroughInterceptor should return params unchanged")
	}

	frame := Frame{Opcode: OpBinary, Payload: []byte{1, 2, 3}}
	actions := i.InterceptFrame(ClientToUpstream, frame)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
	if actions[0].Direction != ClientToUpstream {
		t.Errorf("Direction = %v, want ClientToUpstream", actions[0].Direction)
	}
	if string(actions[0].Frame.Payload) != string(frame.Payload) {
		t.Error("payload should be forwarded unchanged")
	}
}
