package tcptunnel

import (
	"net"
	"testing"
	"time"
)

func TestRewriteHostHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "rewrites first host header",
			in:   "GET / HTTP/1.1\r\nHost: old.example.com\r\nUpgrade: websocket\r\n\r\n",
			want: "GET / HTTP/1.1\r\nHost: realtime.ably.io\r\nUpgrade: websocket\r\n\r\n",
		},
		{
			name: "no host header is a no-op",
			in:   "GET / HTTP/1.1\r\nUpgrade: websocket\r\n\r\n",
			want: "GET / HTTP/1.1\r\nUpgrade: websocket\r\n\r\n",
		},
		{
			name: "only the first occurrence is rewritten",
			in:   "Host: a.example.com\r\nHost: b.example.com\r\n",
			want: "Host: realtime.ably.io\r\nHost: b.example.com\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(rewriteHostHeader([]byte(tt.in), "realtime.ably.io"))
			if got != tt.want {
				t.Errorf("rewriteHostHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForwardGatesOnIsForwarding(t *testing.T) {
	tun := New("127.0.0.1", 0, "realtime.ably.io", 443, time.Second, nil)
	tun.SetForwarding(false)

	srcR, srcW := net.Pipe()
	dstR, dstW := net.Pipe()
	defer srcR.Close()
	defer srcW.Close()
	defer dstR.Close()
	defer dstW.Close()

	done := make(chan struct{})
	go func() {
		tun.forward(srcR, dstW, false)
		close(done)
	}()

	go func() {
		_, _ = srcW.Write([]byte("hello"))
		srcW.Close()
	}()

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		dstR.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _ := dstR.Read(buf)
		readDone <- buf[:n]
	}()

	got := <-readDone
	if len(got) != 0 {
		t.Errorf("expected no bytes forwarded while disabled, got %q", got)
	}
	<-done
}

func TestForwardPassesBytesWhenEnabled(t *testing.T) {
	tun := New("127.0.0.1", 0, "realtime.ably.io", 443, time.Second, nil)

	srcR, srcW := net.Pipe()
	dstR, dstW := net.Pipe()
	defer srcR.Close()
	defer srcW.Close()
	defer dstR.Close()
	defer dstW.Close()

	go func() {
		tun.forward(srcR, dstW, false)
	}()
	go func() {
		_, _ = srcW.Write([]byte("hello"))
	}()

	buf := make([]byte, 16)
	dstR.SetReadDeadline(time.Now().Add(time.Second))
	n, err := dstR.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("got %q, want %q", buf[:n], "hello")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	tun := New("127.0.0.1", 0, "realtime.ably.io", 443, time.Second, nil)

	if err := tun.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := tun.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if err := tun.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := tun.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
}

func TestIsForwardingDefaultsTrue(t *testing.T) {
	tun := New("127.0.0.1", 0, "realtime.ably.io", 443, time.Second, nil)
	if !tun.IsForwarding() {
		t.Error("expected forwarding to default to enabled")
	}
	tun.SetForwarding(false)
	if tun.IsForwarding() {
		t.Error("expected forwarding disabled after SetForwarding(false)")
	}
}
