package wsproto

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/romi/rcom/httpmsg"
)

func TestClientServerHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ClientHandshake(client, "example.test")
	}()

	req, err := httpmsg.ParseRequest(bufio.NewReader(server))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if !ValidateUpgradeRequest(req) {
		t.Fatalf("request failed validation: %+v", req.Headers)
	}
	if err := WriteUpgradeResponse(server, req); err != nil {
		t.Fatalf("WriteUpgradeResponse: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ClientHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client handshake to finish")
	}
}

func TestValidateUpgradeRequestRejectsMissingKey(t *testing.T) {
	req := &httpmsg.Request{Headers: map[string][]string{
		"Upgrade":               {"websocket"},
		"Connection":            {"Upgrade"},
		"Sec-Websocket-Version": {"13"},
	}}
	if ValidateUpgradeRequest(req) {
		t.Fatal("expected validation to fail without Sec-WebSocket-Key")
	}
}

func TestAcceptComputation(t *testing.T) {
	// Known-answer test from RFC 6455 section 1.3.
	got := Accept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("Accept = %q, want %q", got, want)
	}
}
