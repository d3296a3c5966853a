package wsproto

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/romi/rcom/httpmsg"
)

// NewKey generates the 16-byte random nonce RFC 6455 requires for
// Sec-WebSocket-Key, base64-encoded to 24 characters.
func NewKey() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}

// Accept computes the Sec-WebSocket-Accept value for a given client key.
func Accept(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ClientHandshake sends the Upgrade request on conn and validates the
// server's 101 response. host is used verbatim as the Host header.
func ClientHandshake(conn io.ReadWriter, host string) error {
	key, err := NewKey()
	if err != nil {
		return fmt.Errorf("wsproto: generating key: %w", err)
	}

	req := fmt.Sprintf(
		"GET / HTTP/1.1\r\n"+
			"Host: %s\r\n"+
			"Connection: Upgrade\r\n"+
			"Upgrade: websocket\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"\r\n", host, key)
	if _, err := io.WriteString(conn, req); err != nil {
		return fmt.Errorf("wsproto: sending handshake request: %w", err)
	}

	head, err := httpmsg.ParseResponseHead(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("wsproto: parsing handshake response: %w", err)
	}

	if head.Status != 101 {
		return fmt.Errorf("wsproto: expected status 101, got %d", head.Status)
	}
	if !strings.EqualFold(head.Header("Connection"), "Upgrade") {
		return fmt.Errorf("wsproto: missing or invalid Connection header")
	}
	if !strings.EqualFold(head.Header("Upgrade"), "websocket") {
		return fmt.Errorf("wsproto: missing or invalid Upgrade header")
	}
	want := Accept(key)
	if head.Header("Sec-WebSocket-Accept") != want {
		return fmt.Errorf("wsproto: Sec-WebSocket-Accept mismatch")
	}
	return nil
}

// ValidateUpgradeRequest checks a parsed request against the server-side
// handshake requirements (§4.4): a Sec-WebSocket-Key, version 13, the
// Upgrade header, and Connection containing "Upgrade".
func ValidateUpgradeRequest(req *httpmsg.Request) bool {
	if req.Header("Sec-WebSocket-Key") == "" {
		return false
	}
	if req.Header("Sec-WebSocket-Version") != "13" {
		return false
	}
	return req.IsWebSocketUpgrade()
}

// WriteUpgradeResponse writes the 101 response with the three mandatory
// headers for a validated upgrade request.
func WriteUpgradeResponse(w io.Writer, req *httpmsg.Request) error {
	accept := Accept(req.Header("Sec-WebSocket-Key"))
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n"+
			"\r\n", accept)
	return err
}
