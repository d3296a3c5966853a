package httpmsg

import (
	"bufio"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// ResponseHead is a parsed response status line plus headers — enough for
// the WebSocket client handshake, which never has a body.
type ResponseHead struct {
	Status  int
	Reason  string
	Headers textproto.MIMEHeader
}

// Header looks up a response header case-insensitively.
func (h *ResponseHead) Header(name string) string {
	return h.Headers.Get(name)
}

// ParseResponseHead reads a status line and headers from r.
func ParseResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("httpmsg: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("httpmsg: bad status code %q: %w", parts[1], err)
	}

	head := &ResponseHead{Status: status}
	if len(parts) == 3 {
		head.Reason = parts[2]
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	head.Headers = headers
	return head, nil
}
