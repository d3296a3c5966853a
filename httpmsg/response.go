package httpmsg

import (
	"fmt"
	"io"
)

// Response is an outgoing HTTP response: status plus an ordered header list
// plus a growable body buffer.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Header is a single (name, value) pair. Order is preserved on the wire.
type Header struct {
	Name  string
	Value string
}

// NewResponse creates a response defaulting to the given status, 200 if
// status is zero.
func NewResponse(status int) *Response {
	if status == 0 {
		status = 200
	}
	return &Response{Status: status}
}

// SetHeader appends a header. Existing headers with the same name are left
// in place — this mirrors an ordered append-only list, not a map.
func (r *Response) SetHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Printf appends formatted text to the response body.
func (r *Response) Printf(format string, args ...any) {
	r.Body = append(r.Body, []byte(fmt.Sprintf(format, args...))...)
}

// Write writes the full status line, headers, and body to w.
// Connection: close is always sent — this system never keeps a service
// connection alive across requests.
func (r *Response) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.Status, reasonPhrase(r.Status)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n", len(r.Body)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "Connection: close\r\n"); err != nil {
		return err
	}
	for _, h := range r.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	_, err := w.Write(r.Body)
	return err
}

// SendErrorHeaders writes a bare status line and the standard framing
// headers with no body, for the early-failure paths that never built a
// full Response (parse failure, internal error before dispatch).
func SendErrorHeaders(w io.Writer, status int) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		status, reasonPhrase(status))
	return err
}

var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	413: "Payload Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

func reasonPhrase(status int) string {
	if phrase, ok := reasonPhrases[status]; ok {
		return phrase
	}
	return "Unknown"
}
