package wsproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/romi/rcom/httpmsg"
)

// State is a messagelink's position in the connection lifecycle.
type State int

const (
	Created State = iota
	ClientConnecting
	ServerConnecting
	Open
	Closing
	CloseReceived
	FinalizingClose
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case ClientConnecting:
		return "client-connecting"
	case ServerConnecting:
		return "server-connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case CloseReceived:
		return "close-received"
	case FinalizingClose:
		return "finalizing-close"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes, RFC 6455 section 7.4.1, the subset this system ever sends or
// recognizes.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseProtocolError  = 1002
	CloseUnsupportedData = 1003
	CloseNoStatus       = 1005
	CloseTooBig         = 1009
	CloseInternalError  = 1011
)

// pollInterval bounds how long a background reader blocks on the socket
// before re-checking for shutdown — the Go analogue of the original poller's
// one-second granularity.
const pollInterval = 1 * time.Second

// closeWait is how long owner-initiated close waits for the peer's close
// frame before giving up and tearing down the socket anyway.
const closeWait = 5 * time.Second

// clientLinger is how long a client-side link sleeps after sending its half
// of the close handshake, giving the server time to see the FIN before the
// socket is torn down.
const clientLinger = 4 * time.Second

// Link is one end of a WebSocket connection: either the client side opened
// by Dial, or the server side accepted by a Messagehub.
type Link struct {
	conn     net.Conn
	isClient bool

	mu    sync.Mutex
	state State

	onMessage func(link *Link, text string)
	onClose   func(link *Link, code int)
	onPong    func(link *Link)

	closeOnce   sync.Once
	closeWaitCh chan struct{}
}

// Callbacks groups the event handlers a Link dispatches to. Any may be nil.
type Callbacks struct {
	OnMessage func(link *Link, text string)
	OnClose   func(link *Link, code int)
	OnPong    func(link *Link)
}

// newLink wraps an already-upgraded connection.
func newLink(conn net.Conn, isClient bool, cb Callbacks) *Link {
	return &Link{
		conn:        conn,
		isClient:    isClient,
		state:       Open,
		onMessage:   cb.OnMessage,
		onClose:     cb.OnClose,
		onPong:      cb.OnPong,
		closeWaitCh: make(chan struct{}),
	}
}

// Dial opens a TCP connection to addr and performs the client WebSocket
// handshake, returning an open Link.
func Dial(addr string, cb Callbacks) (*Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsproto: dial %s: %w", addr, err)
	}
	if err := ClientHandshake(conn, addr); err != nil {
		conn.Close()
		return nil, err
	}
	link := newLink(conn, true, cb)
	return link, nil
}

// AcceptUpgrade completes the server half of the handshake for an
// already-validated upgrade request and returns the open server-side Link.
// Callers (the hub's connection dispatch) are responsible for having
// confirmed ValidateUpgradeRequest first.
func AcceptUpgrade(conn net.Conn, req *httpmsg.Request, cb Callbacks) (*Link, error) {
	if err := WriteUpgradeResponse(conn, req); err != nil {
		return nil, fmt.Errorf("wsproto: writing upgrade response: %w", err)
	}
	return newLink(conn, false, cb), nil
}

// State returns the link's current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// RemoteAddr returns the underlying connection's remote address string.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

// SetOnMessage installs the text-message callback. Hub owners call this
// from their OnConnect hook, after the handshake but before the link is
// added to the hub's set and its read loop started, so no message can race
// the assignment.
func (l *Link) SetOnMessage(fn func(link *Link, text string)) {
	l.onMessage = fn
}

// SetOnPong installs the pong callback, as SetOnMessage does for messages.
func (l *Link) SetOnPong(fn func(link *Link)) {
	l.onPong = fn
}

// SendText sends a single text frame verbatim.
func (l *Link) SendText(text string) error {
	return l.send(OpText, []byte(text))
}

// SendTextf sends a single text frame built with fmt.Sprintf.
func (l *Link) SendTextf(format string, args ...any) error {
	return l.SendText(fmt.Sprintf(format, args...))
}

// SendObject marshals v to JSON and sends it as a single text frame.
func (l *Link) SendObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsproto: marshaling message: %w", err)
	}
	return l.send(OpText, data)
}

func (l *Link) send(opcode byte, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Open {
		return fmt.Errorf("wsproto: send on link in state %s", l.state)
	}
	return WriteFrame(l.conn, opcode, payload, l.isClient)
}

// Run starts the background read loop, blocking until the link closes. It
// should be run in its own goroutine for links owned by a hub or a client
// that needs to keep doing other work.
func (l *Link) Run() {
	for {
		if l.State() != Open && l.State() != Closing {
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(pollInterval))
		frame, err := ReadFrame(l.conn, !l.isClient)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			switch {
			case l.State() != Open:
				l.finalizeClose(CloseNoStatus)
			case errors.Is(err, ErrTooBig):
				l.closeImmediate(CloseTooBig)
			default:
				l.closeImmediate(CloseInternalError)
			}
			return
		}
		if !l.isClient && !frame.Masked {
			l.closeImmediate(CloseProtocolError)
			return
		}
		if !l.dispatch(frame) {
			return
		}
	}
}

// dispatch handles one decoded frame and reports whether the read loop
// should keep running.
func (l *Link) dispatch(frame Frame) bool {
	switch frame.Opcode {
	case OpText:
		if l.onMessage != nil {
			l.onMessage(l, string(frame.Payload))
		}
	case OpBinary, OpContinuation:
		// A protocol violation detected by the reader itself can't wait on
		// its own close echo without deadlocking the loop that would read
		// it, so this tears the connection down immediately rather than
		// going through the owner's wait-for-echo path.
		l.closeImmediate(CloseUnsupportedData)
		return false
	case OpClose:
		l.remoteClose(frame.Payload)
		return false
	case OpPing:
		l.send(OpPong, frame.Payload)
	case OpPong:
		if l.onPong != nil {
			l.onPong(l)
		}
	}
	return true
}

// Close performs the owner-initiated half of the four-way close handshake:
// send a close frame, wait up to closeWait for the peer's close frame, then
// tear down the socket. code is the close code to send.
func (l *Link) Close(code int) error {
	l.mu.Lock()
	if l.state != Open {
		l.mu.Unlock()
		return nil
	}
	l.state = Closing
	l.mu.Unlock()
	return l.ownerClose(code)
}

// closeImmediate sends a close frame and tears the connection down without
// waiting for the peer's echo. Used only by the read loop reacting to its
// own frame, where waiting would mean waiting on itself.
func (l *Link) closeImmediate(code int) {
	l.setState(Closing)
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	WriteFrame(l.conn, OpClose, payload, l.isClient)
	l.conn.Close()
	l.finalizeClose(code)
}

func (l *Link) ownerClose(code int) error {
	l.setState(Closing)
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	WriteFrame(l.conn, OpClose, payload, l.isClient)

	select {
	case <-l.closeWaitCh:
	case <-time.After(closeWait):
	}

	if l.isClient {
		time.Sleep(clientLinger)
	}
	l.setState(Closed)
	return l.conn.Close()
}

// remoteClose handles a close frame arriving from the peer: echo the close
// code, optionally linger (client side), close the socket, and fire OnClose
// exactly once.
func (l *Link) remoteClose(payload []byte) {
	code := CloseNoStatus
	if len(payload) >= 2 {
		code = int(binary.BigEndian.Uint16(payload))
	}

	l.mu.Lock()
	already := l.state == Closing
	l.state = CloseReceived
	l.mu.Unlock()

	if already {
		close(l.closeWaitCh)
	} else {
		echo := make([]byte, 2)
		binary.BigEndian.PutUint16(echo, uint16(code))
		WriteFrame(l.conn, OpClose, echo, l.isClient)
		if l.isClient {
			time.Sleep(clientLinger)
		}
		l.conn.Close()
	}

	l.finalizeClose(code)
}

func (l *Link) finalizeClose(code int) {
	l.closeOnce.Do(func() {
		l.setState(Closed)
		if l.onClose != nil {
			l.onClose(l, code)
		}
	})
}
