// Package hub implements messagehub: a TCP listener that demultiplexes
// incoming connections into WebSocket messagelinks and plain HTTP requests,
// and tracks the resulting set of server-side links for broadcast.
package hub

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/romi/rcom/httpmsg"
	"github.com/romi/rcom/rlog"
	"github.com/romi/rcom/wsproto"
)

// OnConnect is called once a messagelink has completed its handshake and
// before it is added to the hub's link set, so the caller can reject it by
// returning an error (the link is then closed and never registered).
type OnConnect func(hub *Hub, link *wsproto.Link) error

// OnRequest handles a plain HTTP (non-upgrade) request and returns the
// response to send.
type OnRequest func(hub *Hub, req *httpmsg.Request) *httpmsg.Response

// Hub owns a listening socket, a set of open server-side links, and the
// callbacks that decide what to do with each new connection.
type Hub struct {
	addr     string
	listener net.Listener

	mu    sync.Mutex
	links map[*wsproto.Link]struct{}

	onConnect OnConnect
	onRequest OnRequest

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a Hub listening on addr ("host:port", or ":0" to pick a free
// port) and starts its accept loop in a background goroutine.
func New(addr string, onConnect OnConnect, onRequest OnRequest) (*Hub, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hub: listen %s: %w", addr, err)
	}
	h := &Hub{
		addr:      l.Addr().String(),
		listener:  l,
		links:     make(map[*wsproto.Link]struct{}),
		onConnect: onConnect,
		onRequest: onRequest,
		quit:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h, nil
}

// Addr returns the bound listen address.
func (h *Hub) Addr() string {
	return h.addr
}

// SetOnConnect installs the connect callback after construction, for
// callers (like registry.Server) whose callback needs a reference to the
// hub they are themselves built from.
func (h *Hub) SetOnConnect(fn OnConnect) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.quit:
				return
			default:
				rlog.Hub().Error().Err(err).Msg("accept failed")
				return
			}
		}
		go h.handle(conn)
	}
}

func (h *Hub) handle(conn net.Conn) {
	reader := bufio.NewReader(conn)
	req, err := httpmsg.ParseRequest(reader)
	if err != nil {
		conn.Close()
		return
	}

	if req.IsWebSocketUpgrade() {
		h.handleWebSocket(conn, req)
		return
	}
	h.handleHTTP(conn, req)
}

func (h *Hub) handleWebSocket(conn net.Conn, req *httpmsg.Request) {
	if !wsproto.ValidateUpgradeRequest(req) {
		httpmsg.SendErrorHeaders(conn, 400)
		conn.Close()
		return
	}

	link, err := wsproto.AcceptUpgrade(conn, req, wsproto.Callbacks{
		OnClose: func(l *wsproto.Link, code int) {
			h.removeLink(l)
		},
	})
	if err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	onConnect := h.onConnect
	h.mu.Unlock()

	if onConnect != nil {
		if err := onConnect(h, link); err != nil {
			rlog.Hub().Error().Err(err).Msg("onconnect rejected link")
			link.Close(wsproto.CloseNormal)
			return
		}
	}

	h.addLink(link)
	link.Run()
}

func (h *Hub) handleHTTP(conn net.Conn, req *httpmsg.Request) {
	defer conn.Close()
	if h.onRequest == nil {
		httpmsg.SendErrorHeaders(conn, 404)
		return
	}
	resp := h.onRequest(h, req)
	if resp == nil {
		httpmsg.SendErrorHeaders(conn, 500)
		return
	}
	resp.Write(conn)
}

func (h *Hub) addLink(link *wsproto.Link) {
	h.mu.Lock()
	h.links[link] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeLink(link *wsproto.Link) {
	h.mu.Lock()
	delete(h.links, link)
	h.mu.Unlock()
}

// Links returns a snapshot of the currently open server-side links.
func (h *Hub) Links() []*wsproto.Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsproto.Link, 0, len(h.links))
	for l := range h.links {
		out = append(out, l)
	}
	return out
}

// Broadcast sends text to every link in the hub's set except exclude (pass
// nil to exclude none).
func (h *Hub) Broadcast(text string, exclude *wsproto.Link) {
	for _, l := range h.Links() {
		if l == exclude {
			continue
		}
		if err := l.SendText(text); err != nil {
			rlog.Hub().Error().Err(err).Msg("broadcast send failed")
		}
	}
}

// BroadcastObject marshals v to JSON and broadcasts it, excluding exclude.
func (h *Hub) BroadcastObject(v any, exclude *wsproto.Link) error {
	for _, l := range h.Links() {
		if l == exclude {
			continue
		}
		if err := l.SendObject(v); err != nil {
			rlog.Hub().Error().Err(err).Msg("broadcast send failed")
		}
	}
	return nil
}

// Close stops accepting new connections, closes every open link, and waits
// for the accept loop to exit. Links are closed one at a time with the lock
// released during each Close, mirroring the original's locked-dequeue /
// unlocked-delete shutdown order — closing a link while the set is still
// under lock would deadlock against the link's own removal callback.
func (h *Hub) Close() error {
	close(h.quit)
	err := h.listener.Close()
	h.wg.Wait()

	for {
		h.mu.Lock()
		var next *wsproto.Link
		for l := range h.links {
			next = l
			break
		}
		h.mu.Unlock()
		if next == nil {
			break
		}
		next.Close(wsproto.CloseGoingAway)
	}
	return err
}
