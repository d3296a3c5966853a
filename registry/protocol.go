package registry

import (
	"encoding/json"

	"github.com/romi/rcom/hub"
	"github.com/romi/rcom/wsproto"
)

// Server wires a Store to a messagehub, handling the register /
// unregister / list / update-address requests that arrive over each
// incoming messagelink and broadcasting the corresponding proxy-* events.
type Server struct {
	store *Store
	hub   *hub.Hub
}

// NewServer pairs store with hub h. It does not install itself on h: pass
// OnConnect to h.SetOnConnect so every accepted link dispatches here.
func NewServer(store *Store, h *hub.Hub) *Server {
	return &Server{store: store, hub: h}
}

// OnConnect should be passed as the hub's OnConnect callback: it wires this
// server's dispatch into the new link's OnMessage handler.
func (s *Server) OnConnect(h *hub.Hub, link *wsproto.Link) error {
	link.SetOnMessage(s.HandleMessage)
	return nil
}

type request struct {
	Request string `json:"request"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Type    Type   `json:"type"`
	Addr    string `json:"addr"`
}

type reply struct {
	Response string  `json:"response"`
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	List     []Entry `json:"list,omitempty"`
}

type proxyAddEvent struct {
	Event string `json:"event"`
	Entry Entry  `json:"entry"`
}

type proxyRemoveEvent struct {
	Event string `json:"event"`
	ID    string `json:"id"`
}

type proxyUpdateAddrEvent struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Addr  string `json:"addr"`
}

// HandleMessage dispatches a single text message received on link according
// to its "request" field, matching rcregistry_onmessage's switch.
func (s *Server) HandleMessage(link *wsproto.Link, text string) {
	var req request
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		s.fail(link, "parse", "malformed request")
		return
	}

	switch req.Request {
	case "register":
		s.register(link, req)
	case "unregister":
		s.unregister(link, req)
	case "list":
		s.list(link)
	case "update-address":
		s.updateAddress(link, req)
	default:
		s.fail(link, req.Request, "unknown request")
	}
}

func (s *Server) fail(link *wsproto.Link, response, message string) {
	link.SendObject(reply{Response: response, Success: false, Message: message})
}

func (s *Server) success(link *wsproto.Link, response string) {
	link.SendObject(reply{Response: response, Success: true, Message: "OK"})
}

func (s *Server) register(link *wsproto.Link, req request) {
	entry := Entry{ID: req.ID, Name: req.Name, Topic: req.Topic, Type: req.Type, Addr: req.Addr}
	stored, verr := s.store.Insert(entry)
	if verr != nil {
		s.fail(link, "register", verr.Message)
		return
	}
	s.success(link, "register")
	s.hub.BroadcastObject(proxyAddEvent{Event: "proxy-add", Entry: stored}, nil)
}

func (s *Server) unregister(link *wsproto.Link, req request) {
	if !s.store.Delete(req.ID) {
		s.fail(link, "unregister", "no such id")
		return
	}
	s.success(link, "unregister")
	s.hub.BroadcastObject(proxyRemoveEvent{Event: "proxy-remove", ID: req.ID}, nil)
}

func (s *Server) list(link *wsproto.Link) {
	link.SendObject(reply{Response: "list", Success: true, Message: "OK", List: s.store.SelectAll()})
}

// updateAddress broadcasts to every link EXCEPT the sender — the one
// asymmetric exclusion rule among the three broadcast events, carried over
// from rcregistry_update_address.
func (s *Server) updateAddress(link *wsproto.Link, req request) {
	if !s.store.UpdateAddr(req.ID, req.Addr) {
		s.fail(link, "update-address", "no such id")
		return
	}
	s.success(link, "update-address")
	s.hub.BroadcastObject(proxyUpdateAddrEvent{Event: "proxy-update-address", ID: req.ID, Addr: req.Addr}, link)
}
