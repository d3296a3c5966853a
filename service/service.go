// Package service implements the rcom HTTP export server: a named table of
// request handlers served over plain HTTP, with an auto-generated HTML and
// JSON index, matching the shape of the original service.c.
package service

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/romi/rcom/httpmsg"
	"github.com/romi/rcom/rlog"
)

// OnRequest handles one request to an export and returns the response body
// plus its mimetype.
type OnRequest func(s *Service, export Export, req *httpmsg.Request) (body []byte, mimetype string, err error)

// Export is one named endpoint in a service's table.
type Export struct {
	Name        string
	MimetypeIn  string
	MimetypeOut string
	UserData    any
	OnRequest   OnRequest
}

// Service is an HTTP server exposing a table of named exports.
type Service struct {
	name     string
	listener net.Listener

	mu      sync.Mutex
	exports []Export

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a Service named name listening on addr and starts its accept
// loop in the background. The default "/" (HTML index) and "/index.json"
// exports are registered automatically, matching new_service's behavior.
func New(name, addr string) (*Service, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("service: listen %s: %w", addr, err)
	}
	s := &Service{name: name, listener: l, quit: make(chan struct{})}
	s.Export(Export{Name: "/", MimetypeOut: "text/html", OnRequest: indexHTML})
	s.Export(Export{Name: "/index.json", MimetypeOut: "application/json", OnRequest: indexJSON})

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// Export registers an export, replacing any existing export with the same
// name (matching service_export's upsert-by-name semantics).
func (s *Service) Export(e Export) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.exports {
		if existing.Name == e.Name {
			s.exports[i] = e
			return
		}
	}
	s.exports = append(s.exports, e)
}

// get resolves an export by exact name match, then by wildcard "*" fallback,
// mirroring service_get_export's two-pass scan.
func (s *Service) get(name string) (Export, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exports {
		if e.Name == name {
			return e, true
		}
	}
	for _, e := range s.exports {
		if e.Name == "*" {
			return e, true
		}
	}
	return Export{}, false
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				rlog.Service().Error().Err(err).Msg("accept failed")
				return
			}
		}
		go s.handle(conn)
	}
}

func (s *Service) handle(conn net.Conn) {
	defer conn.Close()

	req, err := httpmsg.ParseRequest(bufio.NewReader(conn))
	if err != nil {
		httpmsg.SendErrorHeaders(conn, 400)
		return
	}

	export, ok := s.get(req.URI)
	if !ok {
		httpmsg.SendErrorHeaders(conn, 400)
		return
	}

	body, mimetype, err := export.OnRequest(s, export, req)
	if err != nil {
		rlog.Service().Error().Err(err).Str("export", export.Name).Msg("export handler failed")
		httpmsg.SendErrorHeaders(conn, 500)
		return
	}

	resp := httpmsg.NewResponse(200)
	if mimetype == "" {
		mimetype = export.MimetypeOut
	}
	resp.SetHeader("Content-Type", mimetype)
	resp.Body = body
	resp.Write(conn)
}

// indexHTML renders the export table as HTML, skipping wildcard exports,
// matching service_index_html's output shape.
func indexHTML(s *Service, _ Export, _ *httpmsg.Request) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body []byte
	body = append(body, fmt.Sprintf("<html><head><title>%s</title></head><body>\n", s.name)...)
	body = append(body, fmt.Sprintf("<h1>%s</h1>\n<ul>\n", s.name)...)
	for _, e := range s.exports {
		if e.Name == "*" {
			continue
		}
		body = append(body, fmt.Sprintf("<li><a href=\"%s\">%s</a></li>\n", e.Name, e.Name)...)
	}
	body = append(body, "</ul>\n</body></html>\n"...)
	return body, "text/html", nil
}

// resource is one entry in the index.json "resources" array, matching
// service_index_json's field shape: a name and its fully-qualified URI.
type resource struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// indexJSON renders the export table as {"resources":[{"name","uri"},...]},
// skipping wildcard exports, matching service_index_json's output shape.
func indexJSON(s *Service, _ Export, req *httpmsg.Request) ([]byte, string, error) {
	host := s.Addr()
	if req != nil {
		if h := req.Header("Host"); h != "" {
			host = h
		}
	}

	s.mu.Lock()
	resources := make([]resource, 0, len(s.exports))
	for _, e := range s.exports {
		if e.Name == "*" {
			continue
		}
		resources = append(resources, resource{Name: e.Name, URI: fmt.Sprintf("http://%s%s", host, e.Name)})
	}
	s.mu.Unlock()

	body, err := json.Marshal(struct {
		Resources []resource `json:"resources"`
	}{Resources: resources})
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}

// Close stops accepting new connections and waits for the accept loop to
// exit.
func (s *Service) Close() error {
	close(s.quit)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
