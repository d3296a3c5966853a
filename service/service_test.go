package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/romi/rcom/httpmsg"
)

func TestServiceIndexAndExport(t *testing.T) {
	s, err := New("test-service", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Export(Export{
		Name:        "/hello",
		MimetypeOut: "text/plain",
		OnRequest: func(s *Service, export Export, req *httpmsg.Request) ([]byte, string, error) {
			return []byte("hello world"), "text/plain", nil
		},
	})

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/hello")
	if err != nil {
		t.Fatalf("GET /hello: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello world" {
		t.Fatalf("body = %q, want %q", body, "hello world")
	}

	resp2, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp2.Body.Close()
	index, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(index), "/hello") {
		t.Fatalf("index does not list /hello export: %s", index)
	}

	resp3, err := http.Get("http://" + s.Addr() + "/no-such-export")
	if err != nil {
		t.Fatalf("GET /no-such-export: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp3.StatusCode)
	}
}

func TestServiceIndexJSONSchema(t *testing.T) {
	s, err := New("test-service", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Export(Export{
		Name:        "/hello",
		MimetypeOut: "text/plain",
		OnRequest: func(s *Service, export Export, req *httpmsg.Request) ([]byte, string, error) {
			return []byte("hello world"), "text/plain", nil
		},
	})

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Resources []struct {
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("index.json did not parse as {resources:[...]}: %v (%s)", err, body)
	}

	var found bool
	for _, r := range parsed.Resources {
		if r.Name == "/hello" {
			found = true
			want := "http://" + s.Addr() + "/hello"
			if r.URI != want {
				t.Fatalf("uri = %q, want %q", r.URI, want)
			}
		}
	}
	if !found {
		t.Fatalf("resources did not include /hello: %+v", parsed.Resources)
	}
}

func TestServiceExportUpsertsByName(t *testing.T) {
	s, err := New("test-service", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Export(Export{Name: "/x", MimetypeOut: "text/plain", OnRequest: func(*Service, Export, *httpmsg.Request) ([]byte, string, error) {
		return []byte("first"), "text/plain", nil
	}})
	s.Export(Export{Name: "/x", MimetypeOut: "text/plain", OnRequest: func(*Service, Export, *httpmsg.Request) ([]byte, string, error) {
		return []byte("second"), "text/plain", nil
	}})

	e, ok := s.get("/x")
	if !ok {
		t.Fatal("expected /x to resolve")
	}
	body, _, _ := e.OnRequest(s, e, nil)
	if string(body) != "second" {
		t.Fatalf("expected upsert to replace handler, got %q", body)
	}
}
