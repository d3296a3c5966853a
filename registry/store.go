// Package registry implements the rcom registry: a mutex-guarded table of
// (id, name, topic, type, addr) service entries, with validation matching
// the original registry.c rules, plus the wire protocol that lets remote
// nodes register, unregister, and list entries over a messagelink.
package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/romi/rcom/rerr"
)

// Type enumerates the kinds of entry a node can register, matching the
// original registry.c's full endpoint type set.
type Type int

const (
	TypeAny Type = iota
	TypeDatahub
	TypeDatalink
	TypeMessagehub
	TypeMessagelink
	TypeService
	TypeStreamer
	TypeStreamerlink
)

var typeNames = map[Type]string{
	TypeAny:          "any",
	TypeDatahub:      "datahub",
	TypeDatalink:     "datalink",
	TypeMessagehub:   "messagehub",
	TypeMessagelink:  "messagelink",
	TypeService:      "service",
	TypeStreamer:     "streamer",
	TypeStreamerlink: "streamerlink",
}

var namesToType = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, name := range typeNames {
		m[name] = t
	}
	return m
}()

// String returns the wire name for a type, matching registry_type_to_str.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType parses a wire type name, matching registry_str_to_type. ok is
// false for any name outside the known set.
func ParseType(name string) (Type, bool) {
	t, ok := namesToType[name]
	return t, ok
}

// MarshalJSON encodes a Type as its wire name, matching the original's
// string-typed wire protocol rather than a bare integer.
func (t Type) MarshalJSON() ([]byte, error) {
	name, ok := typeNames[t]
	if !ok {
		return nil, fmt.Errorf("registry: no wire name for type %d", int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a Type from its wire name.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := namesToType[name]
	if !ok {
		return fmt.Errorf("registry: unknown type name %q", name)
	}
	*t = parsed
	return nil
}

// Entry is one registered endpoint.
type Entry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Topic string `json:"topic"`
	Type  Type   `json:"type"`
	Addr  string `json:"addr"`
}

// Store is the mutex-guarded entry table.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewStore creates an empty entry table.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// ValidID reports whether id has the canonical 36-character UUID form:
// hyphens at positions 8, 13, 18, 23, hex digits elsewhere.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	for i, c := range id {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ValidTopic reports whether topic is 4-256 characters, starting with a
// lowercase letter and followed by lowercase letters, dots, or hyphens.
func ValidTopic(topic string) bool {
	return validDotted(topic, "abcdefghijklmnopqrstuvwxyz.-")
}

// ValidName reports whether name is 4-256 characters, starting with a
// lowercase letter and followed by lowercase letters, underscores, or
// hyphens.
func ValidName(name string) bool {
	return validDotted(name, "abcdefghijklmnopqrstuvwxyz_-")
}

func validDotted(s, rest string) bool {
	if len(s) < 4 || len(s) > 256 {
		return false
	}
	first := s[0]
	if first < 'a' || first > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !strings.ContainsRune(rest, rune(s[i])) {
			return false
		}
	}
	return true
}

// ValidateEntry checks an entry's fields in the same order the original
// registry does: id, then name, then topic, then type, then addr, returning
// the first failure as a typed *rerr.Error.
func ValidateEntry(e Entry) *rerr.Error {
	if e.ID != "" && !ValidID(e.ID) {
		return rerr.New(rerr.CodeInvalidID, "invalid id: %q", e.ID)
	}
	if !ValidName(e.Name) {
		return rerr.New(rerr.CodeInvalidName, "invalid name: %q", e.Name)
	}
	if !ValidTopic(e.Topic) {
		return rerr.New(rerr.CodeInvalidTopic, "invalid topic: %q", e.Topic)
	}
	if _, ok := typeNames[e.Type]; !ok {
		return rerr.New(rerr.CodeInvalidType, "invalid type: %d", e.Type)
	}
	if !validAddr(e.Addr) {
		return rerr.New(rerr.CodeInvalidAddr, "invalid addr: %q", e.Addr)
	}
	return nil
}

// validAddr reports whether addr parses as an IPv4 address and port,
// matching the original's addr_parse check.
func validAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return false
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return false
	}
	return true
}

// Insert validates e, assigns it a fresh UUID if it has none, and stores it.
// It returns the stored entry (with its assigned ID) or a validation error.
func (s *Store) Insert(e Entry) (Entry, *rerr.Error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return e, nil
}

// Delete removes the entry with the given id. It reports whether an entry
// was actually present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// UpdateAddr updates the addr field of the entry with the given id. It
// reports whether an entry was actually present.
func (s *Store) UpdateAddr(id, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Addr = addr
	s.entries[id] = e
	return true
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Filter describes an entry query: zero-valued fields (and TypeAny) are
// wildcards.
type Filter struct {
	ID    string
	Name  string
	Topic string
	Type  Type
	Addr  string
}

// Select returns every entry matching filter, cloned out from under the
// lock.
func (s *Store) Select(f Filter) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if f.ID != "" && e.ID != f.ID {
			continue
		}
		if f.Name != "" && e.Name != f.Name {
			continue
		}
		if f.Topic != "" && e.Topic != f.Topic {
			continue
		}
		if f.Type != TypeAny && e.Type != f.Type {
			continue
		}
		if f.Addr != "" && e.Addr != f.Addr {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SelectAll returns every entry in the table.
func (s *Store) SelectAll() []Entry {
	return s.Select(Filter{})
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
