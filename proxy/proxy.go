// Package proxy implements the client-side registry mirror: a local copy
// of the registry's entry table, kept fresh by the registry's proxy-add /
// proxy-remove / proxy-update-address broadcasts, offering synchronous
// lookups to the rest of the process.
package proxy

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/romi/rcom/registry"
	"github.com/romi/rcom/rlog"
	"github.com/romi/rcom/wsproto"
)

// retryInterval and retryAttempts bound how hard Connect tries to reach the
// registry before giving up, matching the original's "retry every 2s up to
// 3 times" behavior.
const (
	retryInterval = 2 * time.Second
	retryAttempts = 3
)

// Proxy is a single process's view of the registry: the set of entries it
// owns (registered by this process) plus the mirrored table of everything
// the registry knows about.
type Proxy struct {
	link *wsproto.Link

	mu          sync.Mutex
	entries     map[string]registry.Entry
	owned       map[string]struct{}
	pendingAdds map[string]chan registry.Entry

	repliesMu sync.Mutex
	waiters   []chan json.RawMessage
}

// addKey identifies a pending registration by the fields the caller knows
// before the registry assigns it an ID.
func addKey(name, topic, addr string) string {
	return name + "\x00" + topic + "\x00" + addr
}

// Connect dials the registry at addr, retrying per retryInterval /
// retryAttempts, and starts mirroring its broadcasts.
func Connect(addr string) (*Proxy, error) {
	var link *wsproto.Link
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		link, err = wsproto.Dial(addr, wsproto.Callbacks{})
		if err == nil {
			break
		}
		rlog.Proxy().Error().Err(err).Msg("registry connect attempt failed")
		time.Sleep(retryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("proxy: connecting to registry at %s: %w", addr, err)
	}

	p := &Proxy{
		link:        link,
		entries:     make(map[string]registry.Entry),
		owned:       make(map[string]struct{}),
		pendingAdds: make(map[string]chan registry.Entry),
	}
	link.SetOnMessage(p.onMessage)
	go link.Run()

	if err := p.refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

type event struct {
	Event string          `json:"event"`
	Entry registry.Entry  `json:"entry"`
	ID    string          `json:"id"`
	Addr  string          `json:"addr"`
}

type listReply struct {
	Response string           `json:"response"`
	Success  bool             `json:"success"`
	List     []registry.Entry `json:"list"`
}

type reply struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

func (p *Proxy) onMessage(link *wsproto.Link, text string) {
	var ev event
	if err := json.Unmarshal([]byte(text), &ev); err == nil && ev.Event != "" {
		p.applyEvent(ev)
		return
	}

	p.repliesMu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.repliesMu.Unlock()
	for _, w := range waiters {
		w <- json.RawMessage(text)
	}
}

func (p *Proxy) applyEvent(ev event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Event {
	case "proxy-add":
		p.entries[ev.Entry.ID] = ev.Entry
		key := addKey(ev.Entry.Name, ev.Entry.Topic, ev.Entry.Addr)
		if ch, ok := p.pendingAdds[key]; ok {
			ch <- ev.Entry
			delete(p.pendingAdds, key)
		}
	case "proxy-remove":
		delete(p.entries, ev.ID)
	case "proxy-update-address":
		if e, ok := p.entries[ev.ID]; ok {
			e.Addr = ev.Addr
			p.entries[ev.ID] = e
		}
	}
}

// refresh fetches the full entry table once, at connect time.
func (p *Proxy) refresh() error {
	reply := make(chan json.RawMessage, 1)
	p.repliesMu.Lock()
	p.waiters = append(p.waiters, reply)
	p.repliesMu.Unlock()

	if err := p.link.SendObject(map[string]string{"request": "list"}); err != nil {
		return err
	}

	select {
	case raw := <-reply:
		var lr listReply
		if err := json.Unmarshal(raw, &lr); err != nil {
			return err
		}
		p.mu.Lock()
		for _, e := range lr.List {
			p.entries[e.ID] = e
		}
		p.mu.Unlock()
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("proxy: timed out waiting for registry list reply")
	}
}

// Register adds an entry to the registry and marks it as owned by this
// process, so Close unregisters it on shutdown.
//
// The registry's reply only confirms the request was accepted; the entry's
// assigned ID arrives separately in the proxy-add broadcast, processed by
// the same reader goroutine strictly after the reply. So the wait here is
// keyed on that broadcast actually updating the mirror, not on the reply
// alone — racing ahead to scan p.entries right after the reply would miss
// an add that hasn't been applied yet.
func (p *Proxy) Register(name, topic string, typ registry.Type, addr string) (registry.Entry, error) {
	key := addKey(name, topic, addr)
	added := make(chan registry.Entry, 1)
	p.mu.Lock()
	p.pendingAdds[key] = added
	p.mu.Unlock()

	req := map[string]any{"request": "register", "name": name, "topic": topic, "type": typ, "addr": addr}
	if err := p.link.SendObject(req); err != nil {
		p.mu.Lock()
		delete(p.pendingAdds, key)
		p.mu.Unlock()
		return registry.Entry{}, err
	}

	replyCh := make(chan json.RawMessage, 1)
	p.repliesMu.Lock()
	p.waiters = append(p.waiters, replyCh)
	p.repliesMu.Unlock()

	select {
	case raw := <-replyCh:
		var r reply
		if err := json.Unmarshal(raw, &r); err != nil {
			p.mu.Lock()
			delete(p.pendingAdds, key)
			p.mu.Unlock()
			return registry.Entry{}, err
		}
		if !r.Success {
			p.mu.Lock()
			delete(p.pendingAdds, key)
			p.mu.Unlock()
			return registry.Entry{}, fmt.Errorf("proxy: register failed: %s", r.Message)
		}
	case <-time.After(5 * time.Second):
		p.mu.Lock()
		delete(p.pendingAdds, key)
		p.mu.Unlock()
		return registry.Entry{}, fmt.Errorf("proxy: timed out waiting for register reply")
	}

	select {
	case entry := <-added:
		p.mu.Lock()
		p.owned[entry.ID] = struct{}{}
		p.mu.Unlock()
		return entry, nil
	case <-time.After(5 * time.Second):
		p.mu.Lock()
		delete(p.pendingAdds, key)
		p.mu.Unlock()
		return registry.Entry{}, fmt.Errorf("proxy: timed out waiting for proxy-add broadcast")
	}
}

// Unregister removes id from the registry, whether or not it is owned by
// this process.
func (p *Proxy) Unregister(id string) error {
	req := map[string]string{"request": "unregister", "id": id}
	if err := p.link.SendObject(req); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.owned, id)
	p.mu.Unlock()
	return nil
}

// CountNodes returns the number of entries currently mirrored.
func (p *Proxy) CountNodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// GetNode returns the i-th mirrored entry in an unspecified but stable
// iteration order, matching proxy_get_node's positional access pattern.
func (p *Proxy) GetNode(i int) (registry.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.entries) {
		return registry.Entry{}, false
	}
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return p.entries[ids[i]], true
}

// GetService returns the address of the first entry matching name and
// topic with TypeService, mirroring get_service's synchronous lookup.
func (p *Proxy) GetService(name, topic string) (string, bool) {
	return p.find(name, topic, registry.TypeService)
}

// GetDatahub returns the address of the first entry matching name and
// topic with TypeDatahub.
func (p *Proxy) GetDatahub(name, topic string) (string, bool) {
	return p.find(name, topic, registry.TypeDatahub)
}

// GetStreamer returns the address of the first entry matching name and
// topic with TypeStreamer.
func (p *Proxy) GetStreamer(name, topic string) (string, bool) {
	return p.find(name, topic, registry.TypeStreamer)
}

func (p *Proxy) find(name, topic string, typ registry.Type) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.Name == name && e.Topic == topic && e.Type == typ {
			return e.Addr, true
		}
	}
	return "", false
}

// Close unregisters every entry owned by this process, then closes the
// registry link.
func (p *Proxy) Close() error {
	p.mu.Lock()
	owned := make([]string, 0, len(p.owned))
	for id := range p.owned {
		owned = append(owned, id)
	}
	p.mu.Unlock()

	for _, id := range owned {
		p.Unregister(id)
	}
	return p.link.Close(wsproto.CloseNormal)
}
