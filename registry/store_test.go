package registry

import (
	"encoding/json"
	"testing"
)

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"abcd":        true,
		"camera-feed": true,
		"camera_feed": true,
		"abc":         false, // too short
		"Abcd":        false, // must start lowercase
		"abc.d":       false, // dot not allowed in names
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidTopic(t *testing.T) {
	cases := map[string]bool{
		"topic":          true,
		"robot.commands": true,
		"robot-commands": true,
		"abc":            false,
		"Topic":          false,
		"topic_x":        false, // underscore not allowed in topics
	}
	for topic, want := range cases {
		if got := ValidTopic(topic); got != want {
			t.Errorf("ValidTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestValidID(t *testing.T) {
	if !ValidID("550e8400-e29b-41d4-a716-446655440000") {
		t.Error("expected canonical UUID to validate")
	}
	if ValidID("not-a-uuid") {
		t.Error("expected non-UUID to fail validation")
	}
	if ValidID("550e8400e29b41d4a716446655440000") {
		t.Error("expected UUID without hyphens to fail validation")
	}
}

func TestValidateEntryOrder(t *testing.T) {
	// name is checked before topic, type, addr.
	e := Entry{ID: "550e8400-e29b-41d4-a716-446655440000", Name: "x", Topic: "robot.commands", Type: TypeService, Addr: "1.2.3.4:10000"}
	err := ValidateEntry(e)
	if err == nil || err.Code != -1 {
		t.Fatalf("expected invalid-name error, got %v", err)
	}
}

func TestValidateEntryRejectsMalformedAddr(t *testing.T) {
	e := Entry{Name: "camera", Topic: "robot.video", Type: TypeService, Addr: "garbage"}
	err := ValidateEntry(e)
	if err == nil || err.Code != -4 {
		t.Fatalf("expected invalid-addr error, got %v", err)
	}
}

func TestValidateEntryAcceptsIPv4Addr(t *testing.T) {
	e := Entry{Name: "camera", Topic: "robot.video", Type: TypeService, Addr: "10.0.0.1:9000"}
	if err := ValidateEntry(e); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}
}

func TestValidateEntryRejectsUnknownType(t *testing.T) {
	e := Entry{Name: "camera", Topic: "robot.video", Type: Type(99), Addr: "10.0.0.1:9000"}
	err := ValidateEntry(e)
	if err == nil || err.Code != -3 {
		t.Fatalf("expected invalid-type error, got %v", err)
	}
}

func TestTypeWireNameRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeDatahub, TypeDatalink, TypeMessagehub, TypeMessagelink, TypeService, TypeStreamer, TypeStreamerlink} {
		data, err := json.Marshal(typ)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", typ, err)
		}
		var got Type
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if got != typ {
			t.Fatalf("round-tripped %v as %v via %s", typ, got, data)
		}
	}
}

func TestEntryTypeSerializesAsString(t *testing.T) {
	e := Entry{ID: "550e8400-e29b-41d4-a716-446655440000", Name: "camera", Topic: "robot.video", Type: TypeMessagelink, Addr: "10.0.0.1:9000"}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != "messagelink" {
		t.Fatalf(`type field = %v, want "messagelink"`, decoded["type"])
	}
}

func TestStoreInsertAssignsID(t *testing.T) {
	s := NewStore()
	entry, err := s.Insert(Entry{Name: "camera", Topic: "robot.video", Type: TypeService, Addr: "10.0.0.1:9000"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ValidID(entry.ID) {
		t.Fatalf("expected a valid assigned id, got %q", entry.ID)
	}
	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", s.Count())
	}
}

func TestStoreDeleteAndUpdateAddr(t *testing.T) {
	s := NewStore()
	entry, err := s.Insert(Entry{Name: "camera", Topic: "robot.video", Type: TypeService, Addr: "10.0.0.1:9000"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if !s.UpdateAddr(entry.ID, "10.0.0.2:9000") {
		t.Fatal("UpdateAddr on existing entry should succeed")
	}
	got, ok := s.Get(entry.ID)
	if !ok || got.Addr != "10.0.0.2:9000" {
		t.Fatalf("got %+v, want updated addr", got)
	}

	if !s.Delete(entry.ID) {
		t.Fatal("Delete on existing entry should succeed")
	}
	if s.Delete(entry.ID) {
		t.Fatal("Delete on already-removed entry should report false")
	}
}

func TestStoreSelectFiltersByTopic(t *testing.T) {
	s := NewStore()
	s.Insert(Entry{Name: "camera", Topic: "robot.video", Type: TypeService, Addr: "10.0.0.1:1"})
	s.Insert(Entry{Name: "lidar", Topic: "robot.scan", Type: TypeService, Addr: "10.0.0.1:2"})

	got := s.Select(Filter{Topic: "robot.video"})
	if len(got) != 1 || got[0].Name != "camera" {
		t.Fatalf("Select by topic = %+v, want single camera entry", got)
	}
}
