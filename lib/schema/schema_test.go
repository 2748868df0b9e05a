// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"testing"
)

func TestPresenceContentFieldNames(t *testing.T) {
	content := PresenceContent{
		PeerID:    "peer-a",
		Status:    StatusWaiting,
		Timestamp: 1700000000000,
		Profile:   &Profile{Username: "ana", Interests: []string{"go"}},
	}
	data, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"peerId", "status", "timestamp", "profile"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("field %q missing from %s", field, data)
		}
	}
	if _, ok := raw["refreshed_at"]; ok {
		t.Errorf("zero refreshed_at should be omitted: %s", data)
	}
}

func TestPresenceContentLeft(t *testing.T) {
	var left PresenceContent
	if err := json.Unmarshal([]byte(`{}`), &left); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !left.Left() {
		t.Error("empty content should read as left")
	}
	if (PresenceContent{PeerID: "x", Status: StatusBusy}).Left() {
		t.Error("populated content should not read as left")
	}
}

func TestStatusIsKnown(t *testing.T) {
	for _, status := range []PresenceStatus{StatusWaiting, StatusPaired, StatusBusy} {
		if !status.IsKnown() {
			t.Errorf("%q should be known", status)
		}
	}
	if PresenceStatus("away").IsKnown() {
		t.Error("away should not be known")
	}
}

func TestSignalStateKeyRoundTrip(t *testing.T) {
	key := SignalStateKey("a", "b", "c1")
	from, to, id, err := ParseSignalStateKey(key)
	if err != nil {
		t.Fatalf("ParseSignalStateKey: %v", err)
	}
	if from != "a" || to != "b" || id != "c1" {
		t.Fatalf("parsed %q %q %q", from, to, id)
	}

	for _, bad := range []string{"", "a|b", "a||c", "a|b|c|d"} {
		if _, _, _, err := ParseSignalStateKey(bad); err == nil {
			t.Errorf("ParseSignalStateKey(%q) should fail", bad)
		}
	}
}

func TestProfileCloneAndDisplayName(t *testing.T) {
	var nilProfile *Profile
	if nilProfile.Clone() != nil {
		t.Error("nil profile should clone to nil")
	}
	if got := nilProfile.DisplayName("Stranger"); got != "Stranger" {
		t.Errorf("DisplayName = %q", got)
	}

	original := &Profile{Username: "kai", Interests: []string{"chess"}}
	clone := original.Clone()
	clone.Interests[0] = "go"
	if original.Interests[0] != "chess" {
		t.Error("Clone shares the interests slice")
	}
	if got := original.DisplayName("Stranger"); got != "kai" {
		t.Errorf("DisplayName = %q", got)
	}
}
