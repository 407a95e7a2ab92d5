package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/approvals/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"RunID", id.NewRunID, "wfrun_"},
		{"CheckpointID", id.NewCheckpointID, "ckpt_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"RunID", id.NewRunID, id.ParseRunID},
		{"CheckpointID", id.NewCheckpointID, id.ParseCheckpointID},
		{"EventID", id.NewEventID, id.ParseEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseRunID rejects ckpt_", id.NewCheckpointID().String(), id.ParseRunID},
		{"ParseCheckpointID rejects evt_", id.NewEventID().String(), id.ParseCheckpointID},
		{"ParseEventID rejects wfrun_", id.NewRunID().String(), id.ParseEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type holder struct {
		Run id.RunID `json:"run"`
	}
	original := holder{Run: id.NewRunID()}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var restored holder
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.Run.String() != original.Run.String() {
		t.Errorf("mismatch: %q != %q", restored.Run.String(), original.Run.String())
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewEventID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan([]byte{}); err != nil {
		t.Fatalf("Scan(empty) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of empty bytes")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewRunID()
	b := id.NewRunID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewRunID() calls returned the same ID: %q", a.String())
	}
}
