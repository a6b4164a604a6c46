// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewOperationID(t *testing.T) {
	id := NewOperationID()
	if id == "" {
		t.Error("expected non-empty OperationID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if id == NewOperationID() {
		t.Error("expected distinct IDs")
	}
}

func TestCircleKeyFormat(t *testing.T) {
	key := NewCircleKey("circle", "family", "7")
	expected := CircleID("circle:family:7")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
