package keyring

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestIdentityIsStable(t *testing.T) {
	keyring.MockInit()

	if HasIdentity("alice") {
		t.Fatal("No identity expected before first use")
	}

	first, err := LoadOrCreateIdentity("alice")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	second, err := LoadOrCreateIdentity("alice")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	if first.Public != second.Public {
		t.Error("Identity should be reloaded, not regenerated")
	}
	if !HasIdentity("alice") {
		t.Error("Identity should be stored")
	}

	other, err := LoadOrCreateIdentity("bob")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	if other.Public == first.Public {
		t.Error("Users should not share identities")
	}

	if err := DeleteIdentity("alice"); err != nil {
		t.Fatalf("DeleteIdentity failed: %v", err)
	}
	if err := DeleteIdentity("alice"); err != nil {
		t.Errorf("Deleting a missing identity should succeed, got %v", err)
	}
}

func TestCompanionState(t *testing.T) {
	keyring.MockInit()

	if _, err := LoadCompanion("phone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if err := SaveCompanion("phone", []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("SaveCompanion failed: %v", err)
	}
	state, err := LoadCompanion("phone")
	if err != nil {
		t.Fatalf("LoadCompanion failed: %v", err)
	}
	if string(state) != `{"id":"x"}` {
		t.Errorf("Unexpected state: %s", state)
	}
	if err := DeleteCompanion("phone"); err != nil {
		t.Fatalf("DeleteCompanion failed: %v", err)
	}
}
