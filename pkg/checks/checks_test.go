package checks

import (
	"errors"
	"testing"

	"github.com/supporttools/prism-check/pkg/plugins"
)

func TestRegisterAll(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, name := range []string{"prism_remote_support"} {
		if reg.Check(name) == nil {
			t.Errorf("check plugin %q not registered", name)
		}
		if reg.Section(name) == nil {
			t.Errorf("section %q not registered", name)
		}
	}
}

func TestRegisterAllTwiceFails(t *testing.T) {
	reg := plugins.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		t.Fatalf("first RegisterAll failed: %v", err)
	}
	if err := RegisterAll(reg); !errors.Is(err, plugins.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestFreshRegistriesAreIndependent(t *testing.T) {
	a, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct registries")
	}
	if len(a.CheckNames()) != len(b.CheckNames()) {
		t.Error("registries differ in content")
	}
}
