package plugin

import (
	"errors"
	"sort"
	"testing"

	"github.com/dotside-studios/cardterm/driver"
	"github.com/dotside-studios/cardterm/driver/drivertest"
)

func TestRegistry_RegisterAndGetReader(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("fake-1", func() (driver.Reader, error) {
		return drivertest.New("fake-1"), nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rd, err := r.GetReader("fake-1")
	if err != nil {
		t.Fatalf("GetReader: %v", err)
	}
	if rd.Name() != "fake-1" {
		t.Errorf("reader name = %q, want fake-1", rd.Name())
	}
}

func TestRegistry_RegisterRejectsBadInput(t *testing.T) {
	r := NewRegistry()
	factory := func() (driver.Reader, error) { return drivertest.New("x"), nil }

	if err := r.Register("", factory); err == nil {
		t.Error("expected an error for an empty name")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("expected an error for a nil factory")
	}

	if err := r.Register("x", factory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("x", factory); err == nil {
		t.Error("expected an error for a duplicate name")
	}
}

func TestRegistry_GetReaderUnknownNameIsIllegalState(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetReader("nope"); !driver.IsCode(err, driver.CodeIllegalState) {
		t.Fatalf("expected CodeIllegalState for an unknown name, got %v", err)
	}
}

func TestRegistry_FactoryErrorSurfacesAsPluginError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("device unplugged")
	if err := r.Register("broken", func() (driver.Reader, error) {
		return nil, boom
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.GetReader("broken")
	if !driver.IsCode(err, driver.CodePlugin) {
		t.Fatalf("expected CodePlugin, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected the factory's error to remain unwrappable")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	factory := func() (driver.Reader, error) { return drivertest.New("x"), nil }
	for _, name := range []string{"b", "a"} {
		if err := r.Register(name, factory); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}
