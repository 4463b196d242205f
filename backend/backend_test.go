package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/framegraph/device"
)

// stubDevice satisfies device.Device by embedding the interface; only the
// methods the registry touches are called.
type stubDevice struct {
	device.Device
	name string
}

func (s *stubDevice) Backend() string { return s.name }

func stubFactory(name string) Factory {
	return func(device.Desc) (device.Device, error) {
		return &stubDevice{name: name}, nil
	}
}

func TestRegisterAndOpen(t *testing.T) {
	Register("test-a", stubFactory("test-a"))
	t.Cleanup(func() { Unregister("test-a") })

	if !IsRegistered("test-a") {
		t.Fatal("IsRegistered(test-a) = false")
	}
	if !slices.Contains(Available(), "test-a") {
		t.Errorf("Available() = %v, missing test-a", Available())
	}

	dev, err := Open("test-a", device.DefaultDesc())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if dev.Backend() != "test-a" {
		t.Errorf("Backend() = %q, want test-a", dev.Backend())
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("does-not-exist", device.DefaultDesc())
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open() error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestOpenBestByPriority(t *testing.T) {
	Register(Null, stubFactory(Null))
	Register(GL, stubFactory(GL))
	t.Cleanup(func() {
		Unregister(Null)
		Unregister(GL)
	})

	if got := Best(); got != GL {
		t.Errorf("Best() = %q, want %q", got, GL)
	}
	dev, err := Open("", device.DefaultDesc())
	if err != nil {
		t.Fatal(err)
	}
	if dev.Backend() != GL {
		t.Errorf("Open(\"\").Backend() = %q, want %q", dev.Backend(), GL)
	}
}

func TestFactoryError(t *testing.T) {
	boom := errors.New("boom")
	Register("test-fail", func(device.Desc) (device.Device, error) { return nil, boom })
	t.Cleanup(func() { Unregister("test-fail") })

	if _, err := Open("test-fail", device.DefaultDesc()); !errors.Is(err, boom) {
		t.Errorf("Open() error = %v, want wrapped boom", err)
	}
}

func TestMustOpenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustOpen did not panic")
		}
	}()
	MustOpen("does-not-exist", device.DefaultDesc())
}
