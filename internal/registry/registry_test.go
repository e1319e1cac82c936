package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/faults"
)

func testCatalog() map[string]faults.Fault {
	deps := faults.Dependencies{
		ListenHost:  "127.0.0.1",
		ListenPort:  0,
		TargetHost:  "realtime.ably.io",
		TargetPort:  443,
		DialTimeout: 10 * time.Second,
	}
	return faults.ByName(deps)
}

func TestListFaultsReturnsAllTwelveSorted(t *testing.T) {
	reg := New(testCatalog())
	names := reg.ListFaults()
	if len(names) != 12 {
		t.Fatalf("len(ListFaults()) = %d, want 12", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("ListFaults() not sorted: %q before %q", names[i-1], names[i])
		}
	}
}

func TestCreateSimulationUnknownFault(t *testing.T) {
	reg := New(testCatalog())
	_, err := reg.CreateSimulation("NotARealFault")
	if !errors.Is(err, ErrUnknownFault) {
		t.Errorf("err = %v, want ErrUnknownFault", err)
	}
}

func TestCreateSimulationSucceedsAndStartsProxy(t *testing.T) {
	reg := New(testCatalog())
	desc, err := reg.CreateSimulation("NullTransportFault")
	if err != nil {
		t.Fatalf("CreateSimulation() error: %v", err)
	}
	if desc.Name != "NullTransportFault" {
		t.Errorf("Name = %q, want NullTransportFault", desc.Name)
	}
	if desc.Type != faults.Nonfatal {
		t.Errorf("Type = %v, want Nonfatal", desc.Type)
	}
	if desc.ID == "" {
		t.Error("ID should not be empty")
	}

	defer reg.CleanUp(desc.ID)

	if err := reg.Enable(desc.ID); err != nil {
		t.Errorf("Enable() error: %v", err)
	}
}

func TestDuplicateNameYieldsDistinctIDs(t *testing.T) {
	reg := New(testCatalog())
	first, err := reg.CreateSimulation("NullTransportFault")
	if err != nil {
		t.Fatalf("first CreateSimulation() error: %v", err)
	}
	defer reg.CleanUp(first.ID)

	second, err := reg.CreateSimulation("NullTransportFault")
	if err != nil {
		t.Fatalf("second CreateSimulation() error: %v", err)
	}
	defer reg.CleanUp(second.ID)

	if first.ID == second.ID {
		t.Error("two simulations of the same fault must get distinct ids")
	}
}

func TestEnableResolveCleanUpUnknownID(t *testing.T) {
	reg := New(testCatalog())
	if err := reg.Enable("bogus"); !errors.Is(err, ErrUnknownSimulation) {
		t.Errorf("Enable(bogus) = %v, want ErrUnknownSimulation", err)
	}
	if err := reg.Resolve("bogus"); !errors.Is(err, ErrUnknownSimulation) {
		t.Errorf("Resolve(bogus) = %v, want ErrUnknownSimulation", err)
	}
	if err := reg.CleanUp("bogus"); !errors.Is(err, ErrUnknownSimulation) {
		t.Errorf("CleanUp(bogus) = %v, want ErrUnknownSimulation", err)
	}
}

func TestCleanUpIsIdempotentAndBlocksFurtherLifecycle(t *testing.T) {
	reg := New(testCatalog())
	desc, err := reg.CreateSimulation("NullTransportFault")
	if err != nil {
		t.Fatalf("CreateSimulation() error: %v", err)
	}

	if err := reg.CleanUp(desc.ID); err != nil {
		t.Fatalf("first CleanUp() error: %v", err)
	}
	if err := reg.CleanUp(desc.ID); err != nil {
		t.Fatalf("second CleanUp() error: %v, want nil (idempotent)", err)
	}
	if err := reg.Enable(desc.ID); !errors.Is(err, faults.ErrDestroyed) {
		t.Errorf("Enable() after CleanUp = %v, want ErrDestroyed", err)
	}
}

func TestShutdownCleansUpEverySimulation(t *testing.T) {
	reg := New(testCatalog())
	first, err := reg.CreateSimulation("NullTransportFault")
	if err != nil {
		t.Fatalf("CreateSimulation() error: %v", err)
	}
	second, err := reg.CreateSimulation("NullApplicationLayerFault")
	if err != nil {
		t.Fatalf("CreateSimulation() error: %v", err)
	}

	reg.Shutdown()

	if err := reg.Enable(first.ID); !errors.Is(err, faults.ErrDestroyed) {
		t.Errorf("Enable(first) after Shutdown = %v, want ErrDestroyed", err)
	}
	if err := reg.Enable(second.ID); !errors.Is(err, faults.ErrDestroyed) {
		t.Errorf("Enable(second) after Shutdown = %v, want ErrDestroyed", err)
	}
}
