package shm

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	a, err := Create(4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer a.Close()

	a.Set(0, 1234)
	a.Set(3, 5678)

	if got := a.Get(0); got != 1234 {
		t.Errorf("Get(0) = %d, want 1234", got)
	}
	if got := a.Get(3); got != 5678 {
		t.Errorf("Get(3) = %d, want 5678", got)
	}
	if got := a.Get(1); got != 0 {
		t.Errorf("Get(1) = %d, want 0 (never set)", got)
	}
}

func TestOpenSharesCreatesMapping(t *testing.T) {
	a, err := Create(2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer a.Close()
	a.Set(0, 42)

	b, err := Open(a.FD(), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if got := b.Get(0); got != 42 {
		t.Errorf("Get(0) via second mapping = %d, want 42", got)
	}

	b.Set(1, 99)
	if got := a.Get(1); got != 99 {
		t.Errorf("write through second mapping not visible in first: got %d, want 99", got)
	}
}

func TestKillAllToleratesDeadPIDs(t *testing.T) {
	a, err := Create(3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer a.Close()

	// A PID essentially guaranteed not to correspond to a live process.
	a.Set(0, 1<<30)
	a.Set(1, 0) // unset slot, must be skipped
	a.KillAll()
}

func TestLen(t *testing.T) {
	a, err := Create(7)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer a.Close()
	if a.Len() != 7 {
		t.Errorf("Len() = %d, want 7", a.Len())
	}
}
