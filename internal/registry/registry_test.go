package registry

import (
	"errors"
	"net"
	"testing"
)

func testRegistry() *Registry {
	groups := map[string]uint8{"room1": 1, "room2": 2}
	images := map[string]bool{"base": true, "contest": true}
	return New(
		func(name string) (uint8, bool) { g, ok := groups[name]; return g, ok },
		func(name string) bool { return images[name] },
	)
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%s): %v", s, err)
	}
	return mac
}

func TestRegisterCreatesAndUpdatesUnit(t *testing.T) {
	r := testRegistry()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:01")
	if err := r.Register(mac, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "base"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, ok := r.GetUnit(mac)
	if !ok || u.Group != 1 || u.Row != 1 || u.Col != 1 || u.Image != "base" {
		t.Fatalf("unexpected unit after register: %+v ok=%v", u, ok)
	}

	if err := r.Register(mac, RegistrationInfo{Group: "room2", Row: 3, Col: 3, Image: "contest"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	u, _ = r.GetUnit(mac)
	if u.Group != 2 || u.Row != 3 || u.Col != 3 || u.Image != "contest" {
		t.Fatalf("expected re-register to update in place, got %+v", u)
	}
	if len(r.Select(SelectAll())) != 1 {
		t.Fatal("expected re-register not to create a second unit")
	}
}

func TestRegisterRejectsUnknownGroupAndImage(t *testing.T) {
	r := testRegistry()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:02")
	if err := r.Register(mac, RegistrationInfo{Group: "nope", Row: 1, Col: 1, Image: "base"}); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	if err := r.Register(mac, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "nope"}); !errors.Is(err, ErrUnknownImage) {
		t.Fatalf("expected ErrUnknownImage, got %v", err)
	}
}

func TestRegisterRejectsDuplicateCoordinates(t *testing.T) {
	r := testRegistry()
	mac1 := mustMAC(t, "aa:bb:cc:dd:ee:03")
	mac2 := mustMAC(t, "aa:bb:cc:dd:ee:04")
	if err := r.Register(mac1, RegistrationInfo{Group: "room1", Row: 2, Col: 2, Image: "base"}); err != nil {
		t.Fatalf("Register mac1: %v", err)
	}
	if err := r.Register(mac2, RegistrationInfo{Group: "room1", Row: 2, Col: 2, Image: "base"}); !errors.Is(err, ErrDuplicateCoordinates) {
		t.Fatalf("expected ErrDuplicateCoordinates, got %v", err)
	}
}

func TestGetActionPromotesTerminalOnly(t *testing.T) {
	r := testRegistry()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:05")
	if got := r.GetAction(mac); got != ActionRegister {
		t.Fatalf("expected ActionRegister for unknown unit, got %v", got)
	}

	if err := r.Register(mac, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "base"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.SetNextAction(SelectMAC(mac), ActionStore)

	got := r.GetAction(mac)
	if got != ActionStore {
		t.Fatalf("expected ActionStore promoted, got %v", got)
	}
	u, _ := r.GetUnit(mac)
	if u.CurrAction == nil || *u.CurrAction != ActionStore || u.NextAction != ActionWait {
		t.Fatalf("expected curr_action promoted and next_action reset, got %+v", u)
	}

	// Polling again while the terminal action is in flight returns the
	// same action without re-promoting.
	if got := r.GetAction(mac); got != ActionStore {
		t.Fatalf("expected GetAction to keep returning in-flight action, got %v", got)
	}
}

func TestGetActionTransientNeverPromotes(t *testing.T) {
	r := testRegistry()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:06")
	if err := r.Register(mac, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "base"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.SetNextAction(SelectMAC(mac), ActionReboot)

	if got := r.GetAction(mac); got != ActionReboot {
		t.Fatalf("expected ActionReboot, got %v", got)
	}
	u, _ := r.GetUnit(mac)
	if u.CurrAction != nil {
		t.Fatalf("transient actions must never populate curr_action, got %+v", u.CurrAction)
	}
}

func TestCompleteActionClearsState(t *testing.T) {
	r := testRegistry()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:07")
	if err := r.Register(mac, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "base"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.SetNextAction(SelectMAC(mac), ActionFlash)
	r.GetAction(mac)
	r.SetProgress(SelectMAC(mac), 5, 10)

	if n := r.CompleteAction(SelectMAC(mac)); n != 1 {
		t.Fatalf("expected 1 unit updated, got %d", n)
	}
	u, _ := r.GetUnit(mac)
	if u.CurrAction != nil || u.CurrProgress != nil {
		t.Fatalf("expected curr_action/curr_progress cleared, got %+v", u)
	}
}

func TestForgetRemovesSelectedUnits(t *testing.T) {
	r := testRegistry()
	mac1 := mustMAC(t, "aa:bb:cc:dd:ee:08")
	mac2 := mustMAC(t, "aa:bb:cc:dd:ee:09")
	r.Register(mac1, RegistrationInfo{Group: "room1", Row: 1, Col: 1, Image: "base"})
	r.Register(mac2, RegistrationInfo{Group: "room2", Row: 1, Col: 1, Image: "base"})

	if n := r.Forget(SelectGroup(1)); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok := r.GetUnit(mac1); ok {
		t.Fatal("expected mac1 forgotten")
	}
	if _, ok := r.GetUnit(mac2); !ok {
		t.Fatal("expected mac2 to remain")
	}
}

func TestStaticIPDerivation(t *testing.T) {
	u := Unit{Group: 3, Row: 4, Col: 5}
	if got := u.StaticIP().String(); got != "10.3.4.5" {
		t.Fatalf("unexpected static ip: %s", got)
	}
}
