package registry

import (
	"errors"
	"testing"
)

type fakeComponent struct {
	name   string
	events *[]string
	failOn string
}

func (f *fakeComponent) Initialize() error { return f.record("initialize") }
func (f *fakeComponent) Activate() error   { return f.record("activate") }
func (f *fakeComponent) Deactivate() error { return f.record("deactivate") }
func (f *fakeComponent) Destroy() error    { return f.record("destroy") }

func (f *fakeComponent) record(step string) error {
	*f.events = append(*f.events, f.name+":"+step)
	if f.failOn == step {
		return errors.New("boom")
	}
	return nil
}

func TestLifecycleOrder(t *testing.T) {
	var events []string
	r := New()
	for _, name := range []string{"config", "ingest", "relay"} {
		name := name
		err := r.Register(name, func() (Component, error) {
			return &fakeComponent{name: name, events: &events}, nil
		}, nil, nil)
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := r.InitializeAll(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := r.ActivateAll(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	errs := r.DeactivateAll()
	if len(errs) != 0 {
		t.Fatalf("deactivate errors: %v", errs)
	}
	errs = r.DestroyAll()
	if len(errs) != 0 {
		t.Fatalf("destroy errors: %v", errs)
	}

	want := []string{
		"config:initialize", "ingest:initialize", "relay:initialize",
		"config:activate", "ingest:activate", "relay:activate",
		"relay:deactivate", "ingest:deactivate", "config:deactivate",
		"relay:destroy", "ingest:destroy", "config:destroy",
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (full: %v)", i, events[i], want[i], events)
		}
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New()
	factory := func() (Component, error) { return &fakeComponent{name: "a", events: &[]string{}}, nil }
	if err := r.Register("a", factory, nil, nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("a", factory, nil, nil); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestResolveAllReturnsRegistrationOrder(t *testing.T) {
	r := New()
	var built []string
	for _, name := range []string{"twitch", "youtube"} {
		name := name
		err := r.Register(name, func() (Component, error) {
			built = append(built, name)
			return &fakeComponent{name: name, events: &[]string{}}, nil
		}, nil, []string{"destinationDriver"})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	components, err := r.ResolveAll("destinationDriver")
	if err != nil {
		t.Fatalf("resolveAll: %v", err)
	}
	if len(components) != 2 {
		t.Fatalf("got %d components, want 2", len(components))
	}
	if built[0] != "twitch" || built[1] != "youtube" {
		t.Fatalf("built order = %v, want [twitch youtube]", built)
	}
}

func TestAbortedActivationMarksError(t *testing.T) {
	var events []string
	r := New()
	if err := r.Register("good", func() (Component, error) {
		return &fakeComponent{name: "good", events: &events}, nil
	}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("bad", func() (Component, error) {
		return &fakeComponent{name: "bad", events: &events, failOn: "activate"}, nil
	}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("never", func() (Component, error) {
		return &fakeComponent{name: "never", events: &events}, nil
	}, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := r.InitializeAll(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := r.ActivateAll(); err == nil {
		t.Fatal("expected activation to abort")
	}

	state, _ := r.StateOf("bad")
	if state != ErrorState {
		t.Fatalf("bad component state = %v, want ErrorState", state)
	}
	for _, e := range events {
		if e == "never:activate" {
			t.Fatal("component after the failing one should not have been activated")
		}
	}
}
