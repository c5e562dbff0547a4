package trigger

import "testing"

func TestRegisterAttachScriptFor(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("stop-always", "continue_silently = False"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(1, "stop-always"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s, ok := r.ScriptFor(1)
	if !ok || s.Name != "stop-always" {
		t.Fatalf("got %+v, %v", s, ok)
	}
}

func TestAttachUnknownScript(t *testing.T) {
	r := NewRegistry()
	if err := r.Attach(1, "nope"); err == nil {
		t.Fatal("expected an error attaching an unregistered script name")
	}
}

func TestRegisterSyntaxError(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("broken", "this is not starlark ("); err == nil {
		t.Fatal("expected an error registering malformed starlark source")
	}
}

func TestDetachRemovesAttachment(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("noop", "pass"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(5, "noop"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	r.Detach(5)
	if _, ok := r.ScriptFor(5); ok {
		t.Fatal("expected no script attached after Detach")
	}
}

func TestFireNoScriptAttached(t *testing.T) {
	r := NewRegistry()
	cont, err := r.Fire(Event{Number: 99})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if cont {
		t.Fatal("expected continueTransparently false with nothing attached")
	}
}

func TestFireReturnsContinueSilently(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("silent", "continue_silently = True"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(2, "silent"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	cont, err := r.Fire(Event{Number: 2, PC: 0x1000, ThreadNum: 1})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if !cont {
		t.Fatal("expected continueTransparently true")
	}
}

func TestFireWithoutContinueSilentlyDefaultsFalse(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("log-only", "x = 1 + 1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(3, "log-only"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	cont, err := r.Fire(Event{Number: 3})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if cont {
		t.Fatal("expected continueTransparently false when the script never sets continue_silently")
	}
}

func TestFireRejectsNonBoolContinueSilently(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("bad-type", "continue_silently = 1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(4, "bad-type"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := r.Fire(Event{Number: 4}); err == nil {
		t.Fatal("expected an error when continue_silently is not a bool")
	}
}
