package domain

import (
	"testing"
	"time"
)

func TestJoinSplitTypeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		target string
		action string
	}{
		{"job", "confirmed"},
		{"message", "created"},
		{"quote", "declined"},
	}
	for _, tc := range cases {
		joined := JoinType(tc.target, tc.action)
		target, action, err := SplitType(joined)
		if err != nil {
			t.Fatalf("split %q: %v", joined, err)
		}
		if target != tc.target || action != tc.action {
			t.Fatalf("round trip %q: got (%q, %q)", joined, target, action)
		}
	}
}

func TestSplitTypeCutsOnFirstColon(t *testing.T) {
	t.Parallel()

	target, action, err := SplitType("state:foo:bar")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if target != "state" {
		t.Fatalf("expected target state, got %q", target)
	}
	if action != "foo:bar" {
		t.Fatalf("expected action foo:bar, got %q", action)
	}
}

func TestSplitTypeRejectsMalformedValues(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"", "nocolon", ":action", "target:"} {
		if _, _, err := SplitType(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestEventSetTypeOverwritesBothTokens(t *testing.T) {
	t.Parallel()

	event := &Event{Target: "job", Action: "created"}
	if err := event.SetType("quote:confirmed"); err != nil {
		t.Fatalf("set type: %v", err)
	}
	if event.Target != "quote" || event.Action != "confirmed" {
		t.Fatalf("expected quote/confirmed, got %s/%s", event.Target, event.Action)
	}
	if event.Type() != "quote:confirmed" {
		t.Fatalf("expected type round trip, got %q", event.Type())
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	first, err := registry.Register("job")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := registry.Register("job")
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same family, got %+v and %+v", first, second)
	}
	if kinds := registry.Kinds(); len(kinds) != 1 {
		t.Fatalf("expected one registered kind, got %v", kinds)
	}
}

func TestRegistryRejectsEmptyKind(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if _, err := registry.Register("  "); err == nil {
		t.Fatal("expected empty kind error")
	}
	if registry.Registered("") {
		t.Fatal("empty kind must not be registered")
	}
}

func TestResourceSatisfiesKindAndGenericCapabilities(t *testing.T) {
	t.Parallel()

	resource := &Resource{Kind: "job", ID: 7}
	capabilities := resource.Capabilities()
	if len(capabilities) != 2 {
		t.Fatalf("expected two capabilities, got %v", capabilities)
	}
	if capabilities[0] != Capability("job") || capabilities[1] != CapabilityResource {
		t.Fatalf("unexpected capabilities %v", capabilities)
	}

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	resource.Touch(now)
	if !resource.ModifiedAt.Equal(now) {
		t.Fatalf("expected touch to set modified, got %v", resource.ModifiedAt)
	}
}
