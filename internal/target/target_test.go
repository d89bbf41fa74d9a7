package target_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/overbench/overbench/internal/target"
)

func TestResolveReference(t *testing.T) {
	ep, err := target.Resolve("reference")
	if err != nil {
		t.Fatalf("Resolve(reference) error = %v", err)
	}
	if ep.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", ep.Host)
	}
	if ep.Port != 9008 {
		t.Errorf("Port = %d, want 9008", ep.Port)
	}
	if ep.Addr() != "127.0.0.1:9008" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9008", ep.Addr())
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, name := range []string{"", "refrence", "Reference", "reference "} {
		_, err := target.Resolve(name)
		if err == nil {
			t.Fatalf("Resolve(%q) = nil error, want UnknownTargetError", name)
		}
		var unknown *target.UnknownTargetError
		if !errors.As(err, &unknown) {
			t.Fatalf("Resolve(%q) error = %T, want *UnknownTargetError", name, err)
		}
		if unknown.Name != name {
			t.Errorf("UnknownTargetError.Name = %q, want %q", unknown.Name, name)
		}
		if !strings.Contains(err.Error(), fmt.Sprintf("%q", name)) {
			t.Errorf("error %q does not name the offending value %q", err.Error(), name)
		}
	}
}

func TestKnownIsClosed(t *testing.T) {
	known := target.Known()
	if len(known) != 1 || known[0] != "reference" {
		t.Errorf("Known() = %v, want [reference]", known)
	}
}

func TestProxyEndpoint(t *testing.T) {
	if got := target.ProxyEndpoint.Addr(); got != "127.0.0.1:9150" {
		t.Errorf("ProxyEndpoint = %q, want 127.0.0.1:9150", got)
	}
}
