package sirperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(KindFatal, "inspector", nil); err != nil {
		t.Fatalf("expected Wrap(nil) to return nil, got %v", err)
	}
}

func TestWrapPreservesOriginalMessage(t *testing.T) {
	orig := errors.New("upstream exploded")
	err := Wrap(KindUpstreamTransient, "agentgw", orig)
	if err == nil {
		t.Fatalf("expected non-nil error")
	}
	if !errors.Is(err, orig) {
		t.Fatalf("expected Unwrap chain to reach the original error")
	}
	if got := err.Error(); got != "agentgw: upstream_transient: upstream exploded" {
		t.Fatalf("unexpected error text: %q", got)
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	orig := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Fatal("validator", orig))

	se, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to find the component error through fmt.Errorf wrapping")
	}
	if se.Kind != KindFatal || se.Component != "validator" {
		t.Fatalf("unexpected component error: %+v", se)
	}
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("expected As to return false for a plain error")
	}
}

func TestKindConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"Transient", Transient("c2", errors.New("throttled")), KindUpstreamTransient},
		{"DeploymentFailed", DeploymentFailed("c8", errors.New("apply failed")), KindDeploymentFailed},
		{"SessionNotFound", SessionNotFound("api", errors.New("no row")), KindSessionNotFound},
	}
	for _, tc := range cases {
		se, ok := As(tc.err)
		if !ok {
			t.Fatalf("%s: expected a component error", tc.name)
		}
		if se.Kind != tc.kind {
			t.Errorf("%s: expected kind %v, got %v", tc.name, tc.kind, se.Kind)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindFatal.String() != "fatal" {
		t.Errorf("unexpected String() for KindFatal: %q", KindFatal.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("expected unrecognized kind to stringify as unknown")
	}
}
