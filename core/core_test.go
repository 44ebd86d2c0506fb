package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mnemohq/mnemo-go-sdk/core"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, c := range cases {
		if got := core.EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")
	te := &core.TransientError{Op: "store query", Err: base}

	if !core.IsTransient(te) {
		t.Error("direct TransientError not detected")
	}
	if !core.IsTransient(fmt.Errorf("outer: %w", te)) {
		t.Error("wrapped TransientError not detected")
	}
	if !errors.Is(te, base) {
		t.Error("TransientError should unwrap to its cause")
	}
	if core.IsTransient(base) {
		t.Error("plain error misclassified as transient")
	}
	if core.IsTransient(&core.ValidationError{Field: "userID", Reason: "empty"}) {
		t.Error("validation error misclassified as transient")
	}
}

func TestSentinelsDistinct(t *testing.T) {
	if errors.Is(core.ErrExpired, core.ErrNotFound) {
		t.Error("ErrExpired must be distinguishable from ErrNotFound")
	}
}
