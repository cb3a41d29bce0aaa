package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyKeywordTable(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), Network},
		{errors.New("permission denied opening /etc/shadow"), Permission},
		{errors.New("failed to unmarshal response body"), Parsing},
		{errors.New("embedding model not found: text-embed-3"), Embedding},
		{errors.New("sqlite: database is locked"), Database},
		{errors.New("429 too many requests"), Embedding},
		{fmt.Errorf("wrapped: %w", ErrCircuitOpen), CircuitBreaker},
		{errors.New("something bizarre happened"), Unknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	for _, c := range []Category{Network, Embedding, Database} {
		if !IsRetryable(c) {
			t.Errorf("expected %s to be retryable", c)
		}
	}
	for _, c := range []Category{Permission, Parsing, CircuitBreaker, Unknown} {
		if IsRetryable(c) {
			t.Errorf("expected %s to be non-retryable", c)
		}
	}
}

func TestLogFullTraceSuppressedForNetworkAndCircuitBreaker(t *testing.T) {
	if LogFullTrace(Network) {
		t.Error("expected network trace to be suppressed")
	}
	if LogFullTrace(CircuitBreaker) {
		t.Error("expected circuit_breaker trace to be suppressed")
	}
	if !LogFullTrace(Database) {
		t.Error("expected database trace to be logged")
	}
}

func TestHandleSyncError(t *testing.T) {
	got := HandleSyncError(errors.New("connection refused"), "syncing project p1")
	if got.Category != Network {
		t.Errorf("expected network category, got %s", got.Category)
	}
	if !got.Retryable {
		t.Error("expected network error to be retryable")
	}
	if got.Context != "syncing project p1" {
		t.Errorf("unexpected context: %s", got.Context)
	}
}
