package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsNestedPeaceError(t *testing.T) {
	inner := New("engine.Put", KindConflict, ErrRevConflict)
	outer := fmt.Errorf("request failed: %w", inner)

	kind, ok := KindOf(outer)
	if !ok || kind != KindConflict {
		t.Fatalf("expected conflict kind through wrapping, got %v ok=%v", kind, ok)
	}
	if !errors.Is(outer, ErrRevConflict) {
		t.Fatalf("expected sentinel identity to survive wrapping")
	}
}

func TestClassifierMapsKindsToCategories(t *testing.T) {
	c := NewClassifier()

	if got := c.Classify(New("x", KindTransport, nil)); got != ErrorNetwork {
		t.Fatalf("expected transport to classify as network, got %v", got)
	}
	if got := c.Classify(New("x", KindConflict, nil)); got != ErrorPermanent {
		t.Fatalf("expected conflict to classify as permanent, got %v", got)
	}
	if got := c.Classify(New("x", KindQuorumUnavailable, nil)); got != ErrorTransient {
		t.Fatalf("expected quorum-unavailable to classify as transient, got %v", got)
	}
	if c.ShouldRetry(c.Classify(New("x", KindValidation, nil))) {
		t.Fatalf("validation errors must not be retried")
	}
}

func TestRetryDoStopsOnPermanentError(t *testing.T) {
	rc := NewRetryController()
	calls := 0
	err := rc.Do(context.Background(), func() error {
		calls++
		return New("x", KindConflict, ErrRevConflict)
	})
	if err == nil {
		t.Fatalf("expected the conflict to surface")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a permanent error, got %d", calls)
	}
}

func TestRetryDoRetriesTransientUntilSuccess(t *testing.T) {
	rc := NewRetryController()
	calls := 0
	err := rc.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return New("x", KindTransport, fmt.Errorf("connection refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestTrackerCountsAndRetainsCriticalAlerts(t *testing.T) {
	tr := NewErrorTracker()
	tr.Record(fmt.Errorf("disk io"), ErrorCritical)
	tr.Record(fmt.Errorf("timeout"), ErrorNetwork)
	tr.Record(fmt.Errorf("timeout"), ErrorNetwork)

	if got := tr.Count(ErrorNetwork); got != 2 {
		t.Fatalf("expected 2 network errors, got %d", got)
	}
	alerts := tr.CriticalAlerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 critical alert, got %d", len(alerts))
	}
	tr.Reset()
	if tr.Count(ErrorNetwork) != 0 || len(tr.CriticalAlerts()) != 0 {
		t.Fatalf("expected reset to clear everything")
	}
}
