package messagequeue

import (
	"errors"
	"testing"
	"time"
)

func TestRetryErrorUnwrap(t *testing.T) {
	cause := errors.New("provider timeout")
	err := error(&RetryError{After: 5 * time.Second, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("expected RetryError to unwrap to its cause")
	}

	var retry *RetryError
	if !errors.As(err, &retry) {
		t.Fatal("expected errors.As to match *RetryError")
	}
	if retry.After != 5*time.Second {
		t.Errorf("After = %v, want 5s", retry.After)
	}
}
