package errs

import (
	"errors"
	"testing"
)

func TestIsRetryableOnlyRateLimited(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{RateLimited("429", nil, "slow down"), true},
		{APIError("500", nil, "server error"), false},
		{Cancelled(nil, "stopped"), false},
		{ParseFailure(nil, "bad json"), false},
		{PersistenceError(nil, "disk full"), false},
	}
	for _, c := range cases {
		if got := c.err.IsRetryable(); got != c.want {
			t.Errorf("%v.IsRetryable() = %v, want %v", c.err.Kind, got, c.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := APIError("500", cause, "upstream failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestIsKind(t *testing.T) {
	wrapped := fmtWrap(RateLimited("429", nil, "retry later"))
	if !Is(wrapped, KindRateLimited) {
		t.Errorf("expected Is to find KindRateLimited through wrapping")
	}
	if Is(wrapped, KindAPIError) {
		t.Errorf("did not expect KindAPIError match")
	}
}

type wrapper struct {
	err error
}

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func fmtWrap(err error) error {
	return &wrapper{err: err}
}
