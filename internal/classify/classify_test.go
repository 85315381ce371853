package classify

import (
	"context"
	"errors"
	"testing"
)

func TestClassify_PatternMatching(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"insufficient funds", errors.New("insufficient funds for order"), KindInsufficientFunds},
		{"invalid symbol", errors.New("invalid symbol: ZZZZ"), KindInvalidSymbol},
		{"market closed", errors.New("market is closed"), KindMarketClosed},
		{"rate limited", errors.New("429 too many requests"), KindRateLimited},
		{"network", errors.New("dial tcp: ECONNREFUSED"), KindNetworkError},
		{"timeout", errors.New("request timed out"), KindTimeout},
		{"not found", errors.New("order not found"), KindNotFound},
		{"rejected", errors.New("order rejected by exchange"), KindBrokerRejection},
		{"unknown", errors.New("something bizarre happened"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err, nil)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%q) kind = %s, want %s", tc.err, got.Kind, tc.want)
			}
		})
	}
}

func TestClassify_NilIsTotal(t *testing.T) {
	got := Classify(nil, nil)
	if got.Kind != KindUnknown {
		t.Fatalf("Classify(nil) = %s, want UNKNOWN", got.Kind)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("rate limit exceeded")
	a := Classify(err, nil)
	b := Classify(err, nil)
	if a != b {
		t.Fatalf("Classify is not deterministic: %+v != %+v", a, b)
	}
}

func TestClassify_StatusCodeTakesPrecedence(t *testing.T) {
	code := 503
	got := Classify(errors.New("generic failure"), &code)
	if got.Kind != KindNetworkError {
		t.Fatalf("status 503 classified as %s, want NETWORK_ERROR", got.Kind)
	}
}

func TestClassify_StatusCode429(t *testing.T) {
	code := 429
	got := Classify(errors.New("throttled"), &code)
	if got.Kind != KindRateLimited || !got.Retryable {
		t.Fatalf("status 429 = %+v, want retryable RATE_LIMITED", got)
	}
}

func TestClassify_PermanentTakesPrecedenceOverTransient(t *testing.T) {
	// message contains both a transient-looking and permanent-looking cue;
	// permanent patterns are checked first.
	got := Classify(errors.New("insufficient funds, network error while retrying"), nil)
	if got.Kind != KindInsufficientFunds {
		t.Fatalf("got %s, want permanent INSUFFICIENT_FUNDS to win", got.Kind)
	}
}

func TestClassify_ContextDeadlineExceeded(t *testing.T) {
	err := errors.New("wrapped: " + context.DeadlineExceeded.Error())
	got := Classify(context.DeadlineExceeded, nil)
	if got.Kind != KindTimeout {
		t.Fatalf("context.DeadlineExceeded classified as %s, want TIMEOUT", got.Kind)
	}
	_ = err
}

func TestClassify_EveryKindHasPolicy(t *testing.T) {
	kinds := []Kind{
		KindInsufficientFunds, KindInvalidSymbol, KindMarketClosed, KindRateLimited,
		KindNetworkError, KindTimeout, KindBrokerRejection, KindNotFound,
		KindValidationError, KindUnknown,
	}
	for _, k := range kinds {
		if _, ok := policies[k]; !ok {
			t.Fatalf("kind %s has no policy", k)
		}
	}
}
