// Package classify maps raw broker/transport errors to a typed kind and a
// retry/recovery policy (spec §4.2).
package classify

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Kind is the classifier's output taxonomy.
type Kind string

const (
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindInvalidSymbol     Kind = "INVALID_SYMBOL"
	KindMarketClosed      Kind = "MARKET_CLOSED"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindNetworkError      Kind = "NETWORK_ERROR"
	KindTimeout           Kind = "TIMEOUT"
	KindBrokerRejection   Kind = "BROKER_REJECTION"
	KindNotFound          Kind = "POSITION_ORDER_NOT_FOUND"
	KindValidationError   Kind = "VALIDATION_ERROR"
	KindUnknown           Kind = "UNKNOWN"
)

// RecoveryStrategy is the post-failure action chosen for a Kind.
type RecoveryStrategy string

const (
	RecoveryNone               RecoveryStrategy = "NONE"
	RecoveryManualIntervention RecoveryStrategy = "MANUAL_INTERVENTION"
	RecoveryAdjustAndRetry     RecoveryStrategy = "ADJUST_AND_RETRY"
	RecoveryWaitForMarketOpen  RecoveryStrategy = "WAIT_FOR_MARKET_OPEN"
	RecoveryRetryWithBackoff   RecoveryStrategy = "RETRY_WITH_BACKOFF"
	RecoveryCheckAndSync       RecoveryStrategy = "CHECK_AND_SYNC"
)

// Classification is the total result of classifying an error.
type Classification struct {
	Kind             Kind
	Retryable        bool
	SuggestedDelayMs int
	Recovery         RecoveryStrategy
}

var policies = map[Kind]Classification{
	KindInsufficientFunds: {KindInsufficientFunds, false, 0, RecoveryAdjustAndRetry},
	KindInvalidSymbol:     {KindInvalidSymbol, false, 0, RecoveryManualIntervention},
	KindMarketClosed:      {KindMarketClosed, true, 60_000, RecoveryWaitForMarketOpen},
	KindRateLimited:       {KindRateLimited, true, 5_000, RecoveryRetryWithBackoff},
	KindNetworkError:      {KindNetworkError, true, 2_000, RecoveryRetryWithBackoff},
	KindTimeout:           {KindTimeout, true, 1_000, RecoveryCheckAndSync},
	KindBrokerRejection:   {KindBrokerRejection, false, 0, RecoveryAdjustAndRetry},
	KindNotFound:          {KindNotFound, false, 0, RecoveryCheckAndSync},
	KindValidationError:   {KindValidationError, false, 0, RecoveryNone},
	KindUnknown:           {KindUnknown, true, 3_000, RecoveryRetryWithBackoff},
}

// permanentPatterns take precedence over transientPatterns: a message
// matching both is classified permanent. Order matters only within a slice;
// the first match wins.
var permanentPatterns = []struct {
	kind     Kind
	needles  []string
}{
	{KindInsufficientFunds, []string{"insufficient funds", "insufficient_funds", "insufficient buying power"}},
	{KindInvalidSymbol, []string{"invalid symbol", "invalid_symbol", "unknown symbol", "asset not found"}},
	{KindNotFound, []string{"order not found", "position not found", "order_not_found", "404"}},
	{KindValidationError, []string{"validation_error", "invalid request", "invalid parameter"}},
	{KindBrokerRejection, []string{"rejected", "broker_rejection"}},
}

var transientPatterns = []struct {
	kind    Kind
	needles []string
}{
	{KindMarketClosed, []string{"market closed", "market_closed", "market is closed"}},
	{KindRateLimited, []string{"rate limit", "rate_limited", "too many requests", "429"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded", "context deadline exceeded"}},
	{KindNetworkError, []string{"econnrefused", "connection refused", "connection reset", "network error", "no such host", "eof"}},
}

// Classify is pure and total: every input, including nil, returns a
// deterministic Classification. statusCode, when non-nil, is consulted
// before message patterns (spec §9 open question resolution: structured
// access wins when available).
func Classify(err error, statusCode *int) Classification {
	if err == nil {
		return policies[KindUnknown]
	}

	msg := strings.ToLower(err.Error())

	if statusCode != nil {
		if k, ok := classifyStatusCode(*statusCode); ok {
			return policies[k]
		}
	}

	if code, ok := extractStatusCode(msg); ok {
		if k, ok := classifyStatusCode(code); ok {
			return policies[k]
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return policies[KindTimeout]
	}

	for _, p := range permanentPatterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return policies[p.kind]
			}
		}
	}

	for _, p := range transientPatterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return policies[p.kind]
			}
		}
	}

	return policies[KindUnknown]
}

// classifyStatusCode maps an HTTP-ish status code to a Kind. 4xx except
// 408/429 are permanent rejections; 408/429 and 5xx are transient.
func classifyStatusCode(code int) (Kind, bool) {
	switch {
	case code == 408:
		return KindTimeout, true
	case code == 429:
		return KindRateLimited, true
	case code == 404:
		return KindNotFound, true
	case code == 422:
		return KindValidationError, true
	case code >= 400 && code < 500:
		return KindBrokerRejection, true
	case code >= 500 && code < 600:
		return KindNetworkError, true
	default:
		return "", false
	}
}

func extractStatusCode(msg string) (int, bool) {
	idx := strings.Index(msg, "status ")
	if idx < 0 {
		idx = strings.Index(msg, "code ")
		if idx < 0 {
			return 0, false
		}
		idx += len("code ")
	} else {
		idx += len("status ")
	}
	end := idx
	for end < len(msg) && msg[end] >= '0' && msg[end] <= '9' {
		end++
	}
	if end == idx {
		return 0, false
	}
	n, err := strconv.Atoi(msg[idx:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
