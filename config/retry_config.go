package config

import (
	"strconv"
	"time"
)

type RetryConfig interface {
	GetMaxAttempts() int
	GetBaseDelay() time.Duration
	GetRequestTimeout() time.Duration
	GetLedgerTTL() time.Duration
}

type Retry struct {
	o *overrides
}

var _ RetryConfig = Retry{}

// GetMaxAttempts is the total number of tries a retryable request gets on 5xx.
func (r Retry) GetMaxAttempts() int {
	return intValue(r.o.lookup("RETRY_MAX_ATTEMPTS", ""), 3)
}

// GetBaseDelay is the backoff unit; the wait before retry n is 2^n units.
func (r Retry) GetBaseDelay() time.Duration {
	return durationValue(r.o.lookup("RETRY_BASE_DELAY", ""), 250*time.Millisecond)
}

func (r Retry) GetRequestTimeout() time.Duration {
	return durationValue(r.o.lookup("REQUEST_TIMEOUT", ""), 15*time.Second)
}

// GetLedgerTTL bounds how long an abandoned retry ledger entry is kept.
func (r Retry) GetLedgerTTL() time.Duration {
	return durationValue(r.o.lookup("RETRY_LEDGER_TTL", ""), time.Minute)
}

func intValue(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func durationValue(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
