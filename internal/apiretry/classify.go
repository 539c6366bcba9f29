package apiretry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the retry class of a failed outbound call.
type Kind int

const (
	// KindTransient covers timeouts, connection failures and 5xx responses.
	KindTransient Kind = iota
	// KindRateLimited is an explicit 429 from the provider.
	KindRateLimited
	// KindQuotaExhausted is a billing or quota failure. It will not clear in
	// seconds, so it gets at most one confirmation retry.
	KindQuotaExhausted
	// KindPermanent covers auth failures and malformed or unsupported
	// requests. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// statusError is implemented by provider error types that expose the HTTP
// status and the provider error code.
type statusError interface {
	HTTPStatus() int
	APICode() string
}

// Classify maps an outbound call error to its retry class.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var se statusError
	if errors.As(err, &se) {
		status := se.HTTPStatus()
		code := strings.ToLower(se.APICode())
		switch {
		case status == 402 || code == "insufficient_quota" || code == "billing_hard_limit_reached":
			return KindQuotaExhausted
		case status == 429:
			return KindRateLimited
		case status >= 500:
			return KindTransient
		case status == 408:
			return KindTransient
		case status >= 400:
			return KindPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}
