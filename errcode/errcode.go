// Package errcode defines the stable error kinds surfaced at component
// boundaries. Errors are built with samber/oops so each carries a short kind
// and a human-readable detail; wire layers translate kinds to their status
// form. Stack traces never leave the process.
package errcode

import (
	"errors"
	"net/http"

	"github.com/samber/oops"
	"google.golang.org/grpc/codes"
)

const (
	NotReady          = "not_ready"
	NotFound          = "not_found"
	InvalidArgument   = "invalid_argument"
	AuthDenied        = "auth_denied"
	RateLimited       = "rate_limited"
	UpstreamFailure   = "upstream_failure"
	InternalParsing   = "internal_parsing"
	Cancelled         = "cancelled"
	Timeout           = "timeout"
	HealthCheckFailed = "health_check_failed"
)

// Code extracts the error kind from an error, or empty when the error does
// not carry one.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var o oops.OopsError
	if errors.As(err, &o) {
		code, _ := o.Code().(string)
		return code
	}
	return ""
}

// HTTPStatus maps an error kind to its HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case NotReady:
		return http.StatusServiceUnavailable
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case AuthDenied:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case Cancelled:
		return 499 // client closed request
	case Timeout:
		return http.StatusGatewayTimeout
	case UpstreamFailure, InternalParsing, HealthCheckFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus maps an error kind to its gRPC status code.
func GRPCStatus(code string) codes.Code {
	switch code {
	case NotReady:
		return codes.Unavailable
	case NotFound:
		return codes.NotFound
	case InvalidArgument:
		return codes.InvalidArgument
	case AuthDenied:
		return codes.Unauthenticated
	case RateLimited:
		return codes.ResourceExhausted
	case Cancelled:
		return codes.Canceled
	case Timeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
