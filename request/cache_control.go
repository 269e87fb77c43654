package request

import "net/http"

// CacheControl determines whether the results cache is consulted for a request.
type CacheControl int

const (
	// CacheControlCache is the default: the results cache is consulted.
	CacheControlCache CacheControl = iota
	// CacheControlNoCache skips the cache lookup; results may still be stored.
	CacheControlNoCache
)

func (c CacheControl) String() string {
	if c == CacheControlNoCache {
		return "no-cache"
	}
	return "cache"
}

// CacheControlFromHeaders derives the cache control mode from the HTTP
// Cache-Control header. Only the exact value "no-cache" opts out; any other
// value or a missing header defaults to caching.
func CacheControlFromHeaders(headers http.Header) CacheControl {
	if headers.Get("Cache-Control") == "no-cache" {
		return CacheControlNoCache
	}
	return CacheControlCache
}
