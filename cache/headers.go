package cache

import (
	"net/http"

	"google.golang.org/grpc/metadata"
)

const (
	// HeaderXCache is the legacy cache header, emitted only on hits and misses.
	HeaderXCache = "x-cache"
	// HeaderResultsCacheStatus reports cache participation; never emitted when
	// no cache is configured.
	HeaderResultsCacheStatus = "results-cache-status"

	xCacheHit  = "Hit from spiceai"
	xCacheMiss = "Miss from spiceai"
)

// AttachHeaders writes the cache response headers for the given status.
func AttachHeaders(h http.Header, status Status) {
	switch status {
	case StatusHit:
		h.Set(HeaderXCache, xCacheHit)
		h.Set(HeaderResultsCacheStatus, status.String())
	case StatusMiss:
		h.Set(HeaderXCache, xCacheMiss)
		h.Set(HeaderResultsCacheStatus, status.String())
	case StatusBypass:
		h.Set(HeaderResultsCacheStatus, status.String())
	case StatusDisabled:
		// no headers when no cache is configured
	}
}

// AttachFlightMetadata records the same cache headers on a Flight DoGet
// response's gRPC metadata.
func AttachFlightMetadata(md metadata.MD, status Status) {
	switch status {
	case StatusHit:
		md.Set(HeaderXCache, xCacheHit)
		md.Set(HeaderResultsCacheStatus, status.String())
	case StatusMiss:
		md.Set(HeaderXCache, xCacheMiss)
		md.Set(HeaderResultsCacheStatus, status.String())
	case StatusBypass:
		md.Set(HeaderResultsCacheStatus, status.String())
	case StatusDisabled:
	}
}
