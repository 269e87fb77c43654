// Package request carries per-request ambient state: the protocol a request
// arrived on, the authenticated principal, cache-control mode and telemetry
// dimensions. The context is attached to a context.Context at the protocol
// edge and is recoverable from any goroutine the request spawns, as long as
// the stdlib context is propagated.
package request

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Protocol identifies the wire protocol a request arrived on.
type Protocol int32

const (
	// ProtocolInternal marks work done outside the scope of a client request.
	ProtocolInternal Protocol = iota
	ProtocolHTTP
	ProtocolFlightSQL
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolFlightSQL:
		return "flightsql"
	default:
		return "internal"
	}
}

// Principal is the authenticated identity carried by a request.
type Principal struct {
	Username string
	Groups   []string
}

// HasGroup reports whether the principal belongs to the given group.
func (p Principal) HasGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Context is the per-request envelope. It is immutable after construction
// except for the protocol, which may be promoted (e.g. when a generic HTTP
// wrapper recognizes it is serving a FlightSQL request) and the principal,
// which is set once by the auth layer.
type Context struct {
	protocol     atomic.Int32
	cacheControl CacheControl
	userAgent    string
	span         trace.Span

	principalOnce sync.Once
	principal     *Principal
}

// Builder constructs a request Context.
type Builder struct {
	ctx *Context
}

// NewBuilder starts building a request context for the given protocol.
func NewBuilder(protocol Protocol) *Builder {
	rc := &Context{}
	rc.protocol.Store(int32(protocol))
	return &Builder{ctx: rc}
}

// WithCacheControl sets the cache-control mode.
func (b *Builder) WithCacheControl(cc CacheControl) *Builder {
	b.ctx.cacheControl = cc
	return b
}

// WithUserAgent sets the client user agent.
func (b *Builder) WithUserAgent(ua string) *Builder {
	b.ctx.userAgent = ua
	return b
}

// WithSpan attaches the request's tracing span.
func (b *Builder) WithSpan(span trace.Span) *Builder {
	b.ctx.span = span
	return b
}

// Build returns the constructed context.
func (b *Builder) Build() *Context {
	return b.ctx
}

// Protocol returns the protocol the request arrived on.
func (c *Context) Protocol() Protocol {
	return Protocol(c.protocol.Load())
}

// UpdateProtocol promotes the protocol of an in-flight request.
func (c *Context) UpdateProtocol(p Protocol) {
	c.protocol.Store(int32(p))
}

// CacheControl returns the cache-control mode for the request.
func (c *Context) CacheControl() CacheControl {
	return c.cacheControl
}

// UserAgent returns the client user agent, if any.
func (c *Context) UserAgent() string {
	return c.userAgent
}

// Span returns the request's tracing span, if one was attached.
func (c *Context) Span() trace.Span {
	return c.span
}

// SetPrincipal records the authenticated principal. Only the first call has
// any effect; the principal does not change for the life of the request.
func (c *Context) SetPrincipal(p Principal) {
	c.principalOnce.Do(func() {
		c.principal = &p
	})
}

// Principal returns the authenticated principal, or nil for anonymous or
// internal requests.
func (c *Context) Principal() *Principal {
	return c.principal
}

// Dimensions returns the telemetry attributes for the request, suitable for
// span and metric labelling.
func (c *Context) Dimensions() []attribute.KeyValue {
	dims := []attribute.KeyValue{
		attribute.String("protocol", c.Protocol().String()),
	}
	if c.userAgent != "" {
		dims = append(dims, attribute.String("user_agent", c.userAgent))
	}
	if p := c.Principal(); p != nil {
		dims = append(dims, attribute.String("user", p.Username))
	}
	return dims
}

type contextKey struct{}

// internalContext is returned by FromContext outside the scope of a request.
var internalContext = NewBuilder(ProtocolInternal).Build()

// NewContext returns a context.Context carrying the request context.
func NewContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request context attached to ctx, or the shared
// internal context when called outside of a request.
func FromContext(ctx context.Context) *Context {
	if rc, ok := ctx.Value(contextKey{}).(*Context); ok {
		return rc
	}
	return internalContext
}
