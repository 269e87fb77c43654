// Package auth verifies request credentials and enforces write-side
// rate limits. Verified identities are expressed as request principals
// so downstream code and telemetry see one identity type regardless of
// how the caller authenticated.
package auth

import (
	"net/http"
	"strings"

	"github.com/samber/oops"
	"google.golang.org/grpc/metadata"

	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/request"
)

// Group names granted to authenticated principals.
const (
	GroupRead      = "read"
	GroupReadWrite = "read_write"
)

// HeaderAPIKey carries API-key credentials on HTTP requests.
const HeaderAPIKey = "X-API-Key"

var (
	// ErrMissingCredentials is returned when a request carries no usable credential.
	ErrMissingCredentials = oops.Code(errcode.AuthDenied).Errorf("missing credentials")

	// ErrInvalidCredentials is returned when a credential is present but not recognized.
	ErrInvalidCredentials = oops.Code(errcode.AuthDenied).Errorf("invalid credentials")
)

// KeyAccess is the permission level attached to an API key.
type KeyAccess int

const (
	ReadOnly KeyAccess = iota
	ReadWrite
)

// Groups maps the access level to principal groups.
func (a KeyAccess) Groups() []string {
	if a == ReadWrite {
		return []string{GroupReadWrite}
	}
	return []string{GroupRead}
}

// Verifier authenticates a credential extracted from HTTP headers or
// gRPC metadata.
type Verifier interface {
	// AuthenticateHTTP verifies the request's credentials.
	AuthenticateHTTP(r *http.Request) (request.Principal, error)
	// AuthenticateGRPC verifies credentials carried in call metadata.
	AuthenticateGRPC(md metadata.MD) (request.Principal, error)
}

// APIKeyVerifier authenticates via the X-API-Key header (or the
// equivalent metadata key). Keys are configured with an access level.
type APIKeyVerifier struct {
	keys map[string]KeyAccess
}

func NewAPIKeyVerifier(keys map[string]KeyAccess) *APIKeyVerifier {
	return &APIKeyVerifier{keys: keys}
}

func (v *APIKeyVerifier) authenticate(key string) (request.Principal, error) {
	if key == "" {
		return request.Principal{}, ErrMissingCredentials
	}
	access, ok := v.keys[key]
	if !ok {
		return request.Principal{}, ErrInvalidCredentials
	}
	return request.Principal{Username: "api-key", Groups: access.Groups()}, nil
}

func (v *APIKeyVerifier) AuthenticateHTTP(r *http.Request) (request.Principal, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		// API keys may also arrive as a bearer token.
		key = bearerToken(r.Header.Get("Authorization"))
	}
	return v.authenticate(key)
}

func (v *APIKeyVerifier) AuthenticateGRPC(md metadata.MD) (request.Principal, error) {
	return v.authenticate(metadataValue(md, strings.ToLower(HeaderAPIKey), "authorization"))
}

// BearerTokenVerifier authenticates opaque bearer tokens through a
// caller-supplied resolver, e.g. a token-store lookup or an OIDC check.
type BearerTokenVerifier struct {
	resolve func(token string) (request.Principal, error)
}

func NewBearerTokenVerifier(resolve func(token string) (request.Principal, error)) *BearerTokenVerifier {
	return &BearerTokenVerifier{resolve: resolve}
}

func (v *BearerTokenVerifier) AuthenticateHTTP(r *http.Request) (request.Principal, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return request.Principal{}, ErrMissingCredentials
	}
	return v.resolve(token)
}

func (v *BearerTokenVerifier) AuthenticateGRPC(md metadata.MD) (request.Principal, error) {
	token := metadataValue(md, "authorization")
	if token == "" {
		return request.Principal{}, ErrMissingCredentials
	}
	return v.resolve(token)
}

// AnonymousVerifier admits every request with full access. This is the
// default when no auth is configured.
type AnonymousVerifier struct{}

func (AnonymousVerifier) AuthenticateHTTP(*http.Request) (request.Principal, error) {
	return anonymousPrincipal(), nil
}

func (AnonymousVerifier) AuthenticateGRPC(metadata.MD) (request.Principal, error) {
	return anonymousPrincipal(), nil
}

func anonymousPrincipal() request.Principal {
	return request.Principal{Username: "anonymous", Groups: []string{GroupRead, GroupReadWrite}}
}

// RequireWrite rejects principals that lack the read_write group.
func RequireWrite(p request.Principal) error {
	if !p.HasGroup(GroupReadWrite) {
		return oops.Code(errcode.AuthDenied).With("user", p.Username).Errorf("write access denied")
	}
	return nil
}

// bearerToken strips the Bearer scheme from an Authorization value.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// metadataValue returns the first value present under any of the keys,
// with bearer prefixes stripped from authorization entries.
func metadataValue(md metadata.MD, keys ...string) string {
	for _, key := range keys {
		values := md.Get(key)
		if len(values) == 0 {
			continue
		}
		value := values[0]
		if key == "authorization" {
			if token := bearerToken(value); token != "" {
				return token
			}
		}
		return value
	}
	return ""
}
