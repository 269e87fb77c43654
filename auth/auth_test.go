package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/nittaya1990/spiced/errcode"
)

func TestAPIKeyVerifier_GroupMapping(t *testing.T) {
	verifier := NewAPIKeyVerifier(map[string]KeyAccess{
		"ro-key": ReadOnly,
		"rw-key": ReadWrite,
	})

	r, _ := http.NewRequest(http.MethodGet, "/v1/sql", nil)
	r.Header.Set(HeaderAPIKey, "ro-key")
	principal, err := verifier.AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, principal.Groups)
	assert.Error(t, RequireWrite(principal))

	r.Header.Set(HeaderAPIKey, "rw-key")
	principal, err = verifier.AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"read_write"}, principal.Groups)
	assert.NoError(t, RequireWrite(principal))
}

func TestAPIKeyVerifier_BearerFallbackAndFailures(t *testing.T) {
	verifier := NewAPIKeyVerifier(map[string]KeyAccess{"secret": ReadWrite})

	r, _ := http.NewRequest(http.MethodPost, "/v1/sql", nil)
	r.Header.Set("Authorization", "Bearer secret")
	principal, err := verifier.AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.True(t, principal.HasGroup(GroupReadWrite))

	r.Header.Set("Authorization", "Bearer wrong")
	_, err = verifier.AuthenticateHTTP(r)
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))

	r.Header.Del("Authorization")
	_, err = verifier.AuthenticateHTTP(r)
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))
}

func TestAPIKeyVerifier_GRPCMetadata(t *testing.T) {
	verifier := NewAPIKeyVerifier(map[string]KeyAccess{"secret": ReadOnly})

	md := metadata.Pairs("x-api-key", "secret")
	principal, err := verifier.AuthenticateGRPC(md)
	require.NoError(t, err)
	assert.True(t, principal.HasGroup(GroupRead))

	md = metadata.Pairs("authorization", "Bearer secret")
	_, err = verifier.AuthenticateGRPC(md)
	require.NoError(t, err)

	_, err = verifier.AuthenticateGRPC(metadata.MD{})
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))
}

func TestTokenStore_HandshakeRoundTrip(t *testing.T) {
	store := NewTokenStore("alice", "s3cret")

	token, err := store.Handshake("alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := store.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.NoError(t, RequireWrite(principal))

	// The minted token authenticates as a bearer credential.
	r, _ := http.NewRequest(http.MethodGet, "/v1/sql", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	principal, err = store.Verifier().AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)

	store.Revoke(token)
	_, err = store.Resolve(token)
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))
}

func TestTokenStore_RejectsBadCredentials(t *testing.T) {
	store := NewTokenStore("alice", "s3cret")

	_, err := store.Handshake("alice", "wrong")
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))

	_, err = store.Handshake("bob", "s3cret")
	assert.Equal(t, errcode.AuthDenied, errcode.Code(err))
}

func TestAnonymousVerifier_FullAccess(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/v1/sql", nil)
	principal, err := AnonymousVerifier{}.AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", principal.Username)
	assert.NoError(t, RequireWrite(principal))
}

func TestWriteLimiter_RejectsWhenExhausted(t *testing.T) {
	// Tiny bucket so exhaustion is immediate: 2 tokens per hour.
	limiter := NewWriteLimiter(2, time.Hour)

	require.NoError(t, limiter.Allow())
	require.NoError(t, limiter.Allow())

	err := limiter.Allow()
	require.Error(t, err)
	assert.Equal(t, errcode.RateLimited, errcode.Code(err))

	// The rejection did not consume a token: the bucket refills on
	// schedule, not slower with each rejected attempt.
	err = limiter.Allow()
	assert.Equal(t, errcode.RateLimited, errcode.Code(err))
}

func TestWriteLimiter_Defaults(t *testing.T) {
	limiter := NewWriteLimiter(0, 0)
	for i := 0; i < defaultRateTokens; i++ {
		require.NoError(t, limiter.Allow())
	}
	assert.Equal(t, errcode.RateLimited, errcode.Code(limiter.Allow()))
}
