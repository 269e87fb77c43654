package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestCode(t *testing.T) {
	err := oops.Code(NotFound).Errorf("no such model")
	assert.Equal(t, NotFound, Code(err))

	wrapped := fmt.Errorf("resolving: %w", err)
	assert.Equal(t, NotFound, Code(wrapped))

	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.Equal(t, "", Code(oops.Errorf("no code attached")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(AuthDenied))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(RateLimited))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(NotReady))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidArgument))
	assert.Equal(t, 499, HTTPStatus(Cancelled))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("unmapped"))
}

func TestGRPCStatus(t *testing.T) {
	assert.Equal(t, codes.Unauthenticated, GRPCStatus(AuthDenied))
	assert.Equal(t, codes.ResourceExhausted, GRPCStatus(RateLimited))
	assert.Equal(t, codes.Internal, GRPCStatus("unmapped"))
}
