package request

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheControlFromHeaders(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected CacheControl
	}{
		{name: "no header", header: "", expected: CacheControlCache},
		{name: "no-cache", header: "no-cache", expected: CacheControlNoCache},
		{name: "max-age", header: "max-age=60", expected: CacheControlCache},
		{name: "unrecognized", header: "no-store", expected: CacheControlCache},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Cache-Control", tt.header)
			}
			assert.Equal(t, tt.expected, CacheControlFromHeaders(headers))
		})
	}
}

func TestFromContext_Internal(t *testing.T) {
	rc := FromContext(context.Background())
	assert.Equal(t, ProtocolInternal, rc.Protocol())
	assert.Nil(t, rc.Principal())
}

func TestContext_ProtocolPromotion(t *testing.T) {
	rc := NewBuilder(ProtocolHTTP).WithUserAgent("spice-test/1.0").Build()
	assert.Equal(t, ProtocolHTTP, rc.Protocol())

	rc.UpdateProtocol(ProtocolFlightSQL)
	assert.Equal(t, ProtocolFlightSQL, rc.Protocol())
}

func TestContext_PrincipalSetOnce(t *testing.T) {
	rc := NewBuilder(ProtocolHTTP).Build()
	rc.SetPrincipal(Principal{Username: "alice", Groups: []string{"read"}})
	rc.SetPrincipal(Principal{Username: "mallory", Groups: []string{"read_write"}})

	assert.Equal(t, "alice", rc.Principal().Username)
	assert.True(t, rc.Principal().HasGroup("read"))
	assert.False(t, rc.Principal().HasGroup("read_write"))
}

func TestContext_RecoverableFromSpawnedWork(t *testing.T) {
	rc := NewBuilder(ProtocolHTTP).Build()
	ctx := NewContext(context.Background(), rc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Same(t, rc, FromContext(ctx))
		}()
	}
	wg.Wait()
}
