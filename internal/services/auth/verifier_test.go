package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]string{"token-a": "user-a"})

	userID, err := v.Verify(context.Background(), "token-a")
	require.NoError(t, err)
	assert.Equal(t, "user-a", userID)

	_, err = v.Verify(context.Background(), "nope")
	assert.Equal(t, errkind.KindUnauthorized, errkind.KindOf(err))

	_, err = v.Verify(context.Background(), "")
	assert.Equal(t, errkind.KindUnauthorized, errkind.KindOf(err))
}

func TestRemoteVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"user_id":"user-a"}`))
		case "Bearer empty":
			w.Write([]byte(`{}`))
		case "Bearer flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	cfg := &common.AuthConfig{Provider: "remote", Endpoint: server.URL}
	v := NewRemoteVerifier(cfg, common.GetLogger())
	ctx := context.Background()

	t.Run("valid token resolves user", func(t *testing.T) {
		userID, err := v.Verify(ctx, "good")
		require.NoError(t, err)
		assert.Equal(t, "user-a", userID)
	})

	t.Run("rejected token is unauthorized", func(t *testing.T) {
		_, err := v.Verify(ctx, "bad")
		assert.Equal(t, errkind.KindUnauthorized, errkind.KindOf(err))
	})

	t.Run("asserted empty user is unauthorized", func(t *testing.T) {
		_, err := v.Verify(ctx, "empty")
		assert.Equal(t, errkind.KindUnauthorized, errkind.KindOf(err))
	})

	t.Run("provider outage is transient", func(t *testing.T) {
		_, err := v.Verify(ctx, "flaky")
		assert.Equal(t, errkind.KindServiceUnavailable, errkind.KindOf(err))
		assert.True(t, errkind.IsTransient(err))
	})

	t.Run("missing token short-circuits", func(t *testing.T) {
		_, err := v.Verify(ctx, "")
		assert.Equal(t, errkind.KindUnauthorized, errkind.KindOf(err))
	})
}
