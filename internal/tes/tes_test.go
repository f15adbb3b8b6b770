package tes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

func TestCredentialsFetchesAndSignsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"AccessKeyId": "AKIDEXAMPLE",
			"SecretAccessKey": "secret",
			"Token": "session-token",
			"Expiration": "` + time.Now().Add(time.Hour).Format(time.RFC3339) + `"
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", "us-east-1", logging.Discard())
	creds, err := client.Credentials(context.Background())
	require.NoError(t, err)

	tok, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", tok)

	req, err := http.NewRequest(http.MethodGet, "https://bucket.s3.us-east-1.amazonaws.com/key", nil)
	require.NoError(t, err)
	require.NoError(t, creds.SignRequest(context.Background(), req))
	assert.Contains(t, req.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
}

func TestCredentialsFetchFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "us-east-1", logging.Discard())
	_, err := client.Credentials(context.Background())
	assert.Error(t, err)
}

func TestIsExpiredWithoutExpirationIsNeverExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"AccessKeyId": "AKID", "SecretAccessKey": "secret"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "us-east-1", logging.Discard())
	creds, err := client.Credentials(context.Background())
	require.NoError(t, err)
	assert.False(t, creds.IsExpired())
}
