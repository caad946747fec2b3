package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSendsExpectedRequest(t *testing.T) {
	var got map[string]any
	var auth, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"tunnel","url":"https://media.example.com/t/abc","filename":"abc.opus"}`))
	}))
	defer srv.Close()

	src, err := NewClient(srv.URL, Options{APIKey: "k3y"}).Resolve(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/t/abc", src.URL)
	assert.Equal(t, "abc.opus", src.Filename)
	assert.Equal(t, "Api-Key k3y", auth)
	assert.Equal(t, "application/json", accept)
	assert.Equal(t, "https://youtube.com/watch?v=abc123", got["url"])
	assert.Equal(t, "audio", got["downloadMode"])
	assert.Equal(t, "best", got["audioFormat"])
	assert.Equal(t, "basic", got["filenameStyle"])
	assert.Equal(t, false, got["alwaysProxy"])
}

func TestResolveOmitsAuthorizationWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"redirect","url":"https://media.example.com/r"}`))
	}))
	defer srv.Close()

	src, err := NewClient(srv.URL, Options{}).Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/r", src.URL)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "content error code",
			status:  http.StatusBadRequest,
			body:    `{"status":"error","error":{"code":"error.api.content.video.unavailable"}}`,
			wantErr: ErrTrackNotFound,
		},
		{
			name:    "unavailable error code",
			status:  http.StatusOK,
			body:    `{"status":"error","error":{"code":"error.api.youtube.unavailable"}}`,
			wantErr: ErrTrackNotFound,
		},
		{
			name:    "http not found",
			status:  http.StatusNotFound,
			body:    `not json`,
			wantErr: ErrTrackNotFound,
		},
		{
			name:    "rate limited code",
			status:  http.StatusTooManyRequests,
			body:    `{"status":"error","error":{"code":"error.api.rate_exceeded"}}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "server error html",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "tunnel without url",
			status:  http.StatusOK,
			body:    `{"status":"tunnel"}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "picker is not supported",
			status:  http.StatusOK,
			body:    `{"status":"picker","picker":[]}`,
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, Options{}).Resolve(context.Background(), "abc123")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, Options{Timeout: 50 * time.Millisecond}).Resolve(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(endpoint, Options{}).Resolve(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrUnavailable)
}
