package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"))
	var out struct{ Echo string }
	err := c.DoJSON(context.Background(), http.MethodPost, srv.URL+"/v1/things",
		http.Header{"Authorization": {"Bearer tok"}}, map[string]string{"name": "mug"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "mug", out.Echo)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"name":"UNPROCESSABLE_ENTITY"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"))
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, se.Body, "UNPROCESSABLE_ENTITY")
}

func TestClient_PostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"))
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := c.PostForm(context.Background(), srv.URL, nil, url.Values{"grant_type": {"client_credentials"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.AccessToken)
	assert.Equal(t, 3600, out.ExpiresIn)
}
