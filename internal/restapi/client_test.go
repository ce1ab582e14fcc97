package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method, path, auth string
	body               map[string]any
}

func server(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.EscapedPath()
		got.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendPostsTypedBody(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, `{"success":true}`, &got)
	c := New(Config{BaseURL: srv.URL, Token: "tok"}, nil)

	phone := 1
	err := c.Send(context.Background(), SendRequest{
		Type:       "text",
		CompanyID:  "acme",
		ChatID:     "5511999@c.us",
		PhoneIndex: &phone,
		UserName:   "Ana",
		Fields:     map[string]any{"message": "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/messages/text/acme/5511999@c.us", got.path)
	assert.Equal(t, "Bearer tok", got.auth)
	assert.Equal(t, "hello", got.body["message"])
	assert.Equal(t, "Ana", got.body["userName"])
	assert.EqualValues(t, 1, got.body["phoneIndex"])
}

func TestSendDefaultsPhoneIndexToFirstLine(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, `{"success":true}`, &got)
	c := New(Config{BaseURL: srv.URL}, nil)

	require.NoError(t, c.Send(context.Background(), SendRequest{Type: "text", CompanyID: "a", ChatID: "b"}))
	idx, ok := got.body["phoneIndex"]
	require.True(t, ok)
	assert.EqualValues(t, 0, idx)
	assert.Empty(t, got.auth)
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		check  func(t *testing.T, err error)
	}{
		{"http error", http.StatusBadGateway, `upstream down`, func(t *testing.T, err error) {
			var he *HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, http.StatusBadGateway, he.StatusCode)
		}},
		{"rejected", http.StatusOK, `{"success":false,"message":"chat closed"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRejected)
			assert.Contains(t, err.Error(), "chat closed")
		}},
		{"garbage", http.StatusOK, `not json`, func(t *testing.T, err error) {
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrRejected))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := server(t, tt.status, tt.reply, &got)
			c := New(Config{BaseURL: srv.URL}, nil)
			tt.check(t, c.Send(context.Background(), SendRequest{Type: "text", CompanyID: "a", ChatID: "b"}))
		})
	}
}

func TestSendRequiresAddress(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	assert.Error(t, c.Send(context.Background(), SendRequest{Type: "text"}))
}

func TestSendThrottled(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, `{"success":true}`, &got)
	c := New(Config{BaseURL: srv.URL, Rate: 0.001, Burst: 1}, nil)

	req := SendRequest{Type: "text", CompanyID: "a", ChatID: "b"}
	require.NoError(t, c.Send(context.Background(), req))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Send(ctx, req), "second send exceeds the burst and the deadline")
}
