package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   Failure
		want string
	}{
		{
			name: "with name",
			in:   Failure{UserID: "u1", UserEmail: "a@b.c", UserName: "Ada"},
			want: "Photo restoration failed\nEmail: a@b.c\nName: Ada\nUser ID: u1",
		},
		{
			name: "without name",
			in:   Failure{UserID: "u1", UserEmail: "a@b.c"},
			want: "Photo restoration failed\nEmail: a@b.c\nName: Unknown\nUser ID: u1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
	assert.Equal(t, "Photo restoration failed: a@b.c", Subject(Failure{UserEmail: "a@b.c"}))
}

func TestPlunkNotifier(t *testing.T) {
	var got plunkSendRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewPlunkNotifier(PlunkConfig{
		BaseURL:      server.URL,
		APIKey:       "sk_test",
		SupportEmail: "support@example.com",
	}, discardLogger())

	err := n.NotifyFailure(context.Background(), Failure{UserID: "u1", UserEmail: "a@b.c", UserName: "Ada"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test", auth)
	assert.Equal(t, "support@example.com", got.To)
	assert.Equal(t, "Photo restoration failed: a@b.c", got.Subject)
	assert.Equal(t, got.Text, got.Body)
	assert.Contains(t, got.Text, "User ID: u1")
}

func TestPlunkNotifier_Errors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewPlunkNotifier(PlunkConfig{BaseURL: server.URL, SupportEmail: "support@example.com"}, discardLogger())

	err := n.NotifyFailure(context.Background(), Failure{UserID: "u1", UserEmail: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// no email address, nothing to send
	require.NoError(t, n.NotifyFailure(context.Background(), Failure{UserID: "u1"}))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(discardLogger()).NotifyFailure(context.Background(), Failure{UserID: "u1"}))
}
