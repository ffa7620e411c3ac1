package s3

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), &Config{
		Bucket:          "photos",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		UsePathStyle:    true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func TestClient_SignedURLs(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		sign       func() (string, error)
		wantExpiry string
	}{
		{
			name: "upload",
			sign: func() (string, error) {
				return client.SignedUploadURL(ctx, "users/u1/images/i1", "image/jpeg")
			},
			wantExpiry: "60",
		},
		{
			name: "download",
			sign: func() (string, error) {
				return client.SignedDownloadURL(ctx, "users/u1/images/i1", 300*time.Second)
			},
			wantExpiry: "300",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.sign()
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "localhost:9000", u.Host)
			assert.True(t, strings.HasSuffix(u.Path, "/photos/users/u1/images/i1"), u.Path)
			assert.Equal(t, tt.wantExpiry, u.Query().Get("X-Amz-Expires"))
			assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
		})
	}
}

func TestClient_DeleteManyEmpty(t *testing.T) {
	client := newTestClient(t)

	assert.NoError(t, client.DeleteMany(context.Background(), nil))
}
