package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClient_PutObjectSignsRequest(t *testing.T) {
	var (
		mu   sync.Mutex
		got  *http.Request
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got = r
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "itemgen", AccessKeyID: "AK", SecretAccessKey: "SK"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, c.PutObject(context.Background(), "/backups//1.state.zst", []byte("payload")))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, got.Method)
	require.Equal(t, "/itemgen/backups/1.state.zst", got.URL.Path)
	require.Equal(t, "payload", string(body))
	require.Equal(t, "20260501T120000Z", got.Header.Get("x-amz-date"))
	require.Equal(t, sha256Hex([]byte("payload")), got.Header.Get("x-amz-content-sha256"))
	auth := got.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/20260501/auto/s3/aws4_request"), auth)
}

func TestClient_ReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	err = c.PutObject(context.Background(), "k", nil)
	require.ErrorContains(t, err, "status 403")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Endpoint: "example.com", Bucket: "b"})
	require.Error(t, err)
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithRetryAndPrefix(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "1700000000000.state.zst")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, "/servers/a/", 1, zaptest.NewLogger(t))
	m.backoff = time.Millisecond
	m.Enqueue(p)
	m.Enqueue(filepath.Join(dir, "gone.state.zst"))
	m.Close()
	m.Enqueue(p)

	require.Equal(t, []string{"servers/a/1700000000000.state.zst"}, up.keys)
	st := m.Stats()
	require.Equal(t, uint64(1), st.Uploaded)
	require.Equal(t, uint64(0), st.Failed)
	require.NotZero(t, st.LastSuccessMs)
}
