package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bheem-Platform/bheem-workspace-sub001/store"
)

// mintToken creates a decodable bearer token expiring at exp.
func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-001",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL)
	cfg.BackoffBase = 5 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func seedSession(t *testing.T, c *Client, accessExp time.Time) {
	t.Helper()
	require.NoError(t, c.SetTokens(context.Background(),
		mintToken(t, accessExp), mintToken(t, accessExp.Add(24*time.Hour))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestGet_JoinsAPIPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/mail/messages", &out))

	assert.Equal(t, "/api/v1/mail/messages", gotPath)
	assert.Equal(t, "yes", out["ok"])
}

func TestGet_AbsoluteURLBypassesPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	defer server.Close()

	c := newTestClient(t, "https://unused.example")
	require.NoError(t, c.Get(context.Background(), server.URL+"/absolute", nil))

	assert.Equal(t, "/absolute", gotPath)
}

func TestGet_QueryEncoding(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/calendar/events", nil, WithQuery(map[string]any{
		"limit":  25,
		"cursor": "abc",
		"folder": nil, // omitted
		"unread": true,
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"25"}, gotQuery["limit"])
	assert.Equal(t, []string{"abc"}, gotQuery["cursor"])
	assert.Equal(t, []string{"true"}, gotQuery["unread"])
	assert.NotContains(t, gotQuery, "folder")
}

func TestPost_SendsJSONBody(t *testing.T) {
	var gotBody map[string]string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusCreated, map[string]string{"id": "ev-1"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var out map[string]string
	err := c.Post(context.Background(), "/calendar/events", map[string]string{"title": "standup"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "standup", gotBody["title"])
	assert.Equal(t, "ev-1", out["id"])
}

func TestGet_TextResponseDecodesToString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var out string
	require.NoError(t, c.Get(context.Background(), "/ping", &out))
	assert.Equal(t, "pong", out)
}

func TestGet_LargeFlushedResponseReadFully(t *testing.T) {
	const chunk = 1 << 20
	const chunks = 4
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fl := w.(http.Flusher)
		buf := make([]byte, chunk)
		for i := range buf {
			buf[i] = 'a'
		}
		for i := 0; i < chunks; i++ {
			_, _ = w.Write(buf)
			fl.Flush()
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var out string
	require.NoError(t, c.Get(context.Background(), "/export", &out))
	assert.Len(t, out, chunks*chunk)
}

func TestGet_BinaryResponseDiscarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x1, 0x2})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var out string
	require.NoError(t, c.Get(context.Background(), "/blob", &out))
	assert.Empty(t, out)
}

func TestGet_AttachesBearerAndRequestID(t *testing.T) {
	var gotAuth, gotReqID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	token := mintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, c.SetTokens(context.Background(), token, "refresh-1"))

	require.NoError(t, c.Get(context.Background(), "/auth/me", nil))

	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.NotEmpty(t, gotReqID)
}

func TestErrorNormalization_DetailField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "X"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/missing", nil)
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "X", apiErr.Message)
}

func TestErrorNormalization_MessageAndErrorFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"boom"}`, "boom"},
		{"error field", `{"error":"kaput"}`, "kaput"},
		{"unparsable body", `<html>nope</html>`, "request failed with status 404"},
		{"empty body", ``, "request failed with status 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestClient(t, server.URL).Get(context.Background(), "/missing", nil)
			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, apiErr.Message)
		})
	}
}

func TestRetry_5xxThenSuccess(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) { cfg.BackoffBase = 10 * time.Millisecond })

	start := time.Now()
	var out map[string]string
	err := c.Get(context.Background(), "/flaky", &out, WithRetries(2))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	// Backoff doubles: first retry waits base, second waits 2*base.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestRetry_429Retried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	require.NoError(t, c.Get(context.Background(), "/ratelimited", nil, WithRetries(1)))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestRetry_404NeverRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/missing", nil, WithRetries(5))

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRetry_ExhaustedReturnsLastError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "overloaded"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/down", nil, WithRetries(2))

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "overloaded", apiErr.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestTimeout_NormalizedToTimeoutCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/slow", nil, WithTimeout(30*time.Millisecond))

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	apiErr, _ := AsAPIError(err)
	assert.Equal(t, 0, apiErr.Status)
	assert.Equal(t, CodeTimeout, apiErr.Code)
}

func TestCancellation_NormalizedToTimeoutCode(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(time.Second)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := c.Get(ctx, "/slow", nil)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsNetworkError(err))
}

func TestNetworkError_Normalized(t *testing.T) {
	// Port 1 is almost certainly closed.
	c := newTestClient(t, "http://127.0.0.1:1")
	err := c.Get(context.Background(), "/anything", nil)

	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	apiErr, _ := AsAPIError(err)
	assert.Equal(t, 0, apiErr.Status)
}

func TestTokenAccessors(t *testing.T) {
	c := newTestClient(t, "https://api.bheem.example")

	_, err := c.Tokens(context.Background())
	assert.ErrorIs(t, err, store.ErrNoTokens)

	require.NoError(t, c.SetTokens(context.Background(), "a", "r"))
	pair, err := c.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", pair.AccessToken)
	assert.Equal(t, "r", pair.RefreshToken)
	assert.False(t, pair.RefreshedAt.IsZero())

	require.NoError(t, c.ClearTokens(context.Background()))
	_, err = c.Tokens(context.Background())
	assert.ErrorIs(t, err, store.ErrNoTokens)
}
