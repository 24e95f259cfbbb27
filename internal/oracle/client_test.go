package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func newTestClient(t *testing.T, serverURL string, delays *[]time.Duration) *Client {
	t.Helper()
	return NewClient(serverURL, "test-key", 5*time.Second, zap.NewNop(), WithSleep(noSleep(delays)))
}

func TestExtractSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			System string `json:"system"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, "do the thing", req.Prompt)

		json.NewEncoder(w).Encode(map[string]string{"output": `{"title":"Laptops"}`})
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv.URL, &delays)

	raw, err := c.Extract(context.Background(), "structure_request", "sys", "do the thing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Laptops"}`, string(raw))
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Empty(t, delays)
}

func TestExtractRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"output": `{"ok":true}`})
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv.URL, &delays)

	raw, err := c.Extract(context.Background(), "parse_proposal", "sys", "p")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	assert.Equal(t, 3, calls)
	// 指数退避：1s、2s
	require.Len(t, delays, 2)
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
}

func TestExtractExhaustsRetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv.URL, &delays)

	_, err := c.Extract(context.Background(), "parse_proposal", "sys", "p")
	require.Error(t, err)

	category, ok := IsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, CategoryUnavailable, category)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 4, ue.Attempts)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestExtractInvalidCredentialNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv.URL, &delays)

	_, err := c.Extract(context.Background(), "compare_proposals", "sys", "p")
	require.Error(t, err)

	category, ok := IsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, CategoryInvalidCredential, category)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestExtractMalformedOutputNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"output": "sorry, I cannot help with that"})
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv.URL, &delays)

	_, err := c.Extract(context.Background(), "parse_proposal", "sys", "p")
	require.Error(t, err)
	assert.True(t, IsMalformedOutput(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)

	_, upstream := IsUpstream(err)
	assert.False(t, upstream)
}

func TestDecodeJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{name: "plain object", output: `{"a":1}`, want: `{"a":1}`},
		{name: "markdown fenced", output: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", output: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding whitespace", output: "  {\"a\":1}\n", want: `{"a":1}`},
		{name: "empty", output: "", wantErr: true},
		{name: "prose", output: "not json", wantErr: true},
		{name: "array not object", output: `[1,2]`, wantErr: true},
		{name: "trailing garbage", output: `{"a":1} extra`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decodeJSONObject(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsMalformedOutput(err))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code      int
		category  Category
		retryable bool
	}{
		{429, CategoryRateLimited, true},
		{500, CategoryUnavailable, true},
		{503, CategoryUnavailable, true},
		{401, CategoryInvalidCredential, false},
		{403, CategoryInvalidCredential, false},
		{400, CategoryUpstreamError, false},
		{404, CategoryUpstreamError, false},
	}

	for _, tt := range tests {
		aerr := classifyStatus(tt.code)
		assert.Equal(t, tt.category, aerr.category, "status %d", tt.code)
		assert.Equal(t, tt.retryable, aerr.retryable, "status %d", tt.code)
	}
}
