package tokenizers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mockTokenizerJSON = `{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [],
  "normalizer": null,
  "pre_tokenizer": {"type": "Whitespace"},
  "post_processor": null,
  "decoder": null,
  "model": {
    "type": "WordLevel",
    "vocab": {"[UNK]": 0, "hello": 1, "world": 2},
    "unk_token": "[UNK]"
  }
}`

// hubServer answers tokenizer.json requests with the statuses in script, one
// per request, then 200 with body for every request after that.
type hubServer struct {
	*httptest.Server
	requests atomic.Int32
	lastAuth atomic.Value
}

func newHubServer(t *testing.T, body string, script ...int) *hubServer {
	t.Helper()
	hs := &hubServer{}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hs.requests.Add(1))
		hs.lastAuth.Store(r.Header.Get("Authorization"))
		if !strings.HasSuffix(r.URL.Path, "/tokenizer.json") {
			http.NotFound(w, r)
			return
		}
		if n <= len(script) {
			if script[n-1] == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "0")
			}
			w.WriteHeader(script[n-1])
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(hs.Close)

	orig := HFHubBaseURL
	HFHubBaseURL = hs.URL
	t.Cleanup(func() { HFHubBaseURL = orig })

	// keep the developer's real caches out of the way
	t.Setenv("HF_HUB_CACHE", t.TempDir())
	t.Setenv("HF_HOME", "")
	return hs
}

func testHFConfig(t *testing.T) HFConfig {
	return HFConfig{
		Revision:   HFDefaultRevision,
		CacheDir:   t.TempDir(),
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}
}

func TestValidateModelID(t *testing.T) {
	testCases := []struct {
		name    string
		modelID string
		wantErr bool
	}{
		{"simple model", "bert-base-uncased", false},
		{"org and model", "google/flan-t5-base", false},
		{"dots and dashes", "sentence-transformers/all-MiniLM-L6-v2", false},
		{"spaces", "model name", true},
		{"too many parts", "org/suborg/model", true},
		{"repo at limit", strings.Repeat("a", 96), false},
		{"repo too long", strings.Repeat("a", 97), true},
		{"owner too long", strings.Repeat("a", 97) + "/model", true},
		{"empty owner", "/model", true},
		{"empty repo", "org/", true},
		{"special chars", "model@name", true},
		{"path traversal", "../etc", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateModelID(tc.modelID)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetHFCachePath(t *testing.T) {
	got := getHFCachePath("/tmp/cache", "org/model", "main")
	assert.Equal(t, filepath.Join("/tmp/cache", "models", "org--model", "main", "tokenizer.json"), got)

	t.Setenv("HF_HOME", "/srv/hf")
	got = getHFCachePath("", "gpt2", "v1")
	assert.Equal(t, filepath.Join("/srv/hf", "tokenizers", "models", "gpt2", "v1", "tokenizer.json"), got)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, HFMaxRetryAfterDelay, parseRetryAfter("86400"))

	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 20*time.Second)
	assert.LessOrEqual(t, d, 30*time.Second)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&statusError{code: http.StatusServiceUnavailable, cause: errors.New("x")}))
	assert.True(t, isRetryable(&statusError{code: http.StatusTooManyRequests, cause: errors.New("x")}))
	assert.False(t, isRetryable(&statusError{code: http.StatusNotFound, cause: ErrModelNotFound}))
	assert.False(t, isRetryable(errors.Wrap(ErrInvalidConfig, "bad body")))
	assert.True(t, isRetryable(errors.New("connection reset")))
}

func TestFetchTokenizerConfig(t *testing.T) {
	t.Run("downloads and caches", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON)
		cfg := testHFConfig(t)
		cfg.Token = "hf_secret"

		data, err := FetchTokenizerConfig(context.Background(), "org/model", cfg)
		require.NoError(t, err)
		assert.JSONEq(t, mockTokenizerJSON, string(data))
		assert.Equal(t, "Bearer hf_secret", hs.lastAuth.Load())
		assert.FileExists(t, getHFCachePath(cfg.CacheDir, "org/model", "main"))

		// second call is served from the cache
		_, err = FetchTokenizerConfig(context.Background(), "org/model", cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hs.requests.Load())
	})

	for _, status := range []int{http.StatusNotFound, http.StatusUnauthorized} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			hs := newHubServer(t, mockTokenizerJSON, status, status, status)
			_, err := FetchTokenizerConfig(context.Background(), "org/missing", testHFConfig(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrModelNotFound), "got %v", err)
			assert.Equal(t, int32(1), hs.requests.Load(), "not found is not retried")
		})
	}

	t.Run("forbidden", func(t *testing.T) {
		newHubServer(t, mockTokenizerJSON, http.StatusForbidden)
		_, err := FetchTokenizerConfig(context.Background(), "org/gated", testHFConfig(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAccessDenied))
		assert.False(t, errors.Is(err, ErrModelNotFound))
	})

	t.Run("retries server errors", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON, http.StatusBadGateway)
		data, err := FetchTokenizerConfig(context.Background(), "org/flaky", testHFConfig(t))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
		assert.Equal(t, int32(2), hs.requests.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests)
		_, err := FetchTokenizerConfig(context.Background(), "org/busy", testHFConfig(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 429")
		assert.Equal(t, int32(2), hs.requests.Load())
	})

	t.Run("invalid body", func(t *testing.T) {
		hs := newHubServer(t, `{"not": "a tokenizer"}`)
		_, err := FetchTokenizerConfig(context.Background(), "org/broken", testHFConfig(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
		assert.Equal(t, int32(1), hs.requests.Load())
	})

	t.Run("body too large", func(t *testing.T) {
		newHubServer(t, mockTokenizerJSON)
		cfg := testHFConfig(t)
		cfg.MaxTokenizerSize = 16
		_, err := FetchTokenizerConfig(context.Background(), "org/huge", cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("offline without cache", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON)
		cfg := testHFConfig(t)
		cfg.OfflineMode = true
		_, err := FetchTokenizerConfig(context.Background(), "org/model", cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOffline))
		assert.Equal(t, int32(0), hs.requests.Load())
	})

	t.Run("offline with cache", func(t *testing.T) {
		newHubServer(t, mockTokenizerJSON)
		cfg := testHFConfig(t)
		require.NoError(t, saveToHFCache(getHFCachePath(cfg.CacheDir, "org/model", "main"), []byte(mockTokenizerJSON)))
		cfg.OfflineMode = true
		data, err := FetchTokenizerConfig(context.Background(), "org/model", cfg)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("expired cache is refreshed", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON)
		cfg := testHFConfig(t)
		cfg.CacheTTL = time.Hour
		path := getHFCachePath(cfg.CacheDir, "org/model", "main")
		require.NoError(t, saveToHFCache(path, []byte(mockTokenizerJSON)))
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))

		_, err := FetchTokenizerConfig(context.Background(), "org/model", cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hs.requests.Load())
	})

	t.Run("invalid model id", func(t *testing.T) {
		hs := newHubServer(t, mockTokenizerJSON)
		_, err := FetchTokenizerConfig(context.Background(), "a/b/c", testHFConfig(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrModelNotFound))
		assert.Equal(t, int32(0), hs.requests.Load())
	})

	t.Run("cancelled context", func(t *testing.T) {
		newHubServer(t, mockTokenizerJSON, http.StatusServiceUnavailable)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := FetchTokenizerConfig(ctx, "org/model", testHFConfig(t))
		require.Error(t, err)
	})
}

func writeHubSnapshot(t *testing.T, hubDir, modelID, ref, hash, body string) {
	t.Helper()
	repo := filepath.Join(hubDir, "models--"+strings.ReplaceAll(modelID, "/", "--"))
	snap := filepath.Join(repo, "snapshots", hash)
	require.NoError(t, os.MkdirAll(snap, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "tokenizer.json"), []byte(body), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "refs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "refs", ref), []byte(hash+"\n"), 0644))
}

func TestCheckHFHubCache(t *testing.T) {
	hub := t.TempDir()
	t.Setenv("HF_HUB_CACHE", hub)
	writeHubSnapshot(t, hub, "org/model", "main", "abc123", mockTokenizerJSON)
	writeHubSnapshot(t, hub, "org/model", "v2", "def456", mockTokenizerJSON)

	data, err := checkHFHubCache("org/model", "main")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = checkHFHubCache("org/model", "v2")
	require.NoError(t, err)

	_, err = checkHFHubCache("org/model", "v3")
	assert.True(t, errors.Is(err, ErrCacheNotFound))

	_, err = checkHFHubCache("org/other", "main")
	assert.True(t, errors.Is(err, ErrCacheNotFound))

	writeHubSnapshot(t, hub, "org/corrupt", "main", "aaa", "not json")
	_, err = checkHFHubCache("org/corrupt", "main")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestFetchUsesHubCache(t *testing.T) {
	hs := newHubServer(t, mockTokenizerJSON)
	writeHubSnapshot(t, os.Getenv("HF_HUB_CACHE"), "org/model", "main", "abc123", mockTokenizerJSON)

	cfg := testHFConfig(t)
	cfg.UseLocalCache = true
	cfg.OfflineMode = true
	data, err := FetchTokenizerConfig(context.Background(), "org/model", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int32(0), hs.requests.Load())
	assert.FileExists(t, getHFCachePath(cfg.CacheDir, "org/model", "main"))
}

func TestLoadFromCacheWithValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.json")

	_, err := loadFromCacheWithValidation(path, 0)
	assert.True(t, errors.Is(err, ErrCacheNotFound))

	require.NoError(t, os.WriteFile(path, []byte(mockTokenizerJSON), 0644))
	_, err = loadFromCacheWithValidation(path, 0)
	require.NoError(t, err)
	_, err = loadFromCacheWithValidation(path, time.Hour)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	_, err = loadFromCacheWithValidation(path, time.Hour)
	assert.Error(t, err)

	_, err = loadFromCacheWithValidation(dir, 0)
	assert.Error(t, err)
}

func TestValidateHTTPPoolingConfig(t *testing.T) {
	conns, perHost := validateHTTPPoolingConfig(5, 10)
	assert.Equal(t, 10, conns)
	assert.Equal(t, 10, perHost)

	conns, perHost = validateHTTPPoolingConfig(5000, 500)
	assert.Equal(t, maxAllowedIdleConns, conns)
	assert.Equal(t, maxAllowedIdleConnsPerHost, perHost)
}

func TestGetEnvValues(t *testing.T) {
	t.Setenv("PURE_NLP_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("PURE_NLP_TEST_INT", 7))
	t.Setenv("PURE_NLP_TEST_INT", "-1")
	assert.Equal(t, 7, getEnvInt("PURE_NLP_TEST_INT", 7))
	t.Setenv("PURE_NLP_TEST_INT", "many")
	assert.Equal(t, int64(7), getEnvInt64("PURE_NLP_TEST_INT", 7))

	t.Setenv("PURE_NLP_TEST_DURATION", "2s")
	assert.Equal(t, 2*time.Second, getEnvDuration("PURE_NLP_TEST_DURATION", time.Second))
	t.Setenv("PURE_NLP_TEST_DURATION", "0s")
	assert.Equal(t, time.Second, getEnvDuration("PURE_NLP_TEST_DURATION", time.Second))
}
