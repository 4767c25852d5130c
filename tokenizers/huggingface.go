package tokenizers

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	HFDefaultRevision = "main"
	HFDefaultTimeout  = 30 * time.Second
	HFMaxRetries      = 3
	HFRetryDelay      = time.Second
	// HFMaxRetryAfterDelay caps the delay taken from Retry-After headers.
	HFMaxRetryAfterDelay = 5 * time.Minute

	// DefaultMaxTokenizerSize bounds tokenizer.json downloads (500MB).
	DefaultMaxTokenizerSize = 500 * 1024 * 1024

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleTimeout         = 90 * time.Second

	maxAllowedIdleConns        = 1000
	maxAllowedIdleConnsPerHost = 100
)

var (
	HFHubBaseURL   = "https://huggingface.co" // Variable to allow testing with mock server
	libraryVersion = "0.1.0"

	hfHTTPClient *http.Client
	hfClientOnce sync.Once

	// ErrCacheNotFound is returned when a requested cache file does not exist
	ErrCacheNotFound = errors.New("cache file not found")
	// ErrModelNotFound is returned when no tokenizer exists for a model ID.
	ErrModelNotFound = errors.New("model not found")
	// ErrOffline is returned when offline mode prevents a download.
	ErrOffline = errors.New("offline mode enabled but tokenizer not found in any cache")
	// ErrAccessDenied is returned for gated or forbidden repositories.
	ErrAccessDenied = errors.New("access forbidden: token may be invalid or model may be gated")
)

// GetLibraryVersion returns the version sent in the User-Agent header
func GetLibraryVersion() string {
	return libraryVersion
}

// SetLibraryVersion sets the version sent in the User-Agent header
func SetLibraryVersion(version string) {
	if version != "" {
		libraryVersion = version
	}
}

func getEnvIntValue[T int | int64](key string, defaultValue T, parser func(string) (T, error)) T {
	envVal := os.Getenv(key)
	if envVal == "" {
		return defaultValue
	}
	val, err := parser(envVal)
	if err != nil {
		log().Warn("invalid integer environment value, using default", "key", key, "value", envVal, "error", err, "default", defaultValue)
		return defaultValue
	}
	if val <= 0 {
		log().Warn("non-positive environment value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return val
}

func getEnvInt(key string, defaultValue int) int {
	return getEnvIntValue(key, defaultValue, strconv.Atoi)
}

func getEnvInt64(key string, defaultValue int64) int64 {
	return getEnvIntValue(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	envVal := os.Getenv(key)
	if envVal == "" {
		return defaultValue
	}
	val, err := time.ParseDuration(envVal)
	if err != nil || val <= 0 {
		log().Warn("invalid duration environment value, using default", "key", key, "value", envVal, "default", defaultValue)
		return defaultValue
	}
	return val
}

// validateHTTPPoolingConfig keeps maxIdleConns >= maxIdleConnsPerHost and both within bounds.
func validateHTTPPoolingConfig(maxIdleConns, maxIdleConnsPerHost int) (int, int) {
	if maxIdleConns < maxIdleConnsPerHost {
		log().Warn("HTTPMaxIdleConns below HTTPMaxIdleConnsPerHost, adjusting", "max_idle_conns", maxIdleConns, "max_idle_conns_per_host", maxIdleConnsPerHost)
		maxIdleConns = maxIdleConnsPerHost
	}
	if maxIdleConns > maxAllowedIdleConns {
		log().Warn("HTTPMaxIdleConns exceeds maximum, capping", "max_idle_conns", maxIdleConns, "cap", maxAllowedIdleConns)
		maxIdleConns = maxAllowedIdleConns
	}
	if maxIdleConnsPerHost > maxAllowedIdleConnsPerHost {
		log().Warn("HTTPMaxIdleConnsPerHost exceeds maximum, capping", "max_idle_conns_per_host", maxIdleConnsPerHost, "cap", maxAllowedIdleConnsPerHost)
		maxIdleConnsPerHost = maxAllowedIdleConnsPerHost
	}
	return maxIdleConns, maxIdleConnsPerHost
}

// initHFHTTPClient builds the shared pooled client once per process.
// Pooling settings passed after the first call have no effect.
func initHFHTTPClient(config *HFConfig) {
	hfClientOnce.Do(func() {
		maxIdleConns := config.HTTPMaxIdleConns
		if maxIdleConns == 0 {
			maxIdleConns = getEnvInt("HF_HTTP_MAX_IDLE_CONNS", defaultMaxIdleConns)
		}
		maxIdleConnsPerHost := config.HTTPMaxIdleConnsPerHost
		if maxIdleConnsPerHost == 0 {
			maxIdleConnsPerHost = getEnvInt("HF_HTTP_MAX_IDLE_CONNS_PER_HOST", defaultMaxIdleConnsPerHost)
		}
		maxIdleConns, maxIdleConnsPerHost = validateHTTPPoolingConfig(maxIdleConns, maxIdleConnsPerHost)

		idleTimeout := config.HTTPIdleTimeout
		if idleTimeout == 0 {
			idleTimeout = getEnvDuration("HF_HTTP_IDLE_TIMEOUT", defaultIdleTimeout)
		}
		log().Debug("huggingface http client configured",
			"max_idle_conns", maxIdleConns,
			"max_idle_conns_per_host", maxIdleConnsPerHost,
			"idle_timeout", idleTimeout)

		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          maxIdleConns,
			MaxIdleConnsPerHost:   maxIdleConnsPerHost,
			IdleConnTimeout:       idleTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		// per-request timeouts come from the context
		hfHTTPClient = &http.Client{Transport: transport}
	})
}

func getHFHTTPClient(config *HFConfig) *http.Client {
	initHFHTTPClient(config)
	return hfHTTPClient
}

// HFConfig holds HuggingFace-specific configuration
type HFConfig struct {
	Token       string
	Revision    string
	CacheDir    string
	Timeout     time.Duration
	MaxRetries  int
	OfflineMode bool
	// UseLocalCache enables checking the HuggingFace hub cache before downloading
	UseLocalCache bool
	// CacheTTL specifies how long cached tokenizers are considered valid (0 = forever)
	CacheTTL time.Duration
	// MaxTokenizerSize is the maximum tokenizer.json size in bytes. Zero falls
	// back to HF_MAX_TOKENIZER_SIZE, then DefaultMaxTokenizerSize.
	MaxTokenizerSize int64

	// Pooling for the shared client. Only the first download in a process
	// applies these (env: HF_HTTP_MAX_IDLE_CONNS, HF_HTTP_MAX_IDLE_CONNS_PER_HOST,
	// HF_HTTP_IDLE_TIMEOUT).
	HTTPMaxIdleConns        int
	HTTPMaxIdleConnsPerHost int
	HTTPIdleTimeout         time.Duration
}

// DefaultHFConfig returns the defaults, with Token and UseLocalCache taken
// from HF_TOKEN and HF_USE_LOCAL_CACHE (anything but "false" enables it).
func DefaultHFConfig() HFConfig {
	return HFConfig{
		Token:         os.Getenv("HF_TOKEN"),
		Revision:      HFDefaultRevision,
		Timeout:       HFDefaultTimeout,
		MaxRetries:    HFMaxRetries,
		UseLocalCache: os.Getenv("HF_USE_LOCAL_CACHE") != "false",
	}
}

func (c *HFConfig) normalize() {
	if c.Revision == "" {
		c.Revision = HFDefaultRevision
	}
	if c.Timeout <= 0 {
		c.Timeout = HFDefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = HFMaxRetries
	}
}

// FromHuggingFace loads a tokenizer from HuggingFace Hub using the model identifier,
// e.g. "bert-base-uncased" or "sentence-transformers/all-MiniLM-L6-v2".
func FromHuggingFace(ctx context.Context, modelID string, opts ...TokenizerOption) (*Tokenizer, error) {
	probe := &Tokenizer{}
	for _, opt := range opts {
		if err := opt(probe); err != nil {
			return nil, errors.Wrapf(err, "failed to apply tokenizer option")
		}
	}
	cfg := DefaultHFConfig()
	if probe.hfConfig != nil {
		cfg = *probe.hfConfig
	}
	data, err := FetchTokenizerConfig(ctx, modelID, cfg)
	if err != nil {
		return nil, err
	}
	return FromBytes(data, opts...)
}

// FetchTokenizerConfig returns the tokenizer.json of modelID, looking in order at
// the pure-tokenizers cache, the HuggingFace hub cache (if enabled) and the Hub.
// Successful lookups outside our cache are copied into it.
func FetchTokenizerConfig(ctx context.Context, modelID string, cfg HFConfig) ([]byte, error) {
	if modelID == "" {
		return nil, errors.Wrap(ErrModelNotFound, "model ID cannot be empty")
	}
	if err := validateModelID(modelID); err != nil {
		return nil, errors.Wrapf(ErrModelNotFound, "invalid model ID %s: %v", modelID, err)
	}
	cfg.normalize()

	cachedPath := getHFCachePath(cfg.CacheDir, modelID, cfg.Revision)
	data, err := loadFromCacheWithValidation(cachedPath, cfg.CacheTTL)
	if err == nil {
		log().Debug("tokenizer loaded from cache", "model", modelID, "path", cachedPath)
		return data, nil
	}
	if !errors.Is(err, ErrCacheNotFound) {
		log().Warn("ignoring unusable cached tokenizer", "model", modelID, "path", cachedPath, "error", err)
	}

	if cfg.UseLocalCache {
		if data, err := checkHFHubCache(modelID, cfg.Revision); err == nil {
			log().Debug("tokenizer loaded from huggingface hub cache", "model", modelID)
			if err := saveToHFCache(cachedPath, data); err != nil {
				log().Warn("failed to copy tokenizer into cache", "path", cachedPath, "error", err)
			}
			return data, nil
		}
	}

	if cfg.OfflineMode {
		return nil, errors.Wrapf(ErrOffline, "model %s", modelID)
	}

	data, err = downloadTokenizerFromHF(ctx, modelID, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download tokenizer from HuggingFace")
	}
	if err := saveToHFCache(cachedPath, data); err != nil {
		log().Warn("failed to save tokenizer to cache", "path", cachedPath, "error", err)
	}
	return data, nil
}

// statusError is a non-200 response from the Hub.
type statusError struct {
	code  int
	cause error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.cause.Error(), e.code)
}

func (e *statusError) Unwrap() error { return e.cause }

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func downloadTokenizerFromHF(ctx context.Context, modelID string, config *HFConfig) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/resolve/%s/tokenizer.json", HFHubBaseURL, modelID, config.Revision)

	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryAfter
			retryAfter = 0
			if delay == 0 {
				// exponential backoff with 0-25% jitter
				base := HFRetryDelay * time.Duration(1<<uint(attempt-1))
				delay = base + time.Duration(rand.Float64()*0.25*float64(base))
			}
			log().Debug("retrying tokenizer download", "model", modelID, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "download cancelled")
			case <-time.After(delay):
			}
		}

		data, resp, err := downloadOnce(ctx, url, config)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			if header := resp.Header.Get("Retry-After"); header != "" {
				retryAfter = parseRetryAfter(header)
				log().Debug("retry-after header received", "value", header, "delay", retryAfter)
			}
		}

		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// downloadOnce performs a single attempt. The response is returned alongside
// errors so the caller can inspect Retry-After.
func downloadOnce(ctx context.Context, url string, config *HFConfig) ([]byte, *http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", fmt.Sprintf("pure-nlp/%s", GetLibraryVersion()))
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	resp, err := getHFHTTPClient(config).Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		// the Hub answers 401 for repositories that do not exist
		return nil, resp, &statusError{code: resp.StatusCode, cause: errors.Wrap(ErrModelNotFound, "repository not found or authentication required (set HF_TOKEN)")}
	case http.StatusForbidden:
		return nil, resp, &statusError{code: resp.StatusCode, cause: ErrAccessDenied}
	case http.StatusNotFound:
		return nil, resp, &statusError{code: resp.StatusCode, cause: errors.Wrap(ErrModelNotFound, "model or tokenizer.json not found")}
	case http.StatusTooManyRequests:
		return nil, resp, &statusError{code: resp.StatusCode, cause: errors.New("rate limited: too many requests")}
	default:
		return nil, resp, &statusError{code: resp.StatusCode, cause: errors.New("unexpected status code")}
	}

	maxSize := config.MaxTokenizerSize
	if maxSize == 0 {
		maxSize = getEnvInt64("HF_MAX_TOKENIZER_SIZE", DefaultMaxTokenizerSize)
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return nil, resp, errors.Errorf("tokenizer file too large: %d bytes exceeds maximum %d bytes", resp.ContentLength, maxSize)
	}

	body := io.Reader(resp.Body)
	if maxSize > 0 {
		body = io.LimitReader(resp.Body, maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resp, errors.Wrap(err, "failed to read response")
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, resp, errors.Errorf("tokenizer file too large: exceeds maximum %d bytes", maxSize)
	}
	if err := ValidateConfig(data); err != nil {
		return nil, resp, err
	}
	return data, resp, nil
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return !errors.Is(err, ErrInvalidConfig)
}

// validateModelID checks the "repo_name" or "owner/repo_name" format of the Hub.
func validateModelID(modelID string) error {
	if modelID == "" {
		return nil
	}

	parts := strings.Split(modelID, "/")
	if len(parts) > 2 {
		return errors.New("model ID must be in format 'owner/repo_name' or just 'repo_name'")
	}

	if len(parts) == 2 {
		owner := parts[0]
		if owner == "" {
			return errors.New("owner cannot be empty")
		}
		if len(owner) > 96 {
			return errors.New("owner cannot exceed 96 characters")
		}
		if !isValidRepoName(owner) {
			return errors.New("owner contains invalid characters (must match [\\w\\-.]{1,96})")
		}
	}

	repoName := parts[len(parts)-1]
	if repoName == "" {
		return errors.New("repo_name cannot be empty")
	}
	if len(repoName) > 96 {
		return errors.Errorf("repo_name cannot exceed 96 characters (got %d)", len(repoName))
	}
	if !isValidRepoName(repoName) {
		return errors.New("repo_name contains invalid characters (must match [\\w\\-.]{1,96})")
	}
	return nil
}

func isValidRepoName(name string) bool {
	if len(name) == 0 || len(name) > 96 || name == "." || name == ".." {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '_' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

func getHFCachePath(customCacheDir, modelID, revision string) string {
	cacheDir := customCacheDir
	if cacheDir == "" {
		cacheDir = getHFCacheDir()
	}
	sanitized := strings.ReplaceAll(modelID, "/", "--")
	return filepath.Join(cacheDir, "models", sanitized, revision, "tokenizer.json")
}

func getHFCacheDir() string {
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "tokenizers")
	}
	if hfCache := os.Getenv("HF_HUB_CACHE"); hfCache != "" {
		return filepath.Join(hfCache, "..", "tokenizers")
	}
	return filepath.Join(getCacheDir(), "hf")
}

// saveToHFCache writes through a temp file and rename so readers never see a partial file.
func saveToHFCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}
	tempPath := path + ".tmp" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write cache file")
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to save cache file")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// parseRetryAfter parses a Retry-After value given in seconds or as an HTTP
// date, capped at HFMaxRetryAfterDelay. Unparseable values yield 0.
func parseRetryAfter(value string) time.Duration {
	var duration time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		duration = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		duration = time.Until(t)
	}
	if duration < 0 {
		return 0
	}
	if duration > HFMaxRetryAfterDelay {
		return HFMaxRetryAfterDelay
	}
	return duration
}

// checkHFHubCache looks for tokenizer.json in the standard HuggingFace hub
// cache layout (models--owner--name/snapshots/<hash>/tokenizer.json).
func checkHFHubCache(modelID, revision string) ([]byte, error) {
	hubCacheDir := getHFHubCacheDir()
	if hubCacheDir == "" {
		return nil, errors.New("HuggingFace hub cache directory not found")
	}

	repoDir := filepath.Join(hubCacheDir, "models--"+strings.ReplaceAll(modelID, "/", "--"))
	snapshotDir := filepath.Join(repoDir, "snapshots")
	entries, err := os.ReadDir(snapshotDir)
	if err != nil {
		return nil, errors.Wrapf(ErrCacheNotFound, "model not found in HF hub cache: %s", modelID)
	}

	wantHash := ""
	if revision != HFDefaultRevision && revision != "" {
		refData, err := os.ReadFile(filepath.Join(repoDir, "refs", revision))
		if err != nil {
			return nil, errors.Wrapf(ErrCacheNotFound, "revision %s not found in HF hub cache for %s", revision, modelID)
		}
		wantHash = strings.TrimSpace(string(refData))
	}

	var tokenizerPath string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if wantHash != "" && entry.Name() != wantHash {
			continue
		}
		candidate := filepath.Join(snapshotDir, entry.Name(), "tokenizer.json")
		if fileExists(candidate) {
			tokenizerPath = candidate
		}
	}
	if tokenizerPath == "" {
		return nil, errors.Wrapf(ErrCacheNotFound, "tokenizer.json not found in HF hub cache for %s", modelID)
	}

	data, err := os.ReadFile(tokenizerPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tokenizer from HF hub cache")
	}
	if err := ValidateConfig(data); err != nil {
		return nil, errors.Wrap(err, "HF hub cache")
	}
	return data, nil
}

func getHFHubCacheDir() string {
	if hfCache := os.Getenv("HF_HUB_CACHE"); hfCache != "" {
		return hfCache
	}
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "huggingface", "hub")
	}
	return ""
}

// loadFromCacheWithValidation loads tokenizer from cache with optional TTL validation
func loadFromCacheWithValidation(path string, ttl time.Duration) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, errors.Wrap(err, "failed to stat cache file")
	}
	if info.IsDir() {
		return nil, errors.New("cache path is a directory")
	}
	if ttl > 0 && time.Since(info.ModTime()) > ttl {
		return nil, errors.New("cache expired")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache file")
	}
	if err := ValidateConfig(data); err != nil {
		return nil, errors.Wrap(err, "cached tokenizer")
	}
	return data, nil
}
