package tokenizers

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

const (
	GitHubRepo      = "amikos-tech/pure-tokenizers"
	DefaultTag      = "latest"
	DownloadTimeout = 30 * time.Second
)

// GitHubAPIBaseURL is a variable so tests can point it at a mock server.
var GitHubAPIBaseURL = "https://api.github.com"

// getPlatformAssetName returns the expected asset name for the current platform
func getPlatformAssetName() string {
	var arch string
	switch runtime.GOARCH {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	default:
		arch = runtime.GOARCH
	}

	var platform string
	switch runtime.GOOS {
	case "darwin":
		platform = "apple-darwin"
	case "linux":
		if isMusl() {
			platform = "unknown-linux-musl"
		} else {
			platform = "unknown-linux-gnu"
		}
	case "windows":
		platform = "pc-windows-msvc"
	default:
		platform = runtime.GOOS
	}

	return fmt.Sprintf("libtokenizers-%s-%s.tar.gz", arch, platform)
}

type GitHubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []GitHubAsset `json:"assets"`
}

type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Digest             string `json:"digest,omitempty"`
}

// getGitHubRepo returns the GitHub repository to download from
func getGitHubRepo() string {
	if repo := os.Getenv("TOKENIZERS_GITHUB_REPO"); repo != "" {
		return repo
	}
	return GitHubRepo
}

// getVersionTag returns the release tag to download. TOKENIZERS_VERSION must
// be "latest" or a semantic version tag such as v0.1.2.
func getVersionTag() (string, error) {
	tag := os.Getenv("TOKENIZERS_VERSION")
	if tag == "" || tag == DefaultTag {
		return DefaultTag, nil
	}
	if !strings.HasPrefix(tag, "v") {
		tag = "v" + tag
	}
	if !semver.IsValid(tag) {
		return "", errors.Errorf("TOKENIZERS_VERSION %q is not a valid semantic version", tag)
	}
	return tag, nil
}

func releaseURL(repo, version string) string {
	if version == DefaultTag || version == "" {
		return fmt.Sprintf("%s/repos/%s/releases/latest", GitHubAPIBaseURL, repo)
	}
	return fmt.Sprintf("%s/repos/%s/releases/tags/%s", GitHubAPIBaseURL, repo, version)
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "request to %s failed", url)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// downloadFile downloads a file from the given URL to the destination path
func downloadFile(ctx context.Context, url, dest string) error {
	resp, err := httpGet(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", dest)
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrapf(err, "failed to write file %s", dest)
	}
	return nil
}

// verifyChecksum verifies the SHA256 checksum of the downloaded file.
// checksumData may be "abc123" or "abc123  filename.tar.gz".
func verifyChecksum(filePath, checksumData string) error {
	expected := strings.TrimSpace(checksumData)
	if parts := strings.Fields(expected); len(parts) >= 1 {
		expected = parts[0]
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "failed to open file for checksum")
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return errors.Wrap(err, "failed to calculate checksum")
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		return errors.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// extractLibrary extracts the shared library from the tar.gz archive
func extractLibrary(archivePath, destPath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "failed to open archive")
	}
	defer func() {
		_ = file.Close()
	}()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return errors.Wrap(err, "failed to create gzip reader")
	}
	defer func() {
		_ = gzr.Close()
	}()

	tr := tar.NewReader(gzr)
	libraryName := getLibraryName()

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to read tar entry")
		}
		// the library may sit in a subdirectory of the archive
		if strings.HasSuffix(header.Name, libraryName) {
			return writeExecutable(destPath, tr)
		}
	}

	return errors.Errorf("library file %s not found in archive", libraryName)
}

func writeExecutable(destPath string, r io.Reader) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	if _, err := io.Copy(outFile, r); err != nil {
		_ = outFile.Close()
		return errors.Wrap(err, "failed to extract library")
	}
	if err := outFile.Close(); err != nil {
		return errors.Wrap(err, "failed to close extracted library")
	}
	if err := os.Chmod(destPath, 0755); err != nil {
		return errors.Wrap(err, "failed to set library permissions")
	}
	return nil
}

// fetchRelease fetches release metadata from the GitHub API
func fetchRelease(ctx context.Context, url string) (*GitHubRelease, error) {
	resp, err := httpGet(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch release info")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GitHub API request failed with status %d: %s (%s)", resp.StatusCode, resp.Status, url)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, errors.Wrap(err, "failed to decode release JSON")
	}
	return &release, nil
}

// DownloadLibraryFromGitHub downloads the platform library of the release
// named by TOKENIZERS_VERSION (default latest) to destPath.
func DownloadLibraryFromGitHub(ctx context.Context, destPath string) error {
	version, err := getVersionTag()
	if err != nil {
		return err
	}
	return DownloadLibraryFromGitHubWithVersion(ctx, destPath, version)
}

// DownloadLibraryFromGitHubWithVersion downloads a specific version of the library
func DownloadLibraryFromGitHubWithVersion(ctx context.Context, destPath, version string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create destination directory")
	}

	url := releaseURL(getGitHubRepo(), version)
	log().Info("downloading tokenizers library", "release", version, "url", url)
	release, err := fetchRelease(ctx, url)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch release %s", version)
	}
	return downloadAndExtractLibrary(ctx, release, destPath)
}

func downloadAndExtractLibrary(ctx context.Context, release *GitHubRelease, destPath string) error {
	assetName := getPlatformAssetName()
	var assetURL, assetDigest string
	for _, asset := range release.Assets {
		if asset.Name == assetName {
			assetURL = asset.BrowserDownloadURL
			assetDigest = asset.Digest
		}
	}
	if assetURL == "" {
		return errors.Errorf("asset %s not found in release %s", assetName, release.TagName)
	}

	tempDir, err := os.MkdirTemp("", "tokenizers-download")
	if err != nil {
		return errors.Wrap(err, "failed to create temp directory")
	}
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	tempAsset := filepath.Join(tempDir, assetName)
	if err := downloadFile(ctx, assetURL, tempAsset); err != nil {
		return errors.Wrap(err, "failed to download asset")
	}

	if sum, ok := strings.CutPrefix(assetDigest, "sha256:"); ok {
		if err := verifyChecksum(tempAsset, sum); err != nil {
			return errors.Wrap(err, "checksum verification failed")
		}
	} else {
		log().Warn("release asset has no sha256 digest, skipping verification", "asset", assetName)
	}

	if err := extractLibrary(tempAsset, destPath); err != nil {
		return errors.Wrap(err, "failed to extract library")
	}
	return nil
}

// DownloadAndCacheLibrary downloads the library into the cache unless a valid copy is there.
func DownloadAndCacheLibrary() error {
	cachedPath := GetCachedLibraryPath()
	if isLibraryValid(cachedPath) {
		return nil
	}
	return DownloadLibraryFromGitHub(context.Background(), cachedPath)
}

// GetCachedLibraryPath returns the path where the library would be cached
func GetCachedLibraryPath() string {
	return filepath.Join(getCacheDir(), getLibraryName())
}

// ClearLibraryCache removes the cached library file
func ClearLibraryCache() error {
	cachedPath := GetCachedLibraryPath()
	if _, err := os.Stat(cachedPath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(cachedPath)
}

// GetAvailableVersions lists the semantic-version release tags, newest first.
// Tags that are not valid semantic versions are skipped.
func GetAvailableVersions(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases", GitHubAPIBaseURL, getGitHubRepo())
	resp, err := httpGet(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch releases")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GitHub API request failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	var releases []GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, errors.Wrap(err, "failed to decode releases JSON")
	}

	versions := make([]string, 0, len(releases))
	for _, release := range releases {
		if semver.IsValid(release.TagName) {
			versions = append(versions, release.TagName)
		}
	}
	semver.Sort(versions)
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	return versions, nil
}

// IsLibraryCached checks if the library is already cached and valid
func IsLibraryCached() bool {
	return isLibraryValid(GetCachedLibraryPath())
}

// LibraryInfo describes how the native library would be resolved.
type LibraryInfo struct {
	PlatformAsset string            `json:"platform_asset_name"`
	LibraryName   string            `json:"library_name"`
	CachePath     string            `json:"cache_path"`
	IsCached      bool              `json:"is_cached"`
	GitHubRepo    string            `json:"github_repo"`
	Version       string            `json:"version"`
	Environment   map[string]string `json:"environment,omitempty"`
}

// GetLibraryInfo returns information about the current library setup
func GetLibraryInfo() LibraryInfo {
	version, err := getVersionTag()
	if err != nil {
		version = os.Getenv("TOKENIZERS_VERSION")
	}
	info := LibraryInfo{
		PlatformAsset: getPlatformAssetName(),
		LibraryName:   getLibraryName(),
		CachePath:     GetCachedLibraryPath(),
		IsCached:      IsLibraryCached(),
		GitHubRepo:    getGitHubRepo(),
		Version:       version,
		Environment:   map[string]string{},
	}
	for _, key := range []string{libPathEnv, "TOKENIZERS_GITHUB_REPO", "TOKENIZERS_VERSION"} {
		if v := os.Getenv(key); v != "" {
			info.Environment[key] = v
		}
	}
	return info
}
