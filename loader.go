package nlp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/amikos-tech/pure-nlp/tokenizers"
)

// Name schemes understood by Loader.Load.
const (
	SchemeHF    = "hf:"
	SchemeFile  = "file:"
	SchemePunkt = "punkt:"
)

// Files looked for inside an installed model package directory.
const (
	TokenizerFile = "tokenizer.json"
	PunktFile     = "punkt.json"
)

// errPackageNotFound marks resolution failures that mean "nothing by that name".
var errPackageNotFound = errors.New("no such model package")

// Logger receives load diagnostics. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Loader resolves model names into models.
//
// Names are resolved as follows:
//
//	hf:owner/repo[@rev]   tokenizer.json from the HuggingFace Hub (or its caches)
//	file:/path/x.json     tokenizer.json or Punkt training data on disk
//	punkt:language        Punkt model bundled with the sentences library
//	name                  the Registry, then <models dir>/name/{tokenizer,punkt}.json
type Loader struct {
	registry    *Registry
	modelsDir   string
	libraryPath string
	hf          tokenizers.HFConfig
	logger      Logger

	newTokenizer func(config []byte, opts ...tokenizers.TokenizerOption) (encoder, error)
}

type LoaderOption func(l *Loader) error

// WithRegistry replaces the default registry.
func WithRegistry(r *Registry) LoaderOption {
	return func(l *Loader) error {
		if r == nil {
			return errors.New("registry cannot be nil")
		}
		l.registry = r
		return nil
	}
}

// WithModelsDir sets the directory holding installed model packages.
func WithModelsDir(dir string) LoaderOption {
	return func(l *Loader) error {
		l.modelsDir = dir
		return nil
	}
}

// WithLibraryPath sets the path of the native tokenizers library used by
// HuggingFace models.
func WithLibraryPath(path string) LoaderOption {
	return func(l *Loader) error {
		l.libraryPath = path
		return nil
	}
}

// WithHFConfig replaces the HuggingFace download settings.
func WithHFConfig(cfg tokenizers.HFConfig) LoaderOption {
	return func(l *Loader) error {
		l.hf = cfg
		return nil
	}
}

// WithOffline disables downloads; HuggingFace models must already be cached.
func WithOffline(offline bool) LoaderOption {
	return func(l *Loader) error {
		l.hf.OfflineMode = offline
		return nil
	}
}

// WithHFCacheDir overrides the tokenizer.json cache directory.
func WithHFCacheDir(dir string) LoaderOption {
	return func(l *Loader) error {
		l.hf.CacheDir = dir
		return nil
	}
}

func WithLogger(logger Logger) LoaderOption {
	return func(l *Loader) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		l.logger = logger
		return nil
	}
}

// NewLoader returns a Loader with the built-in registry and the default
// HuggingFace settings, modified by opts.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		registry:  DefaultRegistry(),
		modelsDir: DefaultModelsDir(),
		hf:        tokenizers.DefaultHFConfig(),
		logger:    slog.New(slog.DiscardHandler),
		newTokenizer: func(config []byte, opts ...tokenizers.TokenizerOption) (encoder, error) {
			return tokenizers.FromBytes(config, opts...)
		},
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, errors.Wrap(err, "failed to apply loader option")
		}
	}
	return l, nil
}

// Load is shorthand for NewLoader(opts...) followed by Load(ctx, name).
func Load(ctx context.Context, name string, opts ...LoaderOption) (Model, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, &ModelLoadError{Name: name, Err: err}
	}
	return l.Load(ctx, name)
}

// DefaultModelsDir is where installed model packages are looked up:
// $XDG_DATA_HOME/pure-nlp/models, or ~/.local/share/pure-nlp/models.
func DefaultModelsDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "pure-nlp", "models")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "pure-nlp", "models")
	}
	return ""
}

// Load resolves name into a model. Names that resolve to nothing yield a
// *ModelNotFoundError; models that exist but cannot be initialised yield a
// *ModelLoadError.
func (l *Loader) Load(ctx context.Context, name string) (Model, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ModelNotFoundError{Name: name, Err: errors.New("model name cannot be empty")}
	}
	l.logger.Debug("loading model", "model", name)

	m, err := l.resolve(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, &ModelNotFoundError{Name: name, Err: err}
		}
		return nil, &ModelLoadError{Name: name, Err: err}
	}
	l.logger.Debug("model loaded", "model", m.Name())
	return m, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errPackageNotFound) ||
		errors.Is(err, tokenizers.ErrModelNotFound) ||
		errors.Is(err, tokenizers.ErrOffline)
}

func (l *Loader) resolve(ctx context.Context, name string) (Model, error) {
	switch {
	case strings.HasPrefix(name, SchemeHF):
		return l.loadHub(ctx, name, strings.TrimPrefix(name, SchemeHF))
	case strings.HasPrefix(name, SchemeFile):
		return l.loadFile(name, strings.TrimPrefix(name, SchemeFile))
	case strings.HasPrefix(name, SchemePunkt):
		training, err := punktAsset(strings.TrimPrefix(name, SchemePunkt))
		if err != nil {
			return nil, err
		}
		return newPunktModel(name, training)
	}

	if f, ok := l.registry.Lookup(name); ok {
		return f(ctx, name)
	}
	return l.loadInstalled(name)
}

func (l *Loader) loadHub(ctx context.Context, name, ref string) (Model, error) {
	modelID, revision, _ := strings.Cut(ref, "@")
	cfg := l.hf
	if revision != "" {
		cfg.Revision = revision
	}
	data, err := tokenizers.FetchTokenizerConfig(ctx, modelID, cfg)
	if err != nil {
		return nil, err
	}
	return l.tokenizerModel(name, data)
}

func (l *Loader) tokenizerModel(name string, data []byte) (Model, error) {
	if info, err := tokenizers.InspectConfig(data); err == nil {
		l.logger.Debug("building tokenizer", "model", name, "type", info.ModelType, "pre_tokenizer", info.PreTokenizer)
	}
	var opts []tokenizers.TokenizerOption
	if l.libraryPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(l.libraryPath))
	}
	enc, err := l.newTokenizer(data, opts...)
	if err != nil {
		return nil, err
	}
	return &hfModel{name: name, enc: enc}, nil
}

// loadFile loads a tokenizer.json or Punkt training file.
func (l *Loader) loadFile(name, path string) (Model, error) {
	if path == "" {
		return nil, errors.Wrap(errPackageNotFound, "empty file path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errPackageNotFound, "no file at %s", path)
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if isPunktTraining(data) {
		return newPunktModel(name, data)
	}
	if err := tokenizers.ValidateConfig(data); err != nil {
		return nil, errors.Wrapf(err, "%s is neither a tokenizer.json nor punkt training data", path)
	}
	return l.tokenizerModel(name, data)
}

// loadInstalled looks for a package directory named name in the models dir.
func (l *Loader) loadInstalled(name string) (Model, error) {
	if !isPackageName(name) {
		return nil, errors.Wrapf(errPackageNotFound, "%q is not a registered model or a valid package name", name)
	}
	if l.modelsDir == "" {
		return nil, errors.Wrapf(errPackageNotFound, "%q is not registered and no models directory is configured", name)
	}
	dir := filepath.Join(l.modelsDir, name)
	for _, file := range []string{TokenizerFile, PunktFile} {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err == nil {
			l.logger.Debug("found installed model package", "model", name, "path", path)
			return l.loadFile(name, path)
		}
	}
	return nil, errors.Wrapf(errPackageNotFound, "%q is not registered and not installed in %s", name, l.modelsDir)
}

func isPackageName(name string) bool {
	if name == "." || name == ".." {
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

// isPunktTraining reports whether data is a JSON object carrying Punkt
// parameter sets.
func isPunktTraining(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, abbrev := fields["AbbrevTypes"]
	_, starters := fields["SentStarters"]
	return abbrev || starters
}
