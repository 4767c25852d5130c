package tokenizers

import (
	"os"
	"unsafe"

	"github.com/Masterminds/semver/v3"
	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// Result codes returned by the native library.
const (
	codeSuccess                 int32 = 0
	codeInvalidUTF8             int32 = -1
	codeEncodingFailed          int32 = -2
	codeNullOutput              int32 = -3
	codeInvalidTokenizerRef     int32 = -4
	codeNullInput               int32 = -5
	codeTokenizerCreationFailed int32 = -6
	codeInvalidPath             int32 = -7
	codeFileNotFound            int32 = -8
	codeTruncationFailed        int32 = -9
	codePaddingFailed           int32 = -10
	codeDecodeFailed            int32 = -11
	codeCStringConversionFailed int32 = -12
	codeInvalidIDs              int32 = -13
	codeInvalidOptions          int32 = -14
)

const AbiCompatibilityConstraint = "0.1.x"

var (
	// ErrInvalidUTF8 is returned by Encode when the native library rejects the input text.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in input message")
	// ErrLibraryUnavailable is returned when the native library cannot be located or opened.
	ErrLibraryUnavailable = errors.New("tokenizers library unavailable")
)

type tokenizerResult struct {
	Tokenizer unsafe.Pointer
	ErrorCode int32
}

// EncodeOptions mirrors the option struct of the native encode call.
type EncodeOptions struct {
	AddSpecialTokens        bool
	ReturnTypeIDs           bool
	ReturnTokens            bool
	ReturnSpecialTokensMask bool
	ReturnAttentionMask     bool
	ReturnOffsets           bool
}

// Buffer is the native encode output. Owned by the library until freeBuffer.
type Buffer struct {
	IDs               *uint32
	TypeIDs           *uint32
	SpecialTokensMask *uint32
	AttentionMask     *uint32
	Tokens            **byte
	Offsets           *uintptr
	Len               uintptr
}

// EncodeResult is a Go-owned copy of an encoding.
// Offsets holds start,end byte pairs, two entries per token.
type EncodeResult struct {
	IDs     []uint32
	Tokens  []string
	Offsets []uint32
}

// Len is the number of tokens in the encoding.
func (r *EncodeResult) Len() int {
	if len(r.Tokens) > 0 {
		return len(r.Tokens)
	}
	return len(r.IDs)
}

// Offset returns the byte range of token i.
func (r *EncodeResult) Offset(i int) (start, end int, ok bool) {
	if 2*i+1 >= len(r.Offsets) {
		return 0, 0, false
	}
	return int(r.Offsets[2*i]), int(r.Offsets[2*i+1]), true
}

type truncationOptions struct {
	Enabled   bool
	MaxLen    uintptr
	Strategy  uint8
	Direction uint8
	Stride    uintptr
}

type paddingOptions struct {
	Enabled   bool
	Tag       int
	FixedSize uintptr
}

type tokenizerOptions struct {
	AddSpecialTokens bool
	Trunc            truncationOptions
	Pad              paddingOptions
}

type EncodeOption func(eo *EncodeOptions) error

func WithAddSpecialTokens() EncodeOption {
	return func(eo *EncodeOptions) error {
		eo.AddSpecialTokens = true
		return nil
	}
}

func WithReturnTokens() EncodeOption {
	return func(eo *EncodeOptions) error {
		eo.ReturnTokens = true
		return nil
	}
}

func WithReturnOffsets() EncodeOption {
	return func(eo *EncodeOptions) error {
		eo.ReturnOffsets = true
		return nil
	}
}

type TokenizerOption func(t *Tokenizer) error

// WithLibraryPath sets the path to the shared library for the tokenizer. This must be the path to the .so/dylib/dll file that contains the tokenizer implementation.
func WithLibraryPath(path string) TokenizerOption {
	return func(t *Tokenizer) error {
		if path == "" {
			return errors.New("library path cannot be empty")
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return errors.Wrapf(ErrLibraryUnavailable, "shared library does not exist at path: %s", path)
		}
		t.LibraryPath = path
		return nil
	}
}

// WithHFConfig replaces the HuggingFace settings used by FromHuggingFace.
func WithHFConfig(cfg HFConfig) TokenizerOption {
	return func(t *Tokenizer) error {
		t.hfConfig = &cfg
		return nil
	}
}

// Tokenizer is a loaded native tokenizer. Encode may be called from
// multiple goroutines; Close must not race with Encode.
type Tokenizer struct {
	LibraryPath   string
	libh          uintptr
	tokenizerh    unsafe.Pointer
	fromBytes     func(config []byte, bytesLen uint32, opts *tokenizerOptions, result *tokenizerResult) int32
	encode        func(ptr unsafe.Pointer, message string, options *EncodeOptions, buffer *Buffer) int32
	freeTokenizer func(ptr unsafe.Pointer)
	freeBuffer    func(buffer *Buffer)
	vocabSize     func(ptr unsafe.Pointer, size *uint32) int32
	getVersion    func() string
	defaultOpts   EncodeOptions
	hfConfig      *HFConfig
}

func FromFile(configFile string, opts ...TokenizerOption) (*Tokenizer, error) {
	if configFile == "" {
		return nil, errors.New("config file path cannot be empty")
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrModelNotFound, "config file does not exist at path: %s", configFile)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to access config file: %s", configFile)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", configFile)
	}
	return FromBytes(data, opts...)
}

func FromBytes(config []byte, opts ...TokenizerOption) (*Tokenizer, error) {
	tokenizer := &Tokenizer{
		defaultOpts: EncodeOptions{
			ReturnTokens: true,
		},
	}
	constraint, err := semver.NewConstraint(AbiCompatibilityConstraint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse ABI version constraint: %s", AbiCompatibilityConstraint)
	}
	for _, opt := range opts {
		if err := opt(tokenizer); err != nil {
			return nil, errors.Wrapf(err, "failed to apply tokenizer option")
		}
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	libh, err := LoadTokenizerLibrary(tokenizer.LibraryPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load shared library")
	}
	tokenizer.libh = libh
	purego.RegisterLibFunc(&tokenizer.fromBytes, tokenizer.libh, "from_bytes")
	purego.RegisterLibFunc(&tokenizer.encode, tokenizer.libh, "encode")
	purego.RegisterLibFunc(&tokenizer.freeBuffer, tokenizer.libh, "free_buffer")
	purego.RegisterLibFunc(&tokenizer.freeTokenizer, tokenizer.libh, "free_tokenizer")
	purego.RegisterLibFunc(&tokenizer.vocabSize, tokenizer.libh, "vocab_size")
	purego.RegisterLibFunc(&tokenizer.getVersion, tokenizer.libh, "get_version")

	// check the ABI before handing the library any pointers
	if err = tokenizer.abiCheck(constraint); err != nil {
		_ = closeLibrary(tokenizer.libh)
		return nil, errors.Wrap(err, "failed to check tokenizer abi")
	}

	var result tokenizerResult
	rc := tokenizer.fromBytes(config, uint32(len(config)), &tokenizerOptions{}, &result)
	if rc != codeSuccess {
		_ = closeLibrary(tokenizer.libh)
		return nil, errors.Wrapf(errorForCode(rc), "failed to create tokenizer from bytes")
	}
	tokenizer.tokenizerh = result.Tokenizer
	return tokenizer, nil
}

// abiCheck checks that the native library version satisfies the constraint.
func (t *Tokenizer) abiCheck(constraint *semver.Constraints) error {
	if constraint == nil {
		return errors.New("ABI version constraint cannot be nil")
	}
	if t.getVersion == nil {
		return errors.New("getVersion function is not initialized, cannot check ABI version")
	}
	v := t.getVersion()
	ver, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(err, "failed to parse version string: %s", v)
	}
	if !constraint.Check(ver) {
		return errors.Errorf("tokenizer lib version %s is not compatible with supported version constraint %s", v, constraint.String())
	}
	return nil
}

// Version reports the version of the loaded native library.
func (t *Tokenizer) Version() string {
	if t.getVersion == nil {
		return ""
	}
	return t.getVersion()
}

func (t *Tokenizer) Close() error {
	if t.tokenizerh != nil {
		t.freeTokenizer(t.tokenizerh)
		t.tokenizerh = nil
	}
	if t.libh == 0 {
		return nil
	}
	err := closeLibrary(t.libh)
	t.libh = 0
	if err != nil {
		return errors.Errorf("failed to close shared library: %s", err.Error())
	}
	return nil
}

func (t *Tokenizer) Encode(message string, opts ...EncodeOption) (*EncodeResult, error) {
	if t.encode == nil || t.tokenizerh == nil {
		return nil, errors.New("encode function is not initialized or tokenizer is not loaded")
	}
	options := t.defaultOpts
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, errors.Wrap(err, "failed to apply encoding option")
		}
	}
	var buff Buffer
	rc := t.encode(t.tokenizerh, message, &options, &buff)
	if rc < 0 {
		return nil, errors.Wrap(errorForCode(rc), "failed to encode message")
	}
	defer t.freeBuffer(&buff)

	result := &EncodeResult{
		Tokens:  TokensFromBuf(buff),
		Offsets: OffsetsFromBuf(buff),
	}
	if buff.IDs != nil {
		result.IDs = append([]uint32(nil), unsafe.Slice(buff.IDs, buff.Len)...)
	}
	return result, nil
}

func (t *Tokenizer) VocabSize() (uint32, error) {
	if t.vocabSize == nil || t.tokenizerh == nil {
		return 0, errors.New("vocabSize function is not initialized or tokenizer is not loaded")
	}
	var size uint32
	rc := t.vocabSize(t.tokenizerh, &size)
	if rc != codeSuccess {
		return 0, errors.Wrapf(errorForCode(rc), "failed to get vocab size")
	}
	return size, nil
}

func errorForCode(rc int32) error {
	switch rc {
	case codeSuccess:
		return nil
	case codeInvalidUTF8:
		return ErrInvalidUTF8
	case codeEncodingFailed:
		return errors.New("tokenization failed")
	case codeNullOutput:
		return errors.New("internal error: null output buffer")
	case codeInvalidTokenizerRef:
		return errors.New("invalid tokenizer reference")
	case codeNullInput:
		return errors.New("null input provided")
	case codeTokenizerCreationFailed:
		return errors.New("failed to create tokenizer instance")
	case codeInvalidPath:
		return errors.New("invalid file path provided")
	case codeFileNotFound:
		return errors.New("file not found at specified path")
	case codeTruncationFailed:
		return errors.New("truncation failed")
	case codePaddingFailed:
		return errors.New("padding failed")
	case codeDecodeFailed:
		return errors.New("decoding failed")
	case codeCStringConversionFailed:
		return errors.New("C string conversion failed")
	case codeInvalidIDs:
		return errors.New("invalid IDs provided")
	case codeInvalidOptions:
		return errors.New("invalid options provided for encoding")
	default:
		return errors.Errorf("unknown error code: %d", rc)
	}
}
