package tokenizers

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned for data that is not a tokenizer.json document.
var ErrInvalidConfig = errors.New("invalid tokenizer.json format")

// ConfigInfo is the subset of tokenizer.json used for diagnostics.
type ConfigInfo struct {
	Version      string
	ModelType    string
	PreTokenizer string
	Normalizer   string
}

type typed struct {
	Type string `json:"type"`
}

type rawConfig struct {
	Version      string `json:"version"`
	Model        *typed `json:"model"`
	PreTokenizer *typed `json:"pre_tokenizer"`
	Normalizer   *typed `json:"normalizer"`
}

// InspectConfig parses the parts of a tokenizer.json document that identify it.
// A document without a "model" object is rejected.
func InspectConfig(data []byte) (ConfigInfo, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return ConfigInfo{}, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if raw.Model == nil {
		return ConfigInfo{}, errors.Wrap(ErrInvalidConfig, "missing model section")
	}
	info := ConfigInfo{Version: raw.Version, ModelType: raw.Model.Type}
	if raw.PreTokenizer != nil {
		info.PreTokenizer = raw.PreTokenizer.Type
	}
	if raw.Normalizer != nil {
		info.Normalizer = raw.Normalizer.Type
	}
	return info, nil
}

// ValidateConfig reports whether data looks like a tokenizer.json document.
func ValidateConfig(data []byte) error {
	_, err := InspectConfig(data)
	return err
}
