package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config mirrors ~/.config/pure-nlp/config.yaml. Flags set on the command
// line take precedence over it.
type Config struct {
	Model       string `yaml:"model"`
	Text        string `yaml:"text"`
	ModelsDir   string `yaml:"models_dir"`
	LibraryPath string `yaml:"library_path"`
	HFCacheDir  string `yaml:"hf_cache_dir"`
	Offline     *bool  `yaml:"offline"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pure-nlp", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// applyConfig fills options from the config file where the corresponding
// flag was not set explicitly (command line or environment).
func (o *options) applyConfig(c *cli.Command) error {
	cfg, err := LoadConfig(o.configFile)
	if err != nil {
		return err
	}
	setString := func(flag, value string, dst *string) {
		if value != "" && !c.IsSet(flag) {
			*dst = value
		}
	}
	setString("model", cfg.Model, &o.model)
	setString("text", cfg.Text, &o.text)
	setString("models-dir", cfg.ModelsDir, &o.modelsDir)
	setString("library-path", cfg.LibraryPath, &o.libraryPath)
	setString("hf-cache-dir", cfg.HFCacheDir, &o.hfCacheDir)
	setString("log-level", cfg.LogLevel, &o.logLevel)
	setString("log-format", cfg.LogFormat, &o.logFormat)
	if cfg.Offline != nil && !c.IsSet("offline") {
		o.offline = *cfg.Offline
	}
	return nil
}
