package main

import (
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	nlp "github.com/amikos-tech/pure-nlp"
	"github.com/amikos-tech/pure-nlp/internal/logger"
)

const (
	defaultModel = "en"
	defaultText  = "this is a string"
)

type options struct {
	model       string
	text        string
	modelsDir   string
	libraryPath string
	hfCacheDir  string
	offline     bool
	logLevel    string
	logFormat   string
	debug       bool
	configFile  string
}

func (o *options) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model to load: a registered name, an installed package, hf:owner/repo[@rev], punkt:language or file:path",
			Value:       defaultModel,
			Sources:     cli.EnvVars("PURE_NLP_MODEL"),
			Destination: &o.model,
		},
		&cli.StringFlag{
			Name:        "text",
			Aliases:     []string{"t"},
			Usage:       "text to annotate",
			Value:       defaultText,
			Sources:     cli.EnvVars("PURE_NLP_TEXT"),
			Destination: &o.text,
		},
		&cli.StringFlag{
			Name:        "models-dir",
			Usage:       "directory of installed model packages",
			Value:       nlp.DefaultModelsDir(),
			Sources:     cli.EnvVars("PURE_NLP_MODELS_DIR"),
			Destination: &o.modelsDir,
		},
		&cli.StringFlag{
			Name:        "library-path",
			Usage:       "path to the native tokenizers library used by HuggingFace models",
			Destination: &o.libraryPath,
		},
		&cli.StringFlag{
			Name:        "hf-cache-dir",
			Usage:       "directory for cached tokenizer.json files",
			Destination: &o.hfCacheDir,
		},
		&cli.BoolFlag{
			Name:        "offline",
			Usage:       "never download; use cached models only",
			Sources:     cli.EnvVars("HF_HUB_OFFLINE"),
			Destination: &o.offline,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "warn",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (text, json)",
			Value:       "text",
			Destination: &o.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &o.debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Destination: &o.configFile,
		},
	}
}

func (o *options) logger(w io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(o.logLevel)
	if o.debug {
		level = slog.LevelDebug
	}
	return logger.Build(w, o.logFormat, level)
}

func (o *options) loaderOptions(log logger.Logger) []nlp.LoaderOption {
	opts := []nlp.LoaderOption{
		nlp.WithLogger(log),
		nlp.WithModelsDir(o.modelsDir),
		nlp.WithOffline(o.offline),
	}
	if o.libraryPath != "" {
		opts = append(opts, nlp.WithLibraryPath(o.libraryPath))
	}
	if o.hfCacheDir != "" {
		opts = append(opts, nlp.WithHFCacheDir(o.hfCacheDir))
	}
	return opts
}
